package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.completed", "phase.started")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeRunStarted      = "run.started"
	TypeRunFinished     = "run.finished"
	TypePhaseStarted    = "phase.started"
	TypePhaseFinished   = "phase.finished"
	TypeTaskStarted     = "task.started"
	TypeTaskFinished    = "task.finished"
	TypeTaskResumed     = "task.resumed"
	TypeReviewVerdict   = "review.verdict"
	TypeStackingWarning = "stacking.warning"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Run Events
// -----------------------------------------------------------------------------

// RunStartedEvent is emitted when a run begins executing its first phase.
type RunStartedEvent struct {
	baseEvent
	RunID       string
	TotalPhases int
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(runID string, totalPhases int) RunStartedEvent {
	return RunStartedEvent{
		baseEvent:   newBaseEvent(TypeRunStarted),
		RunID:       runID,
		TotalPhases: totalPhases,
	}
}

// RunFinishedEvent is emitted when a run reaches a terminal state.
type RunFinishedEvent struct {
	baseEvent
	RunID    string
	Success  bool
	Error    string
	Duration time.Duration
}

// NewRunFinishedEvent creates a RunFinishedEvent.
func NewRunFinishedEvent(runID string, success bool, errMsg string, duration time.Duration) RunFinishedEvent {
	return RunFinishedEvent{
		baseEvent: newBaseEvent(TypeRunFinished),
		RunID:     runID,
		Success:   success,
		Error:     errMsg,
		Duration:  duration,
	}
}

// -----------------------------------------------------------------------------
// Phase Events
// -----------------------------------------------------------------------------

// PhaseStartedEvent is emitted when a phase is entered, after resume
// partitioning.
type PhaseStartedEvent struct {
	baseEvent
	RunID    string
	Phase    int
	Strategy string
	Pending  int
	Resumed  int
}

// NewPhaseStartedEvent creates a PhaseStartedEvent.
func NewPhaseStartedEvent(runID string, phase int, strategy string, pending, resumed int) PhaseStartedEvent {
	return PhaseStartedEvent{
		baseEvent: newBaseEvent(TypePhaseStarted),
		RunID:     runID,
		Phase:     phase,
		Strategy:  strategy,
		Pending:   pending,
		Resumed:   resumed,
	}
}

// PhaseFinishedEvent is emitted when a phase is done, including its review.
type PhaseFinishedEvent struct {
	baseEvent
	RunID    string
	Phase    int
	Strategy string
	Success  bool
	Duration time.Duration
}

// NewPhaseFinishedEvent creates a PhaseFinishedEvent.
func NewPhaseFinishedEvent(runID string, phase int, strategy string, success bool, duration time.Duration) PhaseFinishedEvent {
	return PhaseFinishedEvent{
		baseEvent: newBaseEvent(TypePhaseFinished),
		RunID:     runID,
		Phase:     phase,
		Strategy:  strategy,
		Success:   success,
		Duration:  duration,
	}
}

// -----------------------------------------------------------------------------
// Task Events
// -----------------------------------------------------------------------------

// TaskStartedEvent is emitted right before a task's agent is invoked.
type TaskStartedEvent struct {
	baseEvent
	RunID        string
	TaskID       string
	WorktreePath string
}

// NewTaskStartedEvent creates a TaskStartedEvent.
func NewTaskStartedEvent(runID, taskID, worktreePath string) TaskStartedEvent {
	return TaskStartedEvent{
		baseEvent:    newBaseEvent(TypeTaskStarted),
		RunID:        runID,
		TaskID:       taskID,
		WorktreePath: worktreePath,
	}
}

// TaskFinishedEvent is emitted when a task's agent call settles.
type TaskFinishedEvent struct {
	baseEvent
	RunID    string
	TaskID   string
	Strategy string
	Success  bool
	Branch   string
	Error    string
	Duration time.Duration
}

// NewTaskFinishedEvent creates a TaskFinishedEvent.
func NewTaskFinishedEvent(runID, taskID, strategy string, success bool, branch, errMsg string, duration time.Duration) TaskFinishedEvent {
	return TaskFinishedEvent{
		baseEvent: newBaseEvent(TypeTaskFinished),
		RunID:     runID,
		TaskID:    taskID,
		Strategy:  strategy,
		Success:   success,
		Branch:    branch,
		Error:     errMsg,
		Duration:  duration,
	}
}

// TaskResumedEvent is emitted for a task found already completed in git.
type TaskResumedEvent struct {
	baseEvent
	RunID       string
	TaskID      string
	Branch      string
	CommitCount int
}

// NewTaskResumedEvent creates a TaskResumedEvent.
func NewTaskResumedEvent(runID, taskID, branch string, commitCount int) TaskResumedEvent {
	return TaskResumedEvent{
		baseEvent:   newBaseEvent(TypeTaskResumed),
		RunID:       runID,
		TaskID:      taskID,
		Branch:      branch,
		CommitCount: commitCount,
	}
}

// -----------------------------------------------------------------------------
// Review and Stacking Events
// -----------------------------------------------------------------------------

// ReviewVerdictEvent is emitted for every parsed review verdict.
type ReviewVerdictEvent struct {
	baseEvent
	RunID      string
	Phase      int
	Approved   bool
	Rejections int
}

// NewReviewVerdictEvent creates a ReviewVerdictEvent.
func NewReviewVerdictEvent(runID string, phase int, approved bool, rejections int) ReviewVerdictEvent {
	return ReviewVerdictEvent{
		baseEvent:  newBaseEvent(TypeReviewVerdict),
		RunID:      runID,
		Phase:      phase,
		Approved:   approved,
		Rejections: rejections,
	}
}

// StackingWarningEvent is emitted when stacking fails without failing the phase.
type StackingWarningEvent struct {
	baseEvent
	RunID    string
	Phase    int
	Backend  string
	Branches []string
	Error    string
}

// NewStackingWarningEvent creates a StackingWarningEvent.
func NewStackingWarningEvent(runID string, phase int, backend string, branches []string, errMsg string) StackingWarningEvent {
	return StackingWarningEvent{
		baseEvent: newBaseEvent(TypeStackingWarning),
		RunID:     runID,
		Phase:     phase,
		Backend:   backend,
		Branches:  branches,
		Error:     errMsg,
	}
}
