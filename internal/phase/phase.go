// Package phase executes the pending tasks of one plan phase.
//
// Two executors share one contract and differ in concurrency policy:
//
//   - Parallel runs every pending task at once, each in its own worktree,
//     waits for all of them, stacks the resulting branches and tears the
//     worktrees down. A failing task never stops its siblings.
//   - Sequential runs pending tasks one at a time in the run's shared main
//     worktree, so every task commits on top of the previous one, and stops
//     at the first failure.
//
// Both start by asking the resume engine which tasks git already holds and
// record those as completed without running them. Executors report task
// outcomes through the job handle and return an error only for failures that
// end the phase.
package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arittr/spectacular-codex/internal/agent"
	apperrors "github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/logging"
	"github.com/arittr/spectacular-codex/internal/plan"
	"github.com/arittr/spectacular-codex/internal/prompt"
	"github.com/arittr/spectacular-codex/internal/resume"
	"github.com/arittr/spectacular-codex/internal/stack"
	"github.com/arittr/spectacular-codex/internal/worktree"
)

// Executor runs one phase of a plan, mutating j in place.
type Executor interface {
	Run(ctx context.Context, ph plan.Phase, p *plan.Plan, j *job.Handle) error
}

// ResumeChecker partitions a phase into completed and pending tasks.
type ResumeChecker interface {
	CheckExistingWork(ctx context.Context, ph plan.Phase, runID plan.RunID, workdir, baseRef string) (resume.ExistingWork, error)
}

// Worktrees is the subset of worktree.Manager the executors use.
type Worktrees interface {
	CreateTask(ctx context.Context, runID, taskID, baseRef string) (string, error)
	EnsureMain(ctx context.Context, runID, baseRef string) (string, error)
	MainPath(runID string) string
	Remove(ctx context.Context, path string) error
	Leases() *worktree.Leases
}

var _ Worktrees = (*worktree.Manager)(nil)

// Deps holds the collaborators shared by both executors.
type Deps struct {
	// RepoDir is the repository the run operates on. Required.
	RepoDir string
	// Resume decides which tasks still need to run. Required.
	Resume ResumeChecker
	// Agent performs the tasks. Required.
	Agent agent.Client
	// Worktrees provides isolated checkouts. Required.
	Worktrees Worktrees
	// Stacker linearizes parallel branches. Nil disables stacking.
	Stacker stack.Backend
	// MaxParallel caps concurrent tasks in a parallel phase; 0 means no cap.
	MaxParallel int
	// Logger may be nil.
	Logger *logging.Logger
	// Bus receives task lifecycle events. May be nil.
	Bus *event.Bus
}

// Validation errors for Deps.
var (
	ErrNoRepoDir   = errors.New("phase deps: repository directory is required")
	ErrNoResume    = errors.New("phase deps: resume checker is required")
	ErrNoAgent     = errors.New("phase deps: agent client is required")
	ErrNoWorktrees = errors.New("phase deps: worktree manager is required")
)

// Validate reports the first missing required dependency.
func (d Deps) Validate() error {
	switch {
	case d.RepoDir == "":
		return ErrNoRepoDir
	case d.Resume == nil:
		return ErrNoResume
	case d.Agent == nil:
		return ErrNoAgent
	case d.Worktrees == nil:
		return ErrNoWorktrees
	}
	return nil
}

func (d Deps) logger() *logging.Logger {
	if d.Logger == nil {
		return logging.NopLogger()
	}
	return d.Logger
}

// ForStrategy returns the executor for a phase strategy.
func ForStrategy(s plan.Strategy, deps Deps) (Executor, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	switch s {
	case plan.StrategyParallel:
		return NewParallel(deps), nil
	case plan.StrategySequential:
		return NewSequential(deps), nil
	default:
		return nil, apperrors.NewValidationError("unknown phase strategy").
			WithField("strategy").
			WithValue(string(s))
	}
}

// TaskFailedError stops a sequential phase.
type TaskFailedError struct {
	RunID  plan.RunID
	Phase  int
	TaskID string
	Err    error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("phase %d: task %s failed: %v", e.Phase, e.TaskID, e.Err)
}

func (e *TaskFailedError) Unwrap() error { return e.Err }

func (e *TaskFailedError) Is(target error) bool {
	return target == apperrors.ErrTaskFailed
}

// baseRef returns the ref the current phase builds on.
func baseRef(j *job.Handle) string {
	if ref := j.BaseRef(); ref != "" {
		return ref
	}
	return "HEAD"
}

// partition runs the resume check and records already-completed tasks.
func partition(ctx context.Context, d Deps, ph plan.Phase, p *plan.Plan, j *job.Handle, base string) (resume.ExistingWork, error) {
	work, err := d.Resume.CheckExistingWork(ctx, ph, p.RunID, d.RepoDir, base)
	if err != nil {
		return resume.ExistingWork{}, err
	}
	for _, done := range work.Completed {
		j.UpsertTask(job.TaskStatus{ID: done.ID, Status: job.TaskCompleted, Branch: done.Branch, Resumed: true})
		d.Bus.Publish(event.NewTaskResumedEvent(p.RunID.String(), done.ID, done.Branch, done.CommitCount))
	}
	d.Bus.Publish(event.NewPhaseStartedEvent(p.RunID.String(), ph.ID, string(ph.Strategy), len(work.Pending), len(work.Completed)))
	return work, nil
}

// runTask executes one task in workdir and returns its terminal status.
func runTask(ctx context.Context, d Deps, ph plan.Phase, p *plan.Plan, task plan.Task, workdir, base string) job.TaskStatus {
	log := d.logger().WithRun(p.RunID.String()).WithPhase(ph.ID).WithTask(task.ID)
	d.Bus.Publish(event.NewTaskStartedEvent(p.RunID.String(), task.ID, workdir))
	start := time.Now()

	status := executeTask(ctx, d, ph, p, task, workdir, base)

	if status.Status == job.TaskFailed {
		log.Error("task failed", "error", status.Error, "duration", time.Since(start))
	} else {
		log.Info("task completed", "branch", status.Branch, "duration", time.Since(start))
	}
	d.Bus.Publish(event.NewTaskFinishedEvent(p.RunID.String(), task.ID, string(ph.Strategy),
		status.Status == job.TaskCompleted, status.Branch, status.Error, time.Since(start)))
	return status
}

func executeTask(ctx context.Context, d Deps, ph plan.Phase, p *plan.Plan, task plan.Task, workdir, base string) job.TaskStatus {
	text, err := prompt.Task(p, ph, task, base, workdir)
	if err != nil {
		return job.TaskStatus{ID: task.ID, Status: job.TaskFailed, Error: err.Error()}
	}

	res, err := d.Agent.Execute(ctx, text, workdir)
	if err != nil {
		return job.TaskStatus{ID: task.ID, Status: job.TaskFailed, Error: err.Error()}
	}

	status := job.TaskStatus{ID: task.ID, Status: job.TaskCompleted}
	if branch, ok := agent.ExtractBranch(res.RawOutput); ok {
		status.Branch = branch
	} else {
		d.logger().WithTask(task.ID).Warn("agent reported no branch")
	}
	return status
}

// leaseOwner names the holder of a run's main worktree during a phase.
func leaseOwner(runID plan.RunID, phaseID int) string {
	return fmt.Sprintf("%s/phase-%d", runID, phaseID)
}
