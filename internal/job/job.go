// Package job tracks the in-memory state of running orchestrations.
//
// A Store maps run ids to jobs for the lifetime of the process. It is passed
// explicitly to whoever needs it; there is no package-level instance. Jobs are
// advisory: durable task completion lives in git branches, and a restarted
// process simply recomputes it.
//
// Executors mutate a job through its Handle. Every mutation takes the store
// lock, so concurrent task goroutines may update their own entries freely.
package job

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/plan"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskState is the lifecycle state of one task within a job.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// TaskStatus is the job's record of one touched task.
type TaskStatus struct {
	ID     string    `json:"id"`
	Status TaskState `json:"status"`
	Branch string    `json:"branch,omitempty"`
	Error  string    `json:"error,omitempty"`

	// Resumed marks work found in git rather than run by this process.
	Resumed bool `json:"resumed,omitempty"`
}

// Job is a snapshot of a run's runtime state.
type Job struct {
	RunID          plan.RunID   `json:"run_id"`
	Phase          int          `json:"phase"`
	TotalPhases    int          `json:"total_phases"`
	Status         Status       `json:"status"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	PhaseStartedAt *time.Time   `json:"phase_started_at,omitempty"`
	BaseRef        string       `json:"base_ref,omitempty"`
	Error          string       `json:"error,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`
	Tasks          []TaskStatus `json:"tasks"`
}

// Task returns the entry for id.
func (j Job) Task(id string) (TaskStatus, bool) {
	for _, t := range j.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskStatus{}, false
}

// CountTasks returns how many entries are in state.
func (j Job) CountTasks(state TaskState) int {
	n := 0
	for _, t := range j.Tasks {
		if t.Status == state {
			n++
		}
	}
	return n
}

func (j *Job) clone() Job {
	c := *j
	c.Tasks = slices.Clone(j.Tasks)
	c.Warnings = slices.Clone(j.Warnings)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.PhaseStartedAt != nil {
		t := *j.PhaseStartedAt
		c.PhaseStartedAt = &t
	}
	return c
}

// Store is the process-wide registry of jobs.
type Store struct {
	mu   sync.Mutex
	jobs map[plan.RunID]*Job
	now  func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{jobs: make(map[plan.RunID]*Job), now: time.Now}
}

// Start registers a running job for runID. It fails with ErrRunInProgress if
// a job for the same run is still running; a terminal job is replaced.
func (s *Store) Start(runID plan.RunID, totalPhases int) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[runID]; ok && existing.Status == StatusRunning {
		return nil, errors.Wrapf(errors.ErrRunInProgress, "run %s", runID)
	}
	j := &Job{
		RunID:       runID,
		TotalPhases: totalPhases,
		Status:      StatusRunning,
		StartedAt:   s.now(),
		Tasks:       []TaskStatus{},
	}
	s.jobs[runID] = j
	return &Handle{store: s, job: j}, nil
}

// Get returns a snapshot of the job for runID.
func (s *Store) Get(runID plan.RunID) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[runID]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// Observe returns a snapshot like Get and discards the job if it is terminal.
// A later query for the same run reports not found.
func (s *Store) Observe(runID plan.RunID) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[runID]
	if !ok {
		return Job{}, false
	}
	snap := j.clone()
	if j.Status.Terminal() {
		delete(s.jobs, runID)
	}
	return snap, true
}

// List returns snapshots of every tracked job, oldest first.
func (s *Store) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.clone())
	}
	slices.SortFunc(out, func(a, b Job) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RunID, b.RunID)
	})
	return out
}

// update applies fn to the handle's job under the store lock.
func (s *Store) update(h *Handle, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(h.job)
}
