package job

import (
	"time"

	"github.com/arittr/spectacular-codex/internal/plan"
)

// Handle is the write side of one job. It is shared by the orchestrator and
// the executors running the job's phases.
type Handle struct {
	store *Store
	job   *Job
}

// RunID returns the run the handle belongs to.
func (h *Handle) RunID() plan.RunID {
	return h.job.RunID
}

// SetPhase records that phase is now executing.
func (h *Handle) SetPhase(phase int) {
	h.store.update(h, func(j *Job) {
		now := h.store.now()
		j.Phase = phase
		j.PhaseStartedAt = &now
	})
}

// SetBaseRef records the ref the current phase builds on.
func (h *Handle) SetBaseRef(ref string) {
	h.store.update(h, func(j *Job) { j.BaseRef = ref })
}

// BaseRef returns the ref the current phase builds on.
func (h *Handle) BaseRef() string {
	var ref string
	h.store.update(h, func(j *Job) { ref = j.BaseRef })
	return ref
}

// UpsertTask appends ts, or replaces the existing entry with the same id in
// place. Entries are never removed.
func (h *Handle) UpsertTask(ts TaskStatus) {
	h.store.update(h, func(j *Job) {
		for i := range j.Tasks {
			if j.Tasks[i].ID == ts.ID {
				j.Tasks[i] = ts
				return
			}
		}
		j.Tasks = append(j.Tasks, ts)
	})
}

// Warn appends a non-fatal warning.
func (h *Handle) Warn(msg string) {
	h.store.update(h, func(j *Job) { j.Warnings = append(j.Warnings, msg) })
}

// Fail marks the job failed with err. The first failure wins; later calls
// keep the original error.
func (h *Handle) Fail(err error) {
	h.store.update(h, func(j *Job) {
		if j.Status == StatusFailed {
			return
		}
		now := h.store.now()
		j.Status = StatusFailed
		j.CompletedAt = &now
		if err != nil {
			j.Error = err.Error()
		}
	})
}

// Complete marks the job completed unless it already failed.
func (h *Handle) Complete() {
	h.store.update(h, func(j *Job) {
		if j.Status != StatusRunning {
			return
		}
		now := h.store.now()
		j.Status = StatusCompleted
		j.CompletedAt = &now
	})
}

// Snapshot returns a copy of the job's current state.
func (h *Handle) Snapshot() Job {
	var snap Job
	h.store.update(h, func(j *Job) { snap = j.clone() })
	return snap
}
