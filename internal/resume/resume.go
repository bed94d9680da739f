// Package resume decides which tasks of a phase still need to run.
//
// The decision is replayed from git on every call: a task is completed when
// a branch named {runID}-task-{taskID}-* exists and has at least one commit
// that the phase base does not. Nothing is cached between calls and no job
// state is consulted, so a stale in-memory status can never hide or repeat work.
package resume

import (
	"context"

	"github.com/arittr/spectacular-codex/internal/branchstate"
	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/logging"
	"github.com/arittr/spectacular-codex/internal/plan"
)

// CompletedTask is a task whose work already exists in git.
type CompletedTask struct {
	plan.Task
	Branch      string
	CommitCount int
}

// ExistingWork partitions a phase's tasks. Both lists keep phase order.
type ExistingWork struct {
	Completed []CompletedTask
	Pending   []plan.Task
}

// AllCompleted reports whether nothing is left to run.
func (w ExistingWork) AllCompleted() bool {
	return len(w.Pending) == 0
}

// Engine computes ExistingWork from branch state.
type Engine struct {
	reader branchstate.Reader
	logger *logging.Logger
}

// NewEngine creates an Engine reading through reader.
func NewEngine(reader branchstate.Reader, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Engine{reader: reader, logger: logger.WithComponent("resume")}
}

// CheckExistingWork partitions phase's tasks into completed and pending by
// inspecting the repository at workdir. baseRef is the ref the phase builds
// on; a branch with no commits beyond it counts as not started.
//
// Both lists follow ascending task index.
//
// When several branches match a task, the lexicographically first is used.
// Task branch names are expected to be unique per task.
func (e *Engine) CheckExistingWork(ctx context.Context, phase plan.Phase, runID plan.RunID, workdir, baseRef string) (ExistingWork, error) {
	work := ExistingWork{
		Completed: []CompletedTask{},
		Pending:   []plan.Task{},
	}
	log := e.logger.WithRun(runID.String()).WithPhase(phase.ID)

	for _, task := range phase.Ordered().Tasks {
		prefix := plan.TaskBranchPrefix(runID, task.ID)
		branches, err := e.reader.ListBranches(ctx, workdir, prefix)
		if err != nil {
			return ExistingWork{}, errors.NewPhaseError("resume check failed", err).
				WithRun(runID.String()).
				WithPhase(phase.ID).
				WithTaskID(task.ID)
		}
		if len(branches) == 0 {
			work.Pending = append(work.Pending, task)
			continue
		}

		branch := branches[0]
		if len(branches) > 1 {
			log.Warn("multiple branches match task, using first", "task_id", task.ID, "branches", branches)
		}

		ahead, err := e.reader.CommitsAhead(ctx, workdir, baseRef, branch)
		if err != nil {
			return ExistingWork{}, errors.NewPhaseError("resume check failed", err).
				WithRun(runID.String()).
				WithPhase(phase.ID).
				WithTaskID(task.ID)
		}
		if ahead < 1 {
			log.Debug("task branch has no commits, treating as pending", "task_id", task.ID, "branch", branch)
			work.Pending = append(work.Pending, task)
			continue
		}

		work.Completed = append(work.Completed, CompletedTask{Task: task, Branch: branch, CommitCount: ahead})
	}

	log.Info("resume check",
		"completed", len(work.Completed),
		"pending", len(work.Pending),
		"base", baseRef)
	return work, nil
}
