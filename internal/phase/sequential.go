package phase

import (
	"context"
	"errors"

	apperrors "github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/plan"
	"github.com/arittr/spectacular-codex/internal/resume"
)

// Sequential runs pending tasks one after another in the run's main worktree.
type Sequential struct {
	deps Deps
}

// NewSequential creates a sequential executor.
func NewSequential(deps Deps) *Sequential {
	return &Sequential{deps: deps}
}

// Run executes the phase. The first failing task fails the job and the phase;
// later tasks are never started.
func (e *Sequential) Run(ctx context.Context, ph plan.Phase, p *plan.Plan, j *job.Handle) error {
	d := e.deps
	log := d.logger().WithRun(p.RunID.String()).WithPhase(ph.ID)
	base := baseRef(j)
	ph = ph.Ordered()

	work, err := partition(ctx, d, ph, p, j, base)
	if err != nil {
		j.Fail(err)
		return err
	}
	if work.AllCompleted() {
		log.Info("phase already complete in git, nothing to run")
		return nil
	}

	owner := leaseOwner(p.RunID, ph.ID)
	leases := d.Worktrees.Leases()
	mainPath := d.Worktrees.MainPath(p.RunID.String())
	if err := leases.Acquire(owner, mainPath); err != nil {
		j.Fail(err)
		return err
	}
	defer func() { _ = leases.Release(owner, mainPath) }()

	start := startRef(ph, work, base)
	workdir, err := d.Worktrees.EnsureMain(ctx, p.RunID.String(), start)
	if err != nil {
		perr := apperrors.NewPhaseError("failed to prepare main worktree", err).
			WithRun(p.RunID.String()).
			WithPhase(ph.ID)
		j.Fail(perr)
		return perr
	}
	log.Info("running tasks in order", "count", len(work.Pending), "start", start)

	for _, task := range work.Pending {
		if err := ctx.Err(); err != nil {
			j.Fail(err)
			return err
		}

		j.UpsertTask(job.TaskStatus{ID: task.ID, Status: job.TaskRunning})
		st := runTask(ctx, d, ph, p, task, workdir, base)
		j.UpsertTask(st)

		if st.Status == job.TaskFailed {
			ferr := &TaskFailedError{
				RunID:  p.RunID,
				Phase:  ph.ID,
				TaskID: task.ID,
				Err:    errors.New(st.Error),
			}
			j.Fail(ferr)
			return ferr
		}
	}
	return nil
}

// startRef returns where the main worktree starts: the branch of the last
// completed task before the first pending one, or base when there is none.
func startRef(ph plan.Phase, work resume.ExistingWork, base string) string {
	if len(work.Pending) == 0 {
		return base
	}
	branches := make(map[string]string, len(work.Completed))
	for _, c := range work.Completed {
		branches[c.ID] = c.Branch
	}

	ref := base
	firstPending := work.Pending[0].ID
	for _, task := range ph.Tasks {
		if task.ID == firstPending {
			break
		}
		if b := branches[task.ID]; b != "" {
			ref = b
		}
	}
	return ref
}
