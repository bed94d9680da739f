package phase

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/plan"
)

// Parallel runs pending tasks concurrently and waits for all of them.
type Parallel struct {
	deps Deps
}

// NewParallel creates a parallel executor.
func NewParallel(deps Deps) *Parallel {
	return &Parallel{deps: deps}
}

// Run executes the phase. Task failures are recorded on the job and do not
// stop other tasks or make Run fail; only setup and coordination failures do.
func (e *Parallel) Run(ctx context.Context, ph plan.Phase, p *plan.Plan, j *job.Handle) error {
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

	paths := make([]string, len(work.Pending))
	defer func() {
		// Worktrees go away on every path out of Run.
		for _, path := range paths {
			if path == "" {
				continue
			}
			if err := d.Worktrees.Remove(context.WithoutCancel(ctx), path); err != nil {
				log.Warn("worktree cleanup failed", "path", path, "error", err)
			}
		}
	}()

	for i, task := range work.Pending {
		path, err := d.Worktrees.CreateTask(ctx, p.RunID.String(), task.ID, base)
		if err != nil {
			perr := apperrors.NewPhaseError("failed to create task worktree", err).
				WithRun(p.RunID.String()).
				WithPhase(ph.ID).
				WithTaskID(task.ID)
			j.Fail(perr)
			return perr
		}
		paths[i] = path
		j.UpsertTask(job.TaskStatus{ID: task.ID, Status: job.TaskPending})
	}

	var sem *semaphore.Weighted
	if d.MaxParallel > 0 {
		sem = semaphore.NewWeighted(int64(d.MaxParallel))
	}

	log.Info("launching tasks", "count", len(work.Pending), "max_parallel", d.MaxParallel)
	results := make([]job.TaskStatus, len(work.Pending))
	var wg conc.WaitGroup
	for i, task := range work.Pending {
		wg.Go(func() {
			results[i] = e.runOne(ctx, ph, p, j, task, paths[i], base, sem)
		})
	}
	wg.Wait()

	var branches []string
	completed := make(map[string]string, len(work.Completed)+len(results))
	for _, done := range work.Completed {
		completed[done.ID] = done.Branch
	}
	for _, r := range results {
		if r.Status == job.TaskCompleted && r.Branch != "" {
			completed[r.ID] = r.Branch
		}
	}
	for _, task := range ph.Tasks {
		if branch, ok := completed[task.ID]; ok && branch != "" {
			branches = append(branches, branch)
		}
	}

	// Branches checked out in task worktrees cannot be rewritten, so the
	// worktrees are removed before stacking, even when ctx is already done.
	for i, path := range paths {
		if path == "" {
			continue
		}
		if err := d.Worktrees.Remove(context.WithoutCancel(ctx), path); err != nil {
			log.Warn("worktree cleanup failed", "path", path, "error", err)
		}
		paths[i] = ""
	}

	e.stack(ctx, ph, p, j, branches, base)
	return nil
}

// runOne executes a single task, turning panics and limiter failures into a
// failed status.
func (e *Parallel) runOne(ctx context.Context, ph plan.Phase, p *plan.Plan, j *job.Handle, task plan.Task, path, base string, sem *semaphore.Weighted) job.TaskStatus {
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			st := job.TaskStatus{ID: task.ID, Status: job.TaskFailed, Error: err.Error()}
			j.UpsertTask(st)
			return st
		}
		defer sem.Release(1)
	}

	j.UpsertTask(job.TaskStatus{ID: task.ID, Status: job.TaskRunning})

	var st job.TaskStatus
	var pc panics.Catcher
	pc.Try(func() {
		st = runTask(ctx, e.deps, ph, p, task, path, base)
	})
	if r := pc.Recovered(); r != nil {
		st = job.TaskStatus{ID: task.ID, Status: job.TaskFailed, Error: fmt.Sprintf("task panicked: %v", r.Value)}
		e.deps.logger().WithTask(task.ID).Error("task panicked", "panic", r.String())
	}

	j.UpsertTask(st)
	return st
}

// stack linearizes branches onto base in the run's main worktree. Every
// failure becomes a job warning.
func (e *Parallel) stack(ctx context.Context, ph plan.Phase, p *plan.Plan, j *job.Handle, branches []string, base string) {
	d := e.deps
	if d.Stacker == nil || len(branches) == 0 {
		return
	}
	log := d.logger().WithRun(p.RunID.String()).WithPhase(ph.ID)

	warn := func(err error) {
		msg := fmt.Sprintf("phase %d: stacking with %s failed: %v", ph.ID, d.Stacker.Name(), err)
		log.Warn("stacking failed", "backend", d.Stacker.Name(), "branches", branches, "error", err)
		j.Warn(msg)
		d.Bus.Publish(event.NewStackingWarningEvent(p.RunID.String(), ph.ID, d.Stacker.Name(), branches, err.Error()))
	}

	owner := leaseOwner(p.RunID, ph.ID)
	leases := d.Worktrees.Leases()
	mainPath := d.Worktrees.MainPath(p.RunID.String())
	if err := leases.Acquire(owner, mainPath); err != nil {
		warn(err)
		return
	}
	defer func() { _ = leases.Release(owner, mainPath) }()

	workdir, err := d.Worktrees.EnsureMain(ctx, p.RunID.String(), base)
	if err != nil {
		warn(err)
		return
	}
	if err := d.Stacker.Detect(ctx, workdir); err != nil {
		warn(err)
		return
	}
	if err := d.Stacker.Stack(ctx, branches, base, workdir); err != nil {
		warn(err)
		return
	}
	log.Info("branches stacked", "backend", d.Stacker.Name(), "count", len(branches))
}
