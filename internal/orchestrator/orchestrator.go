// Package orchestrator drives a plan run from its first phase to its last.
//
// A run resolves its base commit once, then for every phase in order:
// records the phase on the job, runs the phase executor for its strategy,
// reviews the result and advances the base to the phase's last branch.
// Which tasks actually execute is decided by the resume engine inside the
// executors, so restarting a run with the same id picks up where git left off.
//
// Start returns as soon as the run is registered; progress and failures are
// observed through the job store.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/logging"
	"github.com/arittr/spectacular-codex/internal/phase"
	"github.com/arittr/spectacular-codex/internal/plan"
	"github.com/arittr/spectacular-codex/internal/review"
)

// RefResolver turns a ref into a commit id.
type RefResolver interface {
	ResolveRef(ctx context.Context, repoDir, ref string) (string, error)
}

// Reviewer gates a phase on a code review.
type Reviewer interface {
	Run(ctx context.Context, req review.Request) (review.Result, error)
}

var _ Reviewer = (*review.Loop)(nil)

// Options configures an Orchestrator.
type Options struct {
	// Phases carries the executors' collaborators. RepoDir is required.
	Phases phase.Deps
	// Jobs records run state. Required.
	Jobs *job.Store
	// Resolver pins the run's base ref to a commit. Required.
	Resolver RefResolver
	// Reviewer runs after every phase that executed tasks. Nil disables review.
	Reviewer Reviewer
	// BaseRef is the ref the first phase builds on (default "HEAD").
	BaseRef string
	// Context bounds background runs. Runs are not cancelled by the context
	// passed to Start; only this one stops them. Default context.Background().
	Context context.Context
	Logger  *logging.Logger
	Bus     *event.Bus
}

// Orchestrator starts and runs plans.
type Orchestrator struct {
	deps     phase.Deps
	jobs     *job.Store
	resolver RefResolver
	reviewer Reviewer
	baseRef  string
	ctx      context.Context
	logger   *logging.Logger
	bus      *event.Bus

	wg conc.WaitGroup
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if err := opts.Phases.Validate(); err != nil {
		return nil, err
	}
	if opts.Jobs == nil {
		return nil, errors.New("orchestrator: job store is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("orchestrator: ref resolver is required")
	}

	o := &Orchestrator{
		deps:     opts.Phases,
		jobs:     opts.Jobs,
		resolver: opts.Resolver,
		reviewer: opts.Reviewer,
		baseRef:  opts.BaseRef,
		ctx:      opts.Context,
		logger:   opts.Logger,
		bus:      opts.Bus,
	}
	if o.baseRef == "" {
		o.baseRef = "HEAD"
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	o.logger = o.logger.WithComponent("orchestrator")
	if o.deps.Bus == nil {
		o.deps.Bus = o.bus
	}
	return o, nil
}

// Jobs returns the store runs are recorded in.
func (o *Orchestrator) Jobs() *job.Store { return o.jobs }

// Start validates p, registers its run and executes it in the background.
// A plan without a run id gets a fresh one. Starting a run id that is still
// running fails with ErrRunInProgress.
func (o *Orchestrator) Start(_ context.Context, p *plan.Plan) (plan.RunID, error) {
	if p.RunID == "" {
		p.RunID = plan.NewRunID()
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	h, err := o.jobs.Start(p.RunID, len(p.Phases))
	if err != nil {
		return "", err
	}

	o.wg.Go(func() {
		var pc panics.Catcher
		pc.Try(func() { o.execute(o.ctx, p, h) })
		if r := pc.Recovered(); r != nil {
			o.logger.WithRun(p.RunID.String()).Error("run panicked", "panic", r.String())
			h.Fail(r.AsError())
		}
	})
	return p.RunID, nil
}

// Wait blocks until every started run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// execute runs every phase of p and leaves the job completed or failed.
func (o *Orchestrator) execute(ctx context.Context, p *plan.Plan, h *job.Handle) {
	log := o.logger.WithRun(p.RunID.String())
	start := time.Now()
	o.bus.Publish(event.NewRunStartedEvent(p.RunID.String(), len(p.Phases)))
	log.Info("run started", "phases", len(p.Phases), "tasks", p.TotalTasks())

	err := o.runPhases(ctx, p, h)
	if err != nil {
		h.Fail(err)
		if errors.GetSeverity(err) < errors.SeverityError {
			log.Warn("run failed", "error", err, "duration", time.Since(start))
		} else {
			log.Error("run failed", "error", err, "duration", time.Since(start))
		}
		o.bus.Publish(event.NewRunFinishedEvent(p.RunID.String(), false, err.Error(), time.Since(start)))
		return
	}

	h.Complete()
	log.Info("run completed", "duration", time.Since(start))
	o.bus.Publish(event.NewRunFinishedEvent(p.RunID.String(), true, "", time.Since(start)))
}

func (o *Orchestrator) runPhases(ctx context.Context, p *plan.Plan, h *job.Handle) error {
	base, err := o.resolver.ResolveRef(ctx, o.deps.RepoDir, o.baseRef)
	if err != nil {
		return errors.NewPhaseError("failed to resolve run base", err).WithRun(p.RunID.String())
	}
	h.SetBaseRef(base)

	for _, ph := range p.Phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.runPhase(ctx, p, ph, h); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runPhase(ctx context.Context, p *plan.Plan, ph plan.Phase, h *job.Handle) error {
	ph = ph.Ordered()
	log := o.logger.WithRun(p.RunID.String()).WithPhase(ph.ID)
	start := time.Now()
	h.SetPhase(ph.ID)
	base := h.BaseRef()

	ex, err := phase.ForStrategy(ph.Strategy, o.deps)
	if err != nil {
		return err
	}

	log.Info("phase started", "name", ph.Name, "strategy", ph.Strategy, "base", base)
	err = ex.Run(ctx, ph, p, h)
	if err == nil {
		err = failedTasks(ph, h.Snapshot())
	}
	if err != nil {
		o.bus.Publish(event.NewPhaseFinishedEvent(p.RunID.String(), ph.ID, string(ph.Strategy), false, time.Since(start)))
		return err
	}

	snap := h.Snapshot()
	branches := phaseBranches(ph, snap)
	if o.reviewer != nil && executedTasks(ph, snap) {
		if err := o.review(ctx, p, ph, base, branches); err != nil {
			o.bus.Publish(event.NewPhaseFinishedEvent(p.RunID.String(), ph.ID, string(ph.Strategy), false, time.Since(start)))
			return err
		}
	}

	if len(branches) > 0 {
		h.SetBaseRef(branches[len(branches)-1])
	}
	log.Info("phase finished", "duration", time.Since(start), "next_base", h.BaseRef())
	o.bus.Publish(event.NewPhaseFinishedEvent(p.RunID.String(), ph.ID, string(ph.Strategy), true, time.Since(start)))
	return nil
}

// review runs the review loop in the run's main worktree positioned at the
// top of the phase's branches.
func (o *Orchestrator) review(ctx context.Context, p *plan.Plan, ph plan.Phase, base string, branches []string) error {
	wt := o.deps.Worktrees
	owner := fmt.Sprintf("%s/review-%d", p.RunID, ph.ID)
	mainPath := wt.MainPath(p.RunID.String())
	if err := wt.Leases().Acquire(owner, mainPath); err != nil {
		return err
	}
	defer func() { _ = wt.Leases().Release(owner, mainPath) }()

	head := base
	if len(branches) > 0 {
		head = branches[len(branches)-1]
	}
	workdir, err := wt.EnsureMain(ctx, p.RunID.String(), head)
	if err != nil {
		return errors.NewPhaseError("failed to prepare review worktree", err).
			WithRun(p.RunID.String()).
			WithPhase(ph.ID)
	}

	_, err = o.reviewer.Run(ctx, review.Request{
		Plan:     p,
		Phase:    ph,
		Workdir:  workdir,
		BaseRef:  base,
		Branches: branches,
	})
	return err
}

// failedTasks reports the phase's failed tasks as one error.
func failedTasks(ph plan.Phase, snap job.Job) error {
	var failed []string
	for _, id := range ph.TaskIDs() {
		if st, ok := snap.Task(id); ok && st.Status == job.TaskFailed {
			failed = append(failed, id)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.NewPhaseError(fmt.Sprintf("%d of %d tasks failed: %v", len(failed), len(ph.Tasks), failed),
		errors.ErrTaskFailed).WithPhase(ph.ID).WithRun(snap.RunID.String())
}

// phaseBranches returns the branches of the phase's completed tasks in task
// order.
func phaseBranches(ph plan.Phase, snap job.Job) []string {
	var branches []string
	for _, id := range ph.TaskIDs() {
		if st, ok := snap.Task(id); ok && st.Status == job.TaskCompleted && st.Branch != "" {
			branches = append(branches, st.Branch)
		}
	}
	return branches
}

// executedTasks reports whether this process ran any of the phase's tasks.
func executedTasks(ph plan.Phase, snap job.Job) bool {
	for _, id := range ph.TaskIDs() {
		if st, ok := snap.Task(id); ok && !st.Resumed {
			return true
		}
	}
	return false
}
