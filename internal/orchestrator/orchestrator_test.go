package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arittr/spectacular-codex/internal/agent"
	"github.com/arittr/spectacular-codex/internal/agent/agenttest"
	apperrors "github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/phase"
	"github.com/arittr/spectacular-codex/internal/plan"
	"github.com/arittr/spectacular-codex/internal/resume"
	"github.com/arittr/spectacular-codex/internal/review"
	"github.com/arittr/spectacular-codex/internal/worktree"
)

const testRun plan.RunID = "c0ffee"

type fakeResume struct {
	mu        sync.Mutex
	completed map[string]string
	bases     []string
}

func (f *fakeResume) CheckExistingWork(_ context.Context, ph plan.Phase, _ plan.RunID, _, base string) (resume.ExistingWork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bases = append(f.bases, base)
	work := resume.ExistingWork{Completed: []resume.CompletedTask{}, Pending: []plan.Task{}}
	for _, task := range ph.Tasks {
		if branch, ok := f.completed[task.ID]; ok {
			work.Completed = append(work.Completed, resume.CompletedTask{Task: task, Branch: branch, CommitCount: 1})
			continue
		}
		work.Pending = append(work.Pending, task)
	}
	return work, nil
}

type fakeWorktrees struct {
	mu     sync.Mutex
	mains  []string
	leases *worktree.Leases
}

func (f *fakeWorktrees) CreateTask(_ context.Context, run, taskID, _ string) (string, error) {
	return "/wt/" + run + "-task-" + taskID, nil
}

func (f *fakeWorktrees) EnsureMain(_ context.Context, run, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mains = append(f.mains, ref)
	return f.MainPath(run), nil
}

func (f *fakeWorktrees) MainPath(run string) string { return "/wt/" + run + "-main" }

func (f *fakeWorktrees) Remove(context.Context, string) error { return nil }

func (f *fakeWorktrees) Leases() *worktree.Leases { return f.leases }

type staticResolver struct{ err error }

func (r staticResolver) ResolveRef(context.Context, string, string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "base000", nil
}

type fakeReviewer struct {
	mu       sync.Mutex
	requests []review.Request
	err      error
}

func (f *fakeReviewer) Run(_ context.Context, req review.Request) (review.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return review.Result{State: review.StateEscalated}, f.err
	}
	return review.Result{State: review.StateApproved, Approved: true, Turns: 1}, nil
}

func branchOf(taskID string) string {
	return string(testRun) + "-task-" + taskID + "-work"
}

func taskID(prompt string) string {
	rest, _ := strings.CutPrefix(prompt, "# Task ")
	id, _, _ := strings.Cut(rest, ":")
	return id
}

func scriptedAgent(failing ...string) *agenttest.Client {
	c := agenttest.NewClient()
	c.OnExecute = func(_ context.Context, prompt, _ string) (agent.Result, error) {
		id := taskID(prompt)
		for _, f := range failing {
			if f == id {
				return agent.Result{}, errors.New("agent crashed")
			}
		}
		return agent.Result{RawOutput: "BRANCH: " + branchOf(id)}, nil
	}
	return c
}

func twoPhasePlan() *plan.Plan {
	return &plan.Plan{
		RunID: testRun,
		Title: "Billing",
		Phases: []plan.Phase{
			{ID: 1, Name: "Models", Strategy: plan.StrategyParallel, Tasks: []plan.Task{
				{ID: "1-1", Name: "Invoice"},
				{ID: "1-2", Name: "Customer"},
			}},
			{ID: 2, Name: "API", Strategy: plan.StrategySequential, Tasks: []plan.Task{
				{ID: "2-1", Name: "Routes"},
				{ID: "2-2", Name: "Handlers"},
			}},
		},
	}
}

type harness struct {
	orch      *Orchestrator
	jobs      *job.Store
	client    *agenttest.Client
	resume    *fakeResume
	worktrees *fakeWorktrees
	reviewer  *fakeReviewer
	bus       *event.Bus
}

func newHarness(t *testing.T, client *agenttest.Client, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		jobs:      job.NewStore(),
		client:    client,
		resume:    &fakeResume{completed: map[string]string{}},
		worktrees: &fakeWorktrees{leases: worktree.NewLeases()},
		reviewer:  &fakeReviewer{},
		bus:       event.NewBus(nil),
	}
	opts := Options{
		Phases: phase.Deps{
			RepoDir:   "/repo",
			Resume:    h.resume,
			Agent:     client,
			Worktrees: h.worktrees,
		},
		Jobs:     h.jobs,
		Resolver: staticResolver{},
		Reviewer: h.reviewer,
		Bus:      h.bus,
	}
	for _, m := range mutate {
		m(&opts)
	}
	o, err := New(opts)
	require.NoError(t, err)
	h.orch = o
	return h
}

func (h *harness) run(t *testing.T, p *plan.Plan) job.Job {
	t.Helper()
	id, err := h.orch.Start(context.Background(), p)
	require.NoError(t, err)
	h.orch.Wait()
	snap, ok := h.jobs.Get(id)
	require.True(t, ok)
	return snap
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, phase.ErrNoRepoDir)

	deps := phase.Deps{RepoDir: "/r", Resume: &fakeResume{}, Agent: agenttest.NewClient(), Worktrees: &fakeWorktrees{}}
	_, err = New(Options{Phases: deps})
	assert.ErrorContains(t, err, "job store is required")

	_, err = New(Options{Phases: deps, Jobs: job.NewStore()})
	assert.ErrorContains(t, err, "ref resolver is required")
}

func TestRun_CompletesAllPhases(t *testing.T) {
	h := newHarness(t, scriptedAgent())
	var types []string
	var mu sync.Mutex
	h.bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		types = append(types, e.EventType())
		mu.Unlock()
	})

	snap := h.run(t, twoPhasePlan())

	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Empty(t, snap.Error)
	assert.Equal(t, 2, snap.Phase)
	assert.Equal(t, 4, snap.CountTasks(job.TaskCompleted))
	assert.Len(t, h.client.Calls(), 4)

	// Phase 2 builds on the last branch of phase 1.
	assert.Equal(t, []string{"base000", branchOf("1-2")}, h.resume.bases)
	assert.Equal(t, branchOf("2-2"), snap.BaseRef)

	require.Len(t, h.reviewer.requests, 2)
	assert.Equal(t, []string{branchOf("1-1"), branchOf("1-2")}, h.reviewer.requests[0].Branches)
	assert.Equal(t, "base000", h.reviewer.requests[0].BaseRef)
	assert.Equal(t, "/wt/c0ffee-main", h.reviewer.requests[0].Workdir)

	require.NotEmpty(t, types)
	assert.Equal(t, event.TypeRunStarted, types[0])
	assert.Equal(t, event.TypeRunFinished, types[len(types)-1])
}

func TestRun_ParallelFailureFailsRun(t *testing.T) {
	h := newHarness(t, scriptedAgent("1-2"))

	snap := h.run(t, twoPhasePlan())

	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "1 of 2 tasks failed")
	assert.Equal(t, 1, snap.Phase, "phase 2 never starts")
	assert.Len(t, h.client.Calls(), 2, "the sibling task still ran")
	assert.Empty(t, h.reviewer.requests)
}

func TestRun_SequentialFailureFailsRun(t *testing.T) {
	h := newHarness(t, scriptedAgent("2-1"))

	snap := h.run(t, twoPhasePlan())

	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "task 2-1 failed")
	_, ok := snap.Task("2-2")
	assert.False(t, ok)
}

func TestRun_ResumedPhaseSkipsReview(t *testing.T) {
	h := newHarness(t, scriptedAgent())
	h.resume.completed["1-1"] = branchOf("1-1")
	h.resume.completed["1-2"] = branchOf("1-2")

	snap := h.run(t, twoPhasePlan())

	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Len(t, h.client.Calls(), 2, "only phase 2 runs")
	require.Len(t, h.reviewer.requests, 1)
	assert.Equal(t, 2, h.reviewer.requests[0].Phase.ID)

	st, ok := snap.Task("1-1")
	require.True(t, ok)
	assert.True(t, st.Resumed)
}

func TestRun_ReviewEscalationFailsRun(t *testing.T) {
	h := newHarness(t, scriptedAgent())
	h.reviewer.err = &review.RejectionLimitError{Limit: 3, Rejections: 4, Turns: 7}

	snap := h.run(t, twoPhasePlan())

	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "exceeded 3 rejections")
	assert.Len(t, h.client.Calls(), 2)
}

func TestRun_ReviewDisabled(t *testing.T) {
	h := newHarness(t, scriptedAgent(), func(o *Options) { o.Reviewer = nil })

	snap := h.run(t, twoPhasePlan())
	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Empty(t, h.reviewer.requests)
}

func TestRun_ResolveFailure(t *testing.T) {
	h := newHarness(t, scriptedAgent(), func(o *Options) {
		o.Resolver = staticResolver{err: errors.New("bad revision")}
	})

	snap := h.run(t, twoPhasePlan())
	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "bad revision")
	assert.Empty(t, h.client.Calls())
}

func TestStart_RejectsDuplicateRun(t *testing.T) {
	release := make(chan struct{})
	client := agenttest.NewClient()
	client.OnExecute = func(_ context.Context, prompt, _ string) (agent.Result, error) {
		<-release
		return agent.Result{RawOutput: "BRANCH: " + branchOf(taskID(prompt))}, nil
	}
	h := newHarness(t, client)

	_, err := h.orch.Start(context.Background(), twoPhasePlan())
	require.NoError(t, err)

	_, err = h.orch.Start(context.Background(), twoPhasePlan())
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)

	close(release)
	h.orch.Wait()

	// A finished run may be started again.
	_, err = h.orch.Start(context.Background(), twoPhasePlan())
	assert.NoError(t, err)
	h.orch.Wait()
}

func TestStart_InvalidPlan(t *testing.T) {
	h := newHarness(t, scriptedAgent())
	p := twoPhasePlan()
	p.Phases[1].Tasks[0].ID = "1-9"

	_, err := h.orch.Start(context.Background(), p)
	assert.ErrorIs(t, err, apperrors.ErrPlanInvalid)
	assert.Empty(t, h.jobs.List())
}

func TestStart_AssignsRunID(t *testing.T) {
	h := newHarness(t, agenttest.NewClient())
	p := twoPhasePlan()
	p.RunID = ""

	id, err := h.orch.Start(context.Background(), p)
	require.NoError(t, err)
	h.orch.Wait()

	assert.True(t, id.Valid())
	assert.Equal(t, id, p.RunID)
}

func TestRun_PanicFailsJob(t *testing.T) {
	client := agenttest.NewClient()
	h := newHarness(t, client, func(o *Options) { o.Reviewer = panicReviewer{} })
	client.OnExecute = scriptedAgent().OnExecute

	snap := h.run(t, twoPhasePlan())
	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "reviewer exploded")
}

type panicReviewer struct{}

func (panicReviewer) Run(context.Context, review.Request) (review.Result, error) {
	panic("reviewer exploded")
}
