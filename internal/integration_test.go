// Package internal contains integration tests that verify the packages work
// together against a real git repository: resume reads the branches the
// executors leave behind, and the event bus feeds metrics along the way.
package internal

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/arittr/spectacular-codex/internal/agent"
	"github.com/arittr/spectacular-codex/internal/agent/agenttest"
	"github.com/arittr/spectacular-codex/internal/config"
	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/metrics"
	"github.com/arittr/spectacular-codex/internal/orchestrator"
	"github.com/arittr/spectacular-codex/internal/phase"
	"github.com/arittr/spectacular-codex/internal/plan"
	"github.com/arittr/spectacular-codex/internal/review"
	"github.com/arittr/spectacular-codex/internal/testutil"
)

func integrationPlan() *plan.Plan {
	return &plan.Plan{
		RunID: "a1b2c3",
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

// committingAgent creates the branch its prompt asks for, commits one file
// on it and reports the branch.
func committingAgent(_ context.Context, prompt, workdir string) (agent.Result, error) {
	branch, ok := agent.ExtractBranch(prompt)
	if !ok {
		return agent.Result{RawOutput: "no branch requested"}, nil
	}
	file := strings.TrimPrefix(branch, "a1b2c3-task-") + ".txt"
	if err := os.WriteFile(filepath.Join(workdir, file), []byte(branch+"\n"), 0o644); err != nil {
		return agent.Result{}, err
	}
	for _, args := range [][]string{
		{"checkout", "-b", branch},
		{"add", file},
		{"commit", "-m", "implement " + branch},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = workdir
		if out, err := cmd.CombinedOutput(); err != nil {
			return agent.Result{RawOutput: string(out)}, err
		}
	}
	return agent.Result{RawOutput: "done\nBRANCH: " + branch}, nil
}

func TestRunIntegration(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	testutil.Git(t, repoDir, "config", "user.name", "Spectacular Test")
	testutil.Git(t, repoDir, "config", "user.email", "test@example.com")

	cfg := config.Default()
	cfg.Stacking.Backend = "rebase"
	c, err := orchestrator.BuildComponents(cfg, repoDir, nil)
	if err != nil {
		t.Fatalf("BuildComponents() error = %v", err)
	}

	client := agenttest.NewClient("VERDICT: APPROVED", "VERDICT: APPROVED")
	client.OnExecute = committingAgent

	bus := event.NewBus(nil)
	m := metrics.New(prometheus.NewRegistry())
	m.Subscribe(bus)

	var mu sync.Mutex
	seen := map[string]int{}
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		seen[e.EventType()]++
		mu.Unlock()
	})

	jobs := job.NewStore()
	orch, err := orchestrator.New(orchestrator.Options{
		Phases: phase.Deps{
			RepoDir:   c.Worktrees.RepoDir(),
			Resume:    c.Resume,
			Agent:     client,
			Worktrees: c.Worktrees,
			Stacker:   c.Stacker,
		},
		Jobs:     jobs,
		Resolver: c.Reader,
		Reviewer: review.NewLoop(client, review.WithEventBus(bus)),
		Bus:      bus,
	})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}

	runID, err := orch.Start(context.Background(), integrationPlan())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	orch.Wait()

	j, ok := jobs.Get(runID)
	if !ok {
		t.Fatal("job not found after run")
	}
	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, error = %q", j.Status, j.Error)
	}
	if len(j.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", j.Warnings)
	}
	if got := len(client.Calls()); got != 4 {
		t.Errorf("agent calls = %d, want 4", got)
	}

	t.Run("parallel branches are stacked", func(t *testing.T) {
		count := testutil.Git(t, repoDir, "rev-list", "--count", "main..a1b2c3-task-1-2-customer")
		if count != "2" {
			t.Errorf("commits on stacked branch = %s, want 2", count)
		}
	})

	t.Run("sequential tasks build on each other", func(t *testing.T) {
		count := testutil.Git(t, repoDir, "rev-list", "--count", "main..a1b2c3-task-2-2-handlers")
		if count != "4" {
			t.Errorf("commits on last branch = %s, want 4", count)
		}
	})

	t.Run("task worktrees are removed", func(t *testing.T) {
		for _, wt := range testutil.ListWorktrees(t, repoDir) {
			if strings.Contains(wt, "-task-") {
				t.Errorf("task worktree left behind: %s", wt)
			}
		}
	})

	t.Run("events reach metrics", func(t *testing.T) {
		if got := promtestutil.ToFloat64(m.TasksTotal.WithLabelValues("parallel", "success")); got != 2 {
			t.Errorf("parallel successes = %v, want 2", got)
		}
		if got := promtestutil.ToFloat64(m.ReviewVerdictsTotal.WithLabelValues("approved")); got != 2 {
			t.Errorf("approvals = %v, want 2", got)
		}
		mu.Lock()
		defer mu.Unlock()
		if seen[event.TypeRunFinished] != 1 {
			t.Errorf("run.finished events = %d, want 1", seen[event.TypeRunFinished])
		}
	})

	t.Run("rerun resumes everything from git", func(t *testing.T) {
		before := len(client.Calls())

		if _, err := orch.Start(context.Background(), integrationPlan()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		orch.Wait()

		j, _ := jobs.Get(runID)
		if j.Status != job.StatusCompleted {
			t.Fatalf("status = %s, error = %q", j.Status, j.Error)
		}
		if got := len(client.Calls()); got != before {
			t.Errorf("agent called %d more times on a fully resumed run", got-before)
		}
		for _, task := range j.Tasks {
			if !task.Resumed {
				t.Errorf("task %s not marked resumed", task.ID)
			}
		}
		if got := promtestutil.ToFloat64(m.TasksResumedTotal); got != 4 {
			t.Errorf("resumed tasks metric = %v, want 4", got)
		}
	})
}
