package orchestrator

import (
	"context"

	"github.com/arittr/spectacular-codex/internal/agent"
	"github.com/arittr/spectacular-codex/internal/branchstate"
	"github.com/arittr/spectacular-codex/internal/config"
	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/gitexec"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/logging"
	"github.com/arittr/spectacular-codex/internal/phase"
	"github.com/arittr/spectacular-codex/internal/resume"
	"github.com/arittr/spectacular-codex/internal/review"
	"github.com/arittr/spectacular-codex/internal/stack"
	"github.com/arittr/spectacular-codex/internal/worktree"
)

// Components are the collaborators built from configuration. They are
// exposed so read-only commands can reuse them without starting a run.
type Components struct {
	Git       *gitexec.SerialExecutor
	Reader    branchstate.Reader
	Resume    *resume.Engine
	Worktrees *worktree.Manager
	Stacker   stack.Backend
	Agent     agent.Client
}

// BuildComponents wires the git-facing collaborators for the repository at
// repoDir. All git access, including the go-git reader, shares one lock.
func BuildComponents(cfg *config.Config, repoDir string, logger *logging.Logger) (*Components, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	git := gitexec.Serialize(gitexec.NewCLICommandExecutor())

	root, err := worktree.FindGitRoot(repoDir)
	if err != nil {
		return nil, err
	}

	reader, err := branchstate.New(cfg.BranchState.Reader, git)
	if err != nil {
		return nil, err
	}
	wt, err := worktree.New(root, cfg.Execution.ResolveWorktreeDir(root), git,
		worktree.WithLogger(logger.WithComponent("worktree")))
	if err != nil {
		return nil, err
	}
	stacker, err := stack.New(cfg.Stacking.Backend, cfg.Stacking.Command, git)
	if err != nil {
		return nil, err
	}
	backend, err := agent.NewBackend(cfg.Agent)
	if err != nil {
		return nil, err
	}

	return &Components{
		Git:       git,
		Reader:    reader,
		Resume:    resume.NewEngine(reader, logger),
		Worktrees: wt,
		Stacker:   stacker,
		Agent:     agent.NewCLIClient(backend, nil, logger),
	}, nil
}

// FromConfig builds an Orchestrator for the repository at repoDir.
func FromConfig(ctx context.Context, cfg *config.Config, repoDir string, jobs *job.Store, logger *logging.Logger, bus *event.Bus) (*Orchestrator, error) {
	c, err := BuildComponents(cfg, repoDir, logger)
	if err != nil {
		return nil, err
	}

	var reviewer Reviewer
	if cfg.Review.Enabled {
		reviewer = review.NewLoop(c.Agent,
			review.WithMaxRejections(cfg.Review.MaxRejections),
			review.WithLogger(logger),
			review.WithEventBus(bus))
	}

	return New(Options{
		Phases: phase.Deps{
			RepoDir:     c.Worktrees.RepoDir(),
			Resume:      c.Resume,
			Agent:       c.Agent,
			Worktrees:   c.Worktrees,
			Stacker:     c.Stacker,
			MaxParallel: cfg.Execution.MaxParallel,
			Logger:      logger,
			Bus:         bus,
		},
		Jobs:     jobs,
		Resolver: c.Reader,
		Reviewer: reviewer,
		BaseRef:  cfg.Execution.BaseRef,
		Context:  ctx,
		Logger:   logger,
		Bus:      bus,
	})
}
