package stack

import (
	"context"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/gitexec"
)

// DefaultGitSpiceCommand is the git-spice executable name.
const DefaultGitSpiceCommand = "gs"

// GitSpice stacks branches with git-spice: every branch is tracked with its
// predecessor as base, then the chain is restacked from the bottom.
type GitSpice struct {
	command  string
	executor gitexec.CommandExecutor
}

// NewGitSpice creates a git-spice backend. An empty command means "gs".
func NewGitSpice(command string, executor gitexec.CommandExecutor) *GitSpice {
	if command == "" {
		command = DefaultGitSpiceCommand
	}
	return &GitSpice{command: command, executor: executor}
}

func (g *GitSpice) Name() string { return KindGitSpice }

// Detect checks that the git-spice CLI is installed.
func (g *GitSpice) Detect(ctx context.Context, workdir string) error {
	if output, err := g.executor.Run(ctx, workdir, g.command, "--version"); err != nil {
		return errors.NewGitError("git-spice is not installed", errors.Join(errors.ErrBackendUnavailable, err)).
			WithGitOutput(string(output))
	}
	return nil
}

// Stack tracks each branch on top of the previous one and restacks.
func (g *GitSpice) Stack(ctx context.Context, branches []string, baseRef, workdir string) error {
	if len(branches) == 0 {
		return nil
	}

	base := baseRef
	for _, branch := range branches {
		output, err := g.executor.Run(ctx, workdir, g.command, "branch", "track", "--base", base, branch)
		if err != nil {
			return errors.NewGitError("git-spice failed to track branch", err).
				WithBranch(branch).
				WithWorktree(workdir).
				WithGitOutput(string(output))
		}
		base = branch
	}

	output, err := g.executor.Run(ctx, workdir, g.command, "upstack", "restack", "--branch", branches[0])
	if err != nil {
		out := string(output)
		if isConflict(out) {
			files := conflictedFiles(ctx, g.executor, workdir)
			_, _ = g.executor.Run(ctx, workdir, "git", "rebase", "--abort")
			return &ConflictError{Branch: branches[0], Onto: baseRef, Files: files, GitOutput: out}
		}
		return errors.NewGitError("git-spice restack failed", err).
			WithBranch(branches[0]).
			WithWorktree(workdir).
			WithGitOutput(out)
	}
	return nil
}
