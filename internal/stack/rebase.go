package stack

import (
	"context"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/gitexec"
)

// Rebase stacks branches with plain git, replaying the commits each branch
// made since baseRef onto the previous branch:
//
//	git rebase --onto <prev> <baseRef> <branch>
//
// It checks branches out in workdir, so workdir must be a worktree that none
// of the branches are checked out in. HEAD is detached again when done.
type Rebase struct {
	executor gitexec.CommandExecutor
}

// NewRebase creates a Rebase backend.
func NewRebase(executor gitexec.CommandExecutor) *Rebase {
	return &Rebase{executor: executor}
}

func (r *Rebase) Name() string { return KindRebase }

// Detect checks that git is runnable.
func (r *Rebase) Detect(ctx context.Context, workdir string) error {
	if output, err := r.executor.Run(ctx, workdir, "git", "--version"); err != nil {
		return errors.NewGitError("git is not available", errors.Join(errors.ErrBackendUnavailable, err)).
			WithGitOutput(string(output))
	}
	return nil
}

// Stack rebases each branch onto its predecessor. On conflict the rebase is
// aborted and a *ConflictError returned; branches already stacked stay stacked.
func (r *Rebase) Stack(ctx context.Context, branches []string, baseRef, workdir string) error {
	if len(branches) == 0 {
		return nil
	}

	onto := baseRef
	for _, branch := range branches {
		output, err := r.executor.Run(ctx, workdir, "git", "rebase", "--onto", onto, baseRef, branch)
		if err != nil {
			out := string(output)
			if isConflict(out) {
				files := conflictedFiles(ctx, r.executor, workdir)
				_, _ = r.executor.Run(ctx, workdir, "git", "rebase", "--abort")
				r.detach(ctx, workdir)
				return &ConflictError{Branch: branch, Onto: onto, Files: files, GitOutput: out}
			}
			r.detach(ctx, workdir)
			return errors.NewGitError("failed to rebase branch", err).
				WithBranch(branch).
				WithWorktree(workdir).
				WithGitOutput(out)
		}
		onto = branch
	}

	r.detach(ctx, workdir)
	return nil
}

// detach releases the last rebased branch so other worktrees may check it out.
func (r *Rebase) detach(ctx context.Context, workdir string) {
	_, _ = r.executor.Run(ctx, workdir, "git", "checkout", "--detach")
}
