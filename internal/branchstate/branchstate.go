// Package branchstate reads task completion state from git branches.
//
// Git is the durable record of task progress: a task is done when its branch
// exists and carries commits beyond the phase base. Readers in this package
// never mutate the repository.
package branchstate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/gitexec"
)

// Reader queries branch existence and commit counts.
type Reader interface {
	// ListBranches returns the local branches whose names start with prefix,
	// sorted lexicographically.
	ListBranches(ctx context.Context, repoDir, prefix string) ([]string, error)

	// CommitsAhead returns the number of commits reachable from branch but
	// not from baseRef.
	CommitsAhead(ctx context.Context, repoDir, baseRef, branch string) (int, error)

	// ResolveRef returns the commit hash that ref points to.
	ResolveRef(ctx context.Context, repoDir, ref string) (string, error)
}

// CLIReader implements Reader by shelling out to git.
type CLIReader struct {
	executor gitexec.CommandExecutor
}

// NewCLIReader creates a CLIReader. Pass a serialized executor to share the
// repository lock with the worktree manager.
func NewCLIReader(executor gitexec.CommandExecutor) *CLIReader {
	return &CLIReader{executor: executor}
}

// ListBranches lists local branches by name prefix.
func (r *CLIReader) ListBranches(ctx context.Context, repoDir, prefix string) ([]string, error) {
	output, err := r.executor.Run(ctx, repoDir, "git", "for-each-ref",
		"--format=%(refname:short)", "refs/heads/"+prefix+"*")
	if err != nil {
		return nil, errors.NewGitError("failed to list branches", err).
			WithRepository(repoDir).
			WithBranch(prefix + "*").
			WithGitOutput(string(output))
	}

	var branches []string
	for _, name := range gitexec.Lines(output) {
		// for-each-ref globs may match across path separators; keep exact prefixes
		if strings.HasPrefix(name, prefix) {
			branches = append(branches, name)
		}
	}
	sort.Strings(branches)
	return branches, nil
}

// CommitsAhead counts commits in baseRef..branch.
func (r *CLIReader) CommitsAhead(ctx context.Context, repoDir, baseRef, branch string) (int, error) {
	output, err := r.executor.Run(ctx, repoDir, "git", "rev-list", "--count", baseRef+".."+branch)
	if err != nil {
		return 0, errors.NewGitError("failed to count commits ahead of base", err).
			WithRepository(repoDir).
			WithBranch(baseRef + ".." + branch).
			WithGitOutput(string(output))
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0, errors.NewGitError("failed to parse commit count", err).
			WithRepository(repoDir).
			WithGitOutput(string(output))
	}
	return count, nil
}

// ResolveRef resolves ref to a commit hash.
func (r *CLIReader) ResolveRef(ctx context.Context, repoDir, ref string) (string, error) {
	output, err := r.executor.Run(ctx, repoDir, "git", "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", errors.NewGitError(fmt.Sprintf("failed to resolve %s", ref), errors.ErrBranchNotFound).
			WithRepository(repoDir).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

var _ Reader = (*CLIReader)(nil)

// Reader kinds accepted by New.
const (
	KindCLI   = "cli"
	KindGoGit = "go-git"
)

// New returns the Reader selected by kind. Both kinds share executor's
// repository lock.
func New(kind string, executor *gitexec.SerialExecutor) (Reader, error) {
	switch kind {
	case KindCLI, "":
		return NewCLIReader(executor), nil
	case KindGoGit:
		return NewGoGitReader(WithLocker(executor)), nil
	default:
		return nil, errors.NewValidationError("unknown branch state reader").
			WithField("branchstate.reader").WithValue(kind)
	}
}
