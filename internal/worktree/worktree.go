// Package worktree creates and destroys the isolated git worktrees that task
// agents run in.
//
// Worktree paths are deterministic: a parallel task of run "a1b2c3" with id
// "2-1" always lives at <root>/a1b2c3-task-2-1, and the run's shared
// sequential worktree at <root>/a1b2c3-main. Every git command goes through
// the injected executor, which callers serialize with gitexec.Serialize.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/gitexec"
	"github.com/arittr/spectacular-codex/internal/logging"
)

// Manager handles git worktree operations for one repository.
type Manager struct {
	repoDir  string
	root     string
	executor gitexec.CommandExecutor
	leases   *Leases
	logger   *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for worktree lifecycle messages.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.ErrNotGitRepository
		}
		dir = parent
	}
}

// New creates a Manager for the repository containing repoDir.
// Worktrees are placed under root.
func New(repoDir, root string, executor gitexec.CommandExecutor, opts ...Option) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, errors.NewGitError("not a git repository", err).WithRepository(repoDir)
	}

	m := &Manager{
		repoDir:  gitRoot,
		root:     root,
		executor: executor,
		leases:   NewLeases(),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RepoDir returns the repository root the manager operates on.
func (m *Manager) RepoDir() string { return m.repoDir }

// Leases returns the ownership registry for this manager's worktrees.
func (m *Manager) Leases() *Leases { return m.leases }

// TaskPath returns the deterministic worktree path of a parallel task.
func (m *Manager) TaskPath(runID, taskID string) string {
	return filepath.Join(m.root, fmt.Sprintf("%s-task-%s", runID, taskID))
}

// MainPath returns the path of the run's shared sequential worktree.
func (m *Manager) MainPath(runID string) string {
	return filepath.Join(m.root, runID+"-main")
}

// Create adds a detached worktree at path checked out at baseRef.
// It fails with ErrWorktreeExists if path is already present.
func (m *Manager) Create(ctx context.Context, path, baseRef string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.NewGitError("failed to create worktree", errors.ErrWorktreeExists).WithWorktree(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewGitError("failed to create worktree root", err).WithWorktree(path)
	}
	// A directory deleted without git's knowledge stays registered and blocks
	// the add below.
	if output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "prune"); err != nil {
		m.logger.Warn("worktree prune failed", "error", err, "output", strings.TrimSpace(string(output)))
	}

	output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "add", "--detach", path, baseRef)
	if err != nil {
		return errors.NewGitError("failed to create worktree", err).
			WithWorktree(path).
			WithRepository(m.repoDir).
			WithGitOutput(string(output))
	}

	if err := m.InitSubmodules(ctx, path); err != nil {
		_ = m.Remove(ctx, path)
		return err
	}

	m.logger.Debug("worktree created", "path", path, "base", baseRef)
	return nil
}

// CreateTask creates the worktree of a parallel task at baseRef. A worktree
// left at the same path by an interrupted run is discarded first: the task
// is only scheduled when git holds no completed work for it.
func (m *Manager) CreateTask(ctx context.Context, runID, taskID, baseRef string) (string, error) {
	path := m.TaskPath(runID, taskID)
	if _, err := os.Stat(path); err == nil {
		m.logger.Warn("removing stale task worktree", "path", path)
		if err := m.Remove(ctx, path); err != nil {
			return "", err
		}
	}
	if err := m.Create(ctx, path, baseRef); err != nil {
		return "", err
	}
	return path, nil
}

// EnsureMain returns the run's shared worktree, creating it at baseRef if it
// does not exist or moving its detached HEAD to baseRef if it does.
func (m *Manager) EnsureMain(ctx context.Context, runID, baseRef string) (string, error) {
	path := m.MainPath(runID)
	if _, err := os.Stat(path); err != nil {
		if err := m.Create(ctx, path, baseRef); err != nil {
			return "", err
		}
		return path, nil
	}

	output, err := m.executor.Run(ctx, path, "git", "checkout", "--detach", baseRef)
	if err != nil {
		return "", errors.NewGitError("failed to move main worktree to phase base", err).
			WithWorktree(path).
			WithBranch(baseRef).
			WithGitOutput(string(output))
	}
	return path, nil
}

// Remove removes the worktree at path. A worktree that does not exist is not
// an error. If git refuses, the directory is deleted and references pruned.
// Removal outlives cancellation of ctx so an interrupted run does not leave
// registrations behind.
func (m *Manager) Remove(ctx context.Context, path string) error {
	ctx = context.WithoutCancel(ctx)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_, _ = m.executor.Run(ctx, m.repoDir, "git", "worktree", "prune")
		return nil
	}

	output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "remove", "--force", path)
	if err != nil {
		_ = os.RemoveAll(path)
		_, _ = m.executor.Run(ctx, m.repoDir, "git", "worktree", "prune")
		return errors.NewGitError("failed to remove worktree cleanly", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}

	m.logger.Debug("worktree removed", "path", path)
	return nil
}

// List returns the paths of all worktrees in the repository.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewGitError("failed to list worktrees", err).
			WithRepository(m.repoDir).
			WithGitOutput(string(output))
	}

	var worktrees []string
	for _, line := range gitexec.Lines(output) {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			worktrees = append(worktrees, path)
		}
	}
	return worktrees, nil
}

// runWorktreeName matches the directory names this package creates.
var runWorktreeName = regexp.MustCompile(`^([0-9a-f]{6})-(main|task-.+)$`)

// Owned returns the worktrees under the manager's root that were created for
// runID, or for any run when runID is empty.
func (m *Manager) Owned(ctx context.Context, runID string) ([]string, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	root := filepath.Clean(m.root)
	var owned []string
	for _, path := range all {
		if filepath.Dir(filepath.Clean(path)) != root {
			continue
		}
		match := runWorktreeName.FindStringSubmatch(filepath.Base(path))
		if match == nil || (runID != "" && match[1] != runID) {
			continue
		}
		owned = append(owned, path)
	}
	return owned, nil
}

// Dirty reports whether the worktree at path has uncommitted changes.
func (m *Manager) Dirty(ctx context.Context, path string) (bool, error) {
	output, err := m.executor.Run(ctx, path, "git", "status", "--porcelain")
	if err != nil {
		return false, errors.NewGitError("failed to read worktree status", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return len(gitexec.Lines(output)) > 0, nil
}

// Head returns the commit checked out in the worktree at path.
func (m *Manager) Head(ctx context.Context, path string) (string, error) {
	output, err := m.executor.Run(ctx, path, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to read worktree HEAD", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}
