package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// SubmoduleError represents a submodule operation that failed critically.
type SubmoduleError struct {
	Operation string
	Output    string
	Err       error
}

func (e *SubmoduleError) Error() string {
	return "submodule " + e.Operation + " failed: " + e.Err.Error() + "\n" + e.Output
}

func (e *SubmoduleError) Unwrap() error {
	return e.Err
}

// HasSubmodules reports whether the repository has a non-empty .gitmodules file.
func (m *Manager) HasSubmodules() bool {
	info, err := os.Stat(filepath.Join(m.repoDir, ".gitmodules"))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// InitSubmodules initializes submodules in a freshly created worktree so that
// agents see a complete checkout. It is a no-op without submodules.
// Warnings from git are logged; only critical failures are returned.
func (m *Manager) InitSubmodules(ctx context.Context, worktreePath string) error {
	if !m.HasSubmodules() {
		return nil
	}

	// protocol.file.allow=always keeps local file:// submodule URLs working on git >= 2.38.1
	args := []string{"-c", "protocol.file.allow=always", "submodule", "update", "--init", "--recursive"}
	output, err := m.executor.Run(ctx, worktreePath, "git", args...)
	if err == nil {
		m.logger.Info("submodules initialized", "path", worktreePath)
		return nil
	}

	if isSubmoduleCriticalError(string(output)) {
		return &SubmoduleError{Operation: "init", Output: string(output), Err: err}
	}
	m.logger.Warn("submodule initialization had issues", "path", worktreePath, "output", truncate(string(output), 500))
	return nil
}

// isSubmoduleCriticalError distinguishes failures that leave the worktree
// unusable from warnings that can be ignored.
func isSubmoduleCriticalError(output string) bool {
	criticalPatterns := []string{
		"fatal:",
		"permission denied",
		"could not read from remote",
		"repository not found",
		"unable to access",
		"authentication failed",
		"host key verification failed",
		"no submodule mapping found",
	}

	lower := strings.ToLower(output)
	for _, pattern := range criticalPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return strings.Contains(lower, "clone") && strings.Contains(lower, "failed")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
