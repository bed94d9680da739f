// Package testutil provides testing utilities for spectacular tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// SetupTestRepo creates a temporary git repository on branch main with one
// initial commit. The repository is removed when the test completes.
func SetupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	// Resolve symlinks (macOS /var -> /private/var) so paths compare equal
	// to what git reports.
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	if err := runGit(dir, "init"); err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}
	if err := runGit(dir, "config", "user.email", "test@spectacular.dev"); err != nil {
		t.Fatalf("failed to configure git email: %v", err)
	}
	if err := runGit(dir, "config", "user.name", "Spectacular Test"); err != nil {
		t.Fatalf("failed to configure git name: %v", err)
	}

	// git worktree requires at least one commit
	readme := filepath.Join(dir, "README.md")
	if err := os.WriteFile(readme, []byte("# Test Repository\n"), 0644); err != nil {
		t.Fatalf("failed to create README: %v", err)
	}
	if err := runGit(dir, "add", "."); err != nil {
		t.Fatalf("failed to stage files: %v", err)
	}
	if err := runGit(dir, "commit", "-m", "Initial commit"); err != nil {
		t.Fatalf("failed to create initial commit: %v", err)
	}
	if err := runGit(dir, "branch", "-M", "main"); err != nil {
		t.Fatalf("failed to rename branch to main: %v", err)
	}

	return dir
}

// CommitFile creates or updates a file and commits it on the current branch.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()

	fullPath := filepath.Join(repoDir, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	if err := runGit(repoDir, "add", path); err != nil {
		t.Fatalf("failed to stage file %s: %v", path, err)
	}
	if err := runGit(repoDir, "commit", "-m", message); err != nil {
		t.Fatalf("failed to commit file %s: %v", path, err)
	}
}

// CreateBranch creates a new branch at HEAD without checking it out.
func CreateBranch(t *testing.T, repoDir, branch string) {
	t.Helper()

	if err := runGit(repoDir, "branch", branch); err != nil {
		t.Fatalf("failed to create branch %s: %v", branch, err)
	}
}

// CheckoutBranch switches to a branch.
func CheckoutBranch(t *testing.T, repoDir, branch string) {
	t.Helper()

	if err := runGit(repoDir, "checkout", branch); err != nil {
		t.Fatalf("failed to checkout branch %s: %v", branch, err)
	}
}

// CreateBranchWithCommits creates branch from main with n commits on it and
// switches back to main.
func CreateBranchWithCommits(t *testing.T, repoDir, branch string, n int) {
	t.Helper()

	if err := runGit(repoDir, "checkout", "-b", branch, "main"); err != nil {
		t.Fatalf("failed to create branch %s: %v", branch, err)
	}
	for i := 0; i < n; i++ {
		name := strings.NewReplacer("/", "_").Replace(branch)
		CommitFile(t, repoDir, filepath.Join("work", name, "file"+string(rune('a'+i))+".txt"),
			branch+"\n", "work on "+branch)
	}
	CheckoutBranch(t, repoDir, "main")
}

// Git runs a git command and returns its trimmed output, failing the test on error.
func Git(t *testing.T, repoDir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = repoDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}

// ListWorktrees returns all worktree paths in the repository.
func ListWorktrees(t *testing.T, repoDir string) []string {
	t.Helper()

	var worktrees []string
	for _, line := range strings.Split(Git(t, repoDir, "worktree", "list", "--porcelain"), "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			worktrees = append(worktrees, path)
		}
	}
	return worktrees
}

// SkipIfNoGit skips the test if git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}

// runGit runs a git command in the specified directory with a fixed identity.
func runGit(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Spectacular Test",
		"GIT_AUTHOR_EMAIL=test@spectacular.dev",
		"GIT_COMMITTER_NAME=Spectacular Test",
		"GIT_COMMITTER_EMAIL=test@spectacular.dev",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &gitError{args: args, output: output, err: err}
	}
	return nil
}

type gitError struct {
	args   []string
	output []byte
	err    error
}

func (e *gitError) Error() string {
	return "git " + strings.Join(e.args, " ") + ": " + e.err.Error() + "\n" + string(e.output)
}

func (e *gitError) Unwrap() error {
	return e.err
}
