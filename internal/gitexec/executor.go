// Package gitexec runs external commands (git, git-spice) on behalf of the
// worktree, branch state and stacking packages.
//
// The repository is treated as a single serialized resource: wrapping an
// executor with [Serialize] guarantees that no two commands issued through it
// overlap, even when callers run on different goroutines. Agent subprocesses
// never go through this package and keep running in parallel.
package gitexec

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
)

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command in dir. On success it returns stdout; on
	// failure stdout followed by stderr, for diagnostics.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command. Stderr is only returned when the command fails, so
// warnings never end up in output that callers parse.
func (e *CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return append(stdout.Bytes(), stderr.Bytes()...), err
	}
	return stdout.Bytes(), nil
}

// SerialExecutor runs at most one command at a time.
// It also implements sync.Locker so that in-process readers (go-git) can
// join the same critical section.
type SerialExecutor struct {
	mu   sync.Mutex
	next CommandExecutor
}

// Serialize wraps next so that commands issued through the result never overlap.
func Serialize(next CommandExecutor) *SerialExecutor {
	return &SerialExecutor{next: next}
}

// Run executes the command while holding the repository lock.
func (s *SerialExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Run(ctx, dir, name, args...)
}

// Lock acquires the repository lock.
func (s *SerialExecutor) Lock() { s.mu.Lock() }

// Unlock releases the repository lock.
func (s *SerialExecutor) Unlock() { s.mu.Unlock() }

// Lines splits command output into trimmed, non-empty lines.
func Lines(output []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
