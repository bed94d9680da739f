// Package stack linearizes the branches produced by a parallel phase into a
// single chain on top of the phase's base ref.
//
// Given branches [b0, b1, b2] and base B, every backend produces
//
//	B <- b0 <- b1 <- b2
//
// Backends differ only in mechanism. Detect must succeed before Stack is
// called; a failing Detect is a configuration problem, not a task failure.
package stack

import (
	"context"
	"fmt"
	"strings"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/gitexec"
)

// Backend names accepted by New.
const (
	KindGitSpice = "git-spice"
	KindRebase   = "rebase"
)

// Backend rewrites an ordered list of branches into a linear stack.
type Backend interface {
	// Name identifies the backend in logs and warnings.
	Name() string

	// Detect reports whether the backend's tooling is usable in workdir.
	// It returns an error wrapping errors.ErrBackendUnavailable otherwise.
	Detect(ctx context.Context, workdir string) error

	// Stack places branches[0] on baseRef and each following branch on its
	// predecessor. Empty input is a no-op.
	Stack(ctx context.Context, branches []string, baseRef, workdir string) error
}

// New returns the backend registered under kind. command overrides the
// executable for backends that shell out to their own CLI.
func New(kind, command string, executor gitexec.CommandExecutor) (Backend, error) {
	switch strings.ToLower(kind) {
	case KindGitSpice, "":
		return NewGitSpice(command, executor), nil
	case KindRebase:
		return NewRebase(executor), nil
	default:
		return nil, errors.NewValidationError("unknown stacking backend").
			WithField("stacking.backend").
			WithValue(kind)
	}
}

// ConflictError reports a branch that could not be replayed onto its new parent.
type ConflictError struct {
	Branch    string
	Onto      string
	Files     []string
	GitOutput string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict stacking %s onto %s: %d file(s) affected", e.Branch, e.Onto, len(e.Files))
}

func isConflict(output string) bool {
	return strings.Contains(output, "CONFLICT") ||
		strings.Contains(output, "could not apply") ||
		strings.Contains(output, "Resolve all conflicts")
}

// conflictedFiles lists unmerged paths in workdir.
func conflictedFiles(ctx context.Context, executor gitexec.CommandExecutor, workdir string) []string {
	output, err := executor.Run(ctx, workdir, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	return gitexec.Lines(output)
}
