// Package errors provides the error vocabulary shared by the orchestration
// packages: sentinel errors, builder-style domain errors carrying run, phase,
// task and git context, and classification helpers.
//
// # Error Types
//
// Domain errors describe failures of a specific subsystem:
//   - PhaseError: setup or coordination failures while running a phase
//   - GitError: failures of git commands (worktrees, branches, stacking)
//
// Semantic errors describe common conditions:
//   - NotFoundError: an unknown run, phase or task
//   - ValidationError: invalid plan or configuration input
//
// # Usage
//
//	err := errors.NewGitError("failed to add worktree", cause).
//		WithWorktree(path).
//		WithGitOutput(string(output))
//
//	if errors.Is(err, errors.ErrWorktreeExists) { ... }
//
//	var phaseErr *errors.PhaseError
//	if errors.As(err, &phaseErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers only need this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Run and plan sentinel errors
var (
	// ErrRunNotFound indicates that no job is tracked for a run id.
	ErrRunNotFound = New("run not found")
	// ErrRunInProgress indicates that a run with the same id is already executing.
	ErrRunInProgress = New("run already in progress")
	// ErrPlanInvalid indicates that a plan failed validation.
	ErrPlanInvalid = New("plan is invalid")
	// ErrTaskFailed indicates that a task execution failed.
	ErrTaskFailed = New("task failed")
)

// Git sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrWorktreeExists indicates that a worktree already exists at the target path.
	ErrWorktreeExists = New("worktree already exists")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrBackendUnavailable indicates the configured stacking backend is not installed.
	ErrBackendUnavailable = New("stacking backend unavailable")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) IsUserFacing() bool { return e.userFacing }

// classified is implemented by every error type in this package.
type classified interface {
	error
	Severity() Severity
	IsUserFacing() bool
}

// formatWithContext renders "<kind> [k=v, ...]: message: cause".
func formatWithContext(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// PhaseError represents a setup or coordination failure while running a
// phase: the resume check failed, a worktree could not be created, the
// shared worktree was busy. It is fatal to the phase.
//
// Example:
//
//	err := errors.NewPhaseError("failed to create worktree", cause).
//		WithRun("a1b2c3").WithPhase(2).WithTaskID("2-1")
type PhaseError struct {
	baseError
	RunID  string
	Phase  int
	TaskID string
}

// NewPhaseError creates a new PhaseError.
func NewPhaseError(message string, cause error) *PhaseError {
	return &PhaseError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithRun adds the run id to the error context.
func (e *PhaseError) WithRun(runID string) *PhaseError {
	e.RunID = runID
	return e
}

// WithPhase adds the phase number to the error context.
func (e *PhaseError) WithPhase(phase int) *PhaseError {
	e.Phase = phase
	return e
}

// WithTaskID adds a task id to the error context.
func (e *PhaseError) WithTaskID(id string) *PhaseError {
	e.TaskID = id
	return e
}

// Error returns the formatted error message.
func (e *PhaseError) Error() string {
	var parts []string
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	if e.Phase > 0 {
		parts = append(parts, fmt.Sprintf("phase=%d", e.Phase))
	}
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	return formatWithContext("phase error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *PhaseError) Is(target error) bool {
	if _, ok := target.(*PhaseError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents errors related to git operations.
//
// Example:
//
//	err := errors.NewGitError("failed to create worktree", errors.ErrWorktreeExists)
//	err = err.WithBranch("a1b2c3-task-1-1-setup").WithWorktree("/path/to/worktree")
type GitError struct {
	baseError
	Branch     string
	Worktree   string
	Repository string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithGitOutput attaches the captured command output.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}
	return formatWithContext("git error", parts, msg, nil)
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// NewRunNotFoundError reports an unknown run id. It matches ErrRunNotFound.
func NewRunNotFoundError(runID string) *NotFoundError {
	return NewNotFoundError("run", runID).WithCause(ErrRunNotFound)
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the message alone; the cause only restates it.
func (e *NotFoundError) Error() string { return e.message }

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("phase ids must increase").
//		WithField("phases[1].id").WithValue(1)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatWithContext("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput || target == ErrPlanInvalid {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsUserFacing returns true if the error message is safe to display to users.
func IsUserFacing(err error) bool {
	var c classified
	if As(err, &c) {
		return c.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity of err, SeverityError for foreign errors.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var c classified
	if As(err, &c) {
		return c.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with an additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
