package config

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "execution.max_parallel")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// MaxRejectionsLimit is the hard upper bound on review rejections.
const MaxRejectionsLimit = 3

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidAgentBackends returns the supported agent CLIs
func ValidAgentBackends() []string {
	return []string{"claude", "codex"}
}

// ValidApprovalModes returns the supported codex approval modes
func ValidApprovalModes() []string {
	return []string{"full-auto", "bypass", "default"}
}

// ValidStackingBackends returns the supported stacking backends
func ValidStackingBackends() []string {
	return []string{"git-spice", "rebase"}
}

// ValidBranchStateReaders returns the supported branch state readers
func ValidBranchStateReaders() []string {
	return []string{"cli", "go-git"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateExecution()...)
	errors = append(errors, c.validateReview()...)
	errors = append(errors, c.validateStacking()...)
	errors = append(errors, c.validateBranchState()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateServer()...)

	return errors
}

func oneOf(field, value string, valid []string) []ValidationError {
	if slices.Contains(valid, value) {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(valid, ", ")),
	}}
}

// validateAgent validates the AgentConfig
func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	errors = append(errors, oneOf("agent.backend", c.Agent.Backend, ValidAgentBackends())...)
	if c.Agent.Backend == "codex" {
		errors = append(errors, oneOf("agent.approval_mode", c.Agent.ApprovalMode, ValidApprovalModes())...)
	}
	if strings.ContainsAny(c.Agent.Command, " \t\n") {
		errors = append(errors, ValidationError{
			Field:   "agent.command",
			Value:   c.Agent.Command,
			Message: "must be a single executable name or path without whitespace",
		})
	}

	return errors
}

// validateExecution validates the ExecutionConfig
func (c *Config) validateExecution() []ValidationError {
	var errors []ValidationError

	if c.Execution.MaxParallel < 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.max_parallel",
			Value:   c.Execution.MaxParallel,
			Message: "must be non-negative (0 means unlimited)",
		})
	}

	const maxMaxParallel = 64
	if c.Execution.MaxParallel > maxMaxParallel {
		errors = append(errors, ValidationError{
			Field:   "execution.max_parallel",
			Value:   c.Execution.MaxParallel,
			Message: fmt.Sprintf("exceeds maximum of %d", maxMaxParallel),
		})
	}

	if strings.TrimSpace(c.Execution.BaseRef) == "" {
		errors = append(errors, ValidationError{
			Field:   "execution.base_ref",
			Value:   c.Execution.BaseRef,
			Message: "cannot be empty",
		})
	}

	return errors
}

// validateReview validates the ReviewConfig
func (c *Config) validateReview() []ValidationError {
	if c.Review.MaxRejections < 1 || c.Review.MaxRejections > MaxRejectionsLimit {
		return []ValidationError{{
			Field:   "review.max_rejections",
			Value:   c.Review.MaxRejections,
			Message: fmt.Sprintf("must be between 1 and %d", MaxRejectionsLimit),
		}}
	}
	return nil
}

// validateStacking validates the StackingConfig
func (c *Config) validateStacking() []ValidationError {
	var errors []ValidationError

	errors = append(errors, oneOf("stacking.backend", c.Stacking.Backend, ValidStackingBackends())...)
	if c.Stacking.Backend == "git-spice" && c.Stacking.Command == "" {
		errors = append(errors, ValidationError{
			Field:   "stacking.command",
			Value:   c.Stacking.Command,
			Message: "cannot be empty when stacking.backend is git-spice",
		})
	}

	return errors
}

// validateBranchState validates the BranchStateConfig
func (c *Config) validateBranchState() []ValidationError {
	return oneOf("branchstate.reader", c.BranchState.Reader, ValidBranchStateReaders())
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		return []ValidationError{{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		}}
	}
	return nil
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	if c.Server.HTTPAddr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Server.HTTPAddr); err != nil {
		return []ValidationError{{
			Field:   "server.http_addr",
			Value:   c.Server.HTTPAddr,
			Message: "must be a host:port address",
		}}
	}
	return nil
}
