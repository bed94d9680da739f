package agent

import (
	"fmt"
	"strings"

	"github.com/arittr/spectacular-codex/internal/config"
)

// BackendName identifies a supported agent CLI.
type BackendName string

const (
	BackendClaude BackendName = "claude"
	BackendCodex  BackendName = "codex"
)

// Backend builds the command lines for one agent CLI.
type Backend interface {
	Name() BackendName
	Command() string
	// ExecArgs runs a single prompt and exits.
	ExecArgs(prompt string) []string
	// StartArgs opens a conversation identified by sessionID with its first prompt.
	StartArgs(sessionID, prompt string) []string
	// ResumeArgs continues the conversation identified by sessionID.
	ResumeArgs(sessionID, prompt string) []string
}

// ErrUnknownBackend is returned when the configured backend is unsupported.
var ErrUnknownBackend = fmt.Errorf("unknown agent backend")

// NewBackend builds a Backend from configuration.
func NewBackend(cfg config.AgentConfig) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case string(BackendClaude), "":
		return NewClaudeBackend(cfg.Command, cfg.SkipPermissions), nil
	case string(BackendCodex):
		return NewCodexBackend(cfg.Command, cfg.ApprovalMode), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// ClaudeBackend drives Claude Code in print mode.
type ClaudeBackend struct {
	command         string
	skipPermissions bool
}

// NewClaudeBackend creates a Claude backend. An empty command means "claude".
func NewClaudeBackend(command string, skipPermissions bool) *ClaudeBackend {
	if command == "" {
		command = "claude"
	}
	return &ClaudeBackend{command: command, skipPermissions: skipPermissions}
}

func (c *ClaudeBackend) Name() BackendName { return BackendClaude }

func (c *ClaudeBackend) Command() string { return c.command }

func (c *ClaudeBackend) ExecArgs(prompt string) []string {
	return append(c.baseArgs(), prompt)
}

func (c *ClaudeBackend) StartArgs(sessionID, prompt string) []string {
	return append(c.baseArgs(), "--session-id", sessionID, prompt)
}

func (c *ClaudeBackend) ResumeArgs(sessionID, prompt string) []string {
	return append(c.baseArgs(), "--resume", sessionID, prompt)
}

func (c *ClaudeBackend) baseArgs() []string {
	args := []string{"--print"}
	if c.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return args
}

// CodexBackend drives the Codex CLI through `codex exec`.
// Codex assigns its own session ids, so threads resume the most recent
// session recorded for the working directory.
type CodexBackend struct {
	command      string
	approvalMode string
}

// NewCodexBackend creates a Codex backend. An empty command means "codex"
// and an empty approval mode means "full-auto".
func NewCodexBackend(command, approvalMode string) *CodexBackend {
	if command == "" {
		command = "codex"
	}
	if approvalMode == "" {
		approvalMode = "full-auto"
	}
	return &CodexBackend{command: command, approvalMode: approvalMode}
}

func (c *CodexBackend) Name() BackendName { return BackendCodex }

func (c *CodexBackend) Command() string { return c.command }

func (c *CodexBackend) ExecArgs(prompt string) []string {
	return append(append([]string{"exec"}, c.approvalFlags()...), prompt)
}

func (c *CodexBackend) StartArgs(_, prompt string) []string {
	return c.ExecArgs(prompt)
}

func (c *CodexBackend) ResumeArgs(_, prompt string) []string {
	return append(append([]string{"exec"}, c.approvalFlags()...), "resume", "--last", prompt)
}

func (c *CodexBackend) approvalFlags() []string {
	switch strings.ToLower(c.approvalMode) {
	case "bypass":
		return []string{"--dangerously-bypass-approvals-and-sandbox"}
	case "full-auto":
		return []string{"--full-auto"}
	default:
		return nil
	}
}
