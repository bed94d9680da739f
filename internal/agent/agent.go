// Package agent is the boundary to the external code-writing agent.
//
// The orchestrator treats the agent as an opaque call: a prompt and a working
// directory go in, raw text comes out. Task agents announce the branch they
// committed to with a "BRANCH: <name>" line, which ExtractBranch recovers.
// The review loop talks to the agent through a Thread so that every turn of
// one review shares the same conversation.
package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/arittr/spectacular-codex/internal/gitexec"
	"github.com/arittr/spectacular-codex/internal/logging"
)

// Result is the outcome of a single agent invocation.
type Result struct {
	// RawOutput is the agent's stdout. Stderr is kept out of it so warnings
	// cannot be mistaken for BRANCH or VERDICT markers.
	RawOutput string
}

// Client executes prompts with an agent.
type Client interface {
	// Execute runs prompt in workdir and returns the agent's output.
	Execute(ctx context.Context, prompt, workdir string) (Result, error)

	// OpenThread starts a conversation whose turns share context.
	OpenThread(ctx context.Context, workdir string) (Thread, error)
}

// Thread is a persistent agent conversation.
type Thread interface {
	Send(ctx context.Context, prompt string) (string, error)
}

var branchPattern = regexp.MustCompile(`BRANCH:\s*(\S+)`)

// ExtractBranch returns the branch reported in raw agent output.
// The first marker wins; ok is false when none was reported.
func ExtractBranch(raw string) (branch string, ok bool) {
	m := branchPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExecError is returned when the agent process exits unsuccessfully.
type ExecError struct {
	Backend BackendName
	Workdir string
	Output  string
	Err     error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("%s agent failed in %s: %v", e.Backend, e.Workdir, e.Err)
	if tail := lastLines(e.Output, 5); tail != "" {
		msg += "\n" + tail
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }

// CLIClient runs agents as subprocesses. Agent processes are never
// serialized with git commands, so the runner must not be a gitexec.SerialExecutor.
type CLIClient struct {
	backend Backend
	runner  gitexec.CommandExecutor
	logger  *logging.Logger
}

// NewCLIClient creates a client for backend. A nil runner uses os/exec.
func NewCLIClient(backend Backend, runner gitexec.CommandExecutor, logger *logging.Logger) *CLIClient {
	if runner == nil {
		runner = gitexec.NewCLICommandExecutor()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CLIClient{backend: backend, runner: runner, logger: logger.WithComponent("agent")}
}

// Execute runs a one-shot prompt.
func (c *CLIClient) Execute(ctx context.Context, prompt, workdir string) (Result, error) {
	out, err := c.run(ctx, workdir, c.backend.ExecArgs(prompt))
	if err != nil {
		return Result{}, err
	}
	return Result{RawOutput: out}, nil
}

// OpenThread creates a conversation bound to workdir. No process is started
// until the first Send.
func (c *CLIClient) OpenThread(_ context.Context, workdir string) (Thread, error) {
	return &cliThread{client: c, workdir: workdir, sessionID: uuid.NewString()}, nil
}

func (c *CLIClient) run(ctx context.Context, workdir string, args []string) (string, error) {
	c.logger.Debug("starting agent", "backend", string(c.backend.Name()), "workdir", workdir)
	output, err := c.runner.Run(ctx, workdir, c.backend.Command(), args...)
	if err != nil {
		return "", &ExecError{Backend: c.backend.Name(), Workdir: workdir, Output: string(output), Err: err}
	}
	return string(output), nil
}

type cliThread struct {
	client    *CLIClient
	workdir   string
	sessionID string

	mu      sync.Mutex
	started bool
}

// Send runs one conversation turn. Turns are serialized.
func (t *cliThread) Send(ctx context.Context, prompt string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	args := t.client.backend.ResumeArgs(t.sessionID, prompt)
	if !t.started {
		args = t.client.backend.StartArgs(t.sessionID, prompt)
	}
	out, err := t.client.run(ctx, t.workdir, args)
	if err != nil {
		return "", err
	}
	t.started = true
	return out, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
