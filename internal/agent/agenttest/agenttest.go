// Package agenttest provides deterministic agent.Client implementations for tests.
package agenttest

import (
	"context"
	"errors"
	"sync"

	"github.com/arittr/spectacular-codex/internal/agent"
)

// Call records one Execute invocation.
type Call struct {
	Prompt  string
	Workdir string
}

// ExecuteFunc produces the outcome of an Execute call.
type ExecuteFunc func(ctx context.Context, prompt, workdir string) (agent.Result, error)

// Client is a scripted agent.Client. Execute delegates to OnExecute; thread
// turns consume Replies in order. It is safe for concurrent use.
type Client struct {
	OnExecute ExecuteFunc

	mu      sync.Mutex
	replies []string
	calls   []Call
	turns   []string
	threads int
}

// ErrScriptExhausted is returned by a thread turn with no reply left.
var ErrScriptExhausted = errors.New("agenttest: no scripted reply left")

// NewClient returns a client whose threads answer with replies in order.
func NewClient(replies ...string) *Client {
	return &Client{replies: replies}
}

// Execute records the call and delegates to OnExecute. Without OnExecute it
// returns empty output.
func (c *Client) Execute(ctx context.Context, prompt, workdir string) (agent.Result, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Prompt: prompt, Workdir: workdir})
	fn := c.OnExecute
	c.mu.Unlock()

	if fn == nil {
		return agent.Result{}, nil
	}
	return fn(ctx, prompt, workdir)
}

// OpenThread returns a thread drawing from the shared reply script.
func (c *Client) OpenThread(context.Context, string) (agent.Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads++
	return &thread{client: c}, nil
}

// Calls returns the recorded Execute calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Turns returns every prompt sent on any thread.
func (c *Client) Turns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.turns...)
}

// Threads returns how many threads were opened.
func (c *Client) Threads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threads
}

type thread struct {
	client *Client
}

func (t *thread) Send(_ context.Context, prompt string) (string, error) {
	c := t.client
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, prompt)
	if len(c.replies) == 0 {
		return "", ErrScriptExhausted
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply, nil
}
