package testutil

import (
	"context"
	"strings"
	"sync"
)

// Call records a single command invocation.
type Call struct {
	Dir  string
	Name string
	Args []string
}

// String renders the call as a command line, e.g. "git worktree add --detach /p".
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Response is a canned result for a command.
type Response struct {
	Output string
	Err    error
}

// MockExecutor is a test double for gitexec.CommandExecutor.
// Responses are matched by command-line prefix; the longest registered
// prefix wins. Unmatched commands succeed with empty output.
// It is safe for concurrent use.
type MockExecutor struct {
	mu        sync.Mutex
	calls     []Call
	responses map[string][]Response
}

// NewMockExecutor creates an empty MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{responses: make(map[string][]Response)}
}

// On registers a response for commands whose command line starts with prefix.
// Multiple registrations for the same prefix are consumed in order; the last
// one repeats.
func (m *MockExecutor) On(prefix string, output string, err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prefix] = append(m.responses[prefix], Response{Output: output, Err: err})
	return m
}

// Run records the call and returns the matching canned response.
func (m *MockExecutor) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := Call{Dir: dir, Name: name, Args: append([]string(nil), args...)}
	m.calls = append(m.calls, call)

	line := call.String()
	best := ""
	for prefix := range m.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	queue, ok := m.responses[best]
	if !ok || len(queue) == 0 {
		return nil, nil
	}

	resp := queue[0]
	if len(queue) > 1 {
		m.responses[best] = queue[1:]
	}
	return []byte(resp.Output), resp.Err
}

// Calls returns a copy of all recorded calls.
func (m *MockExecutor) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CommandLines returns the recorded calls rendered as command lines.
func (m *MockExecutor) CommandLines() []string {
	calls := m.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// CountPrefix returns how many recorded calls start with prefix.
func (m *MockExecutor) CountPrefix(prefix string) int {
	n := 0
	for _, line := range m.CommandLines() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}
