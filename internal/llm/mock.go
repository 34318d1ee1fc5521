package llm

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a scripted Client for tests. Responses are played in order; when
// the script runs out, the last response repeats. Every prompt is recorded.
type Mock struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int

	// Prompts holds every user prompt received, in order.
	Prompts []string
	// Systems holds the system prompt for each call ("" for Complete).
	Systems []string
}

// NewMock creates a mock that plays the given responses in order.
func NewMock(responses ...string) *Mock {
	return &Mock{responses: responses}
}

// FailWith appends an error to the script; errors are consumed before
// responses at the matching call index.
func (m *Mock) FailWith(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return m
}

// Complete plays the next scripted response.
func (m *Mock) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem plays the next scripted response.
func (m *Mock) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Systems = append(m.Systems, system)
	m.Prompts = append(m.Prompts, user)
	idx := m.calls
	m.calls++

	if idx < len(m.errs) && m.errs[idx] != nil {
		return "", m.errs[idx]
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("mock has no scripted responses")
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// Calls returns how many completions were requested.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
