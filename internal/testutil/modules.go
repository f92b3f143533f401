package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/pipewright/pipewright/internal/actions"
)

// NoopModule registers a "noop" action that records nothing and always
// succeeds. It keeps definition-focused tests from depending on a shell.
type NoopModule struct{}

// Register implements actions.Module.
func (m *NoopModule) Register(r *actions.Registry) {
	r.Register("noop", func(ctx context.Context, in *actions.Input) (string, error) {
		return "ok", nil
	})
}

// SpyModule registers a "spy" action that records every invocation's `with`
// parameters in call order, plus a "fail" action that always errors.
type SpyModule struct {
	mu    sync.Mutex
	calls []map[string]string
}

// Register implements actions.Module.
func (m *SpyModule) Register(r *actions.Registry) {
	r.Register("spy", func(ctx context.Context, in *actions.Input) (string, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		call := make(map[string]string, len(in.With))
		for k, v := range in.With {
			call[k] = v
		}
		m.calls = append(m.calls, call)
		return "spied", nil
	})
	r.Register("fail", func(ctx context.Context, in *actions.Input) (string, error) {
		return "", fmt.Errorf("action failed as instructed")
	})
}

// Calls returns a copy of the recorded invocations.
func (m *SpyModule) Calls() []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded invocations.
func (m *SpyModule) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
