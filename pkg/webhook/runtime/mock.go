package runtime

import (
	"context"
	"sync"
)

// MockRuntime is an in-memory Runtime for tests. Failures can be
// scripted ahead of invocations; the call count is observable.
type MockRuntime struct {
	mu sync.Mutex

	// Output returned on success.
	Output Output
	// failures are consumed one per invocation before Output applies.
	failures []error
	calls    int
	inputs   []AgentInput
}

// NewMockRuntime creates a mock returning the given output.
func NewMockRuntime(output Output) *MockRuntime {
	return &MockRuntime{Output: output}
}

// FailNext scripts errors for the next invocations, in order.
func (m *MockRuntime) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Calls returns how many invocations happened.
func (m *MockRuntime) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Inputs returns a copy of all received inputs.
func (m *MockRuntime) Inputs() []AgentInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AgentInput, len(m.inputs))
	copy(out, m.inputs)
	return out
}

func (m *MockRuntime) Invoke(ctx context.Context, input AgentInput) (Output, error) {
	m.mu.Lock()
	m.calls++
	m.inputs = append(m.inputs, input)
	var fail error
	if len(m.failures) > 0 {
		fail = m.failures[0]
		m.failures = m.failures[1:]
	}
	m.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.Output, nil
}
