// Package runtime is the seam to the agent runtime that executes
// webhook-triggered work. The gateway only depends on the Runtime
// interface; the HTTP adapter is the production implementation.
package runtime

import (
	"context"
	"errors"
	"fmt"
)

// ErrTimeout marks a runtime attempt that exceeded its budget. The
// trigger retries these per policy.
var ErrTimeout = errors.New("runtime timeout")

// ErrConnection marks a transport-level failure reaching the runtime.
// The trigger retries these per policy.
var ErrConnection = errors.New("runtime connection error")

// Retryable reports whether an invocation error qualifies for retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection)
}

// AgentInput is one unit of work for the runtime.
type AgentInput struct {
	AgentID    string         `json:"agent_id"`
	TenantID   string         `json:"tenant_id"`
	RequestID  string         `json:"request_id"`
	Parameters map[string]any `json:"parameters"`
}

// Output is what a completed invocation produced.
type Output map[string]any

// Runtime executes agent work.
type Runtime interface {
	Invoke(ctx context.Context, input AgentInput) (Output, error)
}

// InvokeError wraps a runtime failure with its input context.
type InvokeError struct {
	AgentID string
	Err     error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("invoke agent %s: %v", e.AgentID, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }
