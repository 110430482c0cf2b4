// Package trigger executes validated webhook requests against the
// agent runtime: idempotency, retry with backoff, per-attempt
// timeouts, and sync/async dispatch.
package trigger

import (
	"time"

	"github.com/owlhub/platform/pkg/webhook/runtime"
)

// Status is the lifecycle state of one execution.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ExecutionResult is the outcome of one trigger. Async dispatch
// returns accepted with no completed_at; sync returns completed (or
// failed) with both timestamps.
type ExecutionResult struct {
	ExecutionID string         `json:"execution_id"`
	Status      Status         `json:"status"`
	StatusCode  int            `json:"status_code,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Output      runtime.Output `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Clone returns a deep copy.
func (r *ExecutionResult) Clone() *ExecutionResult {
	out := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.Output != nil {
		output := make(runtime.Output, len(r.Output))
		for k, v := range r.Output {
			output[k] = v
		}
		out.Output = output
	}
	return &out
}
