// Package endpoint owns webhook endpoint configuration: the model, its
// validation rules, and the manager that serializes CRUD on it.
package endpoint

import (
	"time"
)

// AuthMethod is how inbound webhook requests authenticate.
type AuthMethod string

const (
	AuthBearer AuthMethod = "bearer"
	AuthBasic  AuthMethod = "basic"
	AuthHMAC   AuthMethod = "hmac"
)

// HMACAlgorithm names the digest used for signature verification.
type HMACAlgorithm string

const (
	HMACSHA256 HMACAlgorithm = "sha256"
	HMACSHA512 HMACAlgorithm = "sha512"
)

// ExecutionMode selects how a validated request reaches the runtime.
type ExecutionMode string

const (
	ModeSync  ExecutionMode = "sync"
	ModeAsync ExecutionMode = "async"
)

// RetryPolicy bounds runtime invocation retries.
type RetryPolicy struct {
	MaxAttempts       int     `json:"max_attempts"`
	InitialDelayMs    int     `json:"initial_delay_ms"`
	MaxDelayMs        int     `json:"max_delay_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// BasicCredentials carries basic auth configuration.
type BasicCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Endpoint is one tenant-scoped webhook endpoint.
type Endpoint struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	// TargetAgentID is the agent the runtime executes for this endpoint.
	TargetAgentID string `json:"target_agent_id"`

	AuthMethod AuthMethod `json:"auth_method"`
	// AuthToken is the opaque token issued on create (bearer auth).
	AuthToken     string            `json:"auth_token,omitempty"`
	Basic         *BasicCredentials `json:"basic,omitempty"`
	HMACSecret    string            `json:"hmac_secret,omitempty"`
	HMACAlgorithm HMACAlgorithm     `json:"hmac_algorithm,omitempty"`

	TransformationRuleID string        `json:"transformation_rule_id,omitempty"`
	Mode                 ExecutionMode `json:"mode"`
	TimeoutSeconds       *float64      `json:"timeout_seconds,omitempty"`
	RetryPolicy          *RetryPolicy  `json:"retry_policy,omitempty"`
	Enabled              bool          `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (e *Endpoint) Clone() *Endpoint {
	out := *e
	if e.Basic != nil {
		basic := *e.Basic
		out.Basic = &basic
	}
	if e.TimeoutSeconds != nil {
		t := *e.TimeoutSeconds
		out.TimeoutSeconds = &t
	}
	if e.RetryPolicy != nil {
		rp := *e.RetryPolicy
		out.RetryPolicy = &rp
	}
	return &out
}
