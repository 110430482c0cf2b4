// Package governance asks an external policy service whether a request
// may proceed. Checks are fail-closed: when the service is slow or
// unreachable the request is denied with a 503.
package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// defaultCheckTimeout bounds one governance round trip.
const defaultCheckTimeout = time.Second

// CheckKind names the two governance checks.
type CheckKind string

const (
	CheckPermission CheckKind = "permission"
	CheckRateLimit  CheckKind = "rate_limit"
)

// Request identifies what is being checked.
type Request struct {
	TenantID   string `json:"tenant_id"`
	EndpointID string `json:"endpoint_id"`
	AgentID    string `json:"agent_id"`
	RequestID  string `json:"request_id"`
}

// Decision is the governance verdict.
type Decision struct {
	Allowed bool `json:"allowed"`
	// StatusCode is the HTTP status a denial maps to: 403 for
	// permission, 429 for rate limit, 503 when governance itself is
	// unavailable.
	StatusCode   int            `json:"status_code"`
	Reason       string         `json:"reason,omitempty"`
	PolicyLimits map[string]any `json:"policy_limits,omitempty"`
}

// AuditSink receives every governance decision when configured.
type AuditSink interface {
	RecordDecision(ctx context.Context, kind CheckKind, req Request, decision Decision)
}

// Client calls the governance service over JSON HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	audit   AuditSink
}

// NewClient creates a governance client. The audit sink may be nil.
func NewClient(baseURL string, audit AuditSink) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: defaultCheckTimeout,
		audit:   audit,
	}
}

// SetTimeout overrides the per-check budget (tests only).
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// CheckPermission asks whether the tenant may trigger the endpoint.
func (c *Client) CheckPermission(ctx context.Context, req Request) Decision {
	return c.check(ctx, CheckPermission, req, http.StatusForbidden)
}

// CheckRateLimit asks whether the tenant is within policy limits.
func (c *Client) CheckRateLimit(ctx context.Context, req Request) Decision {
	return c.check(ctx, CheckRateLimit, req, http.StatusTooManyRequests)
}

func (c *Client) check(ctx context.Context, kind CheckKind, req Request, denyStatus int) Decision {
	decision := c.call(ctx, kind, req, denyStatus)
	if c.audit != nil {
		c.audit.RecordDecision(ctx, kind, req, decision)
	}
	if !decision.Allowed {
		slog.Info("Governance denied request",
			"check", string(kind), "endpoint_id", req.EndpointID,
			"status_code", decision.StatusCode, "reason", decision.Reason)
	}
	return decision
}

func (c *Client) call(ctx context.Context, kind CheckKind, req Request, denyStatus int) Decision {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return unavailable(fmt.Sprintf("encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/checks/%s", c.baseURL, kind), bytes.NewReader(body))
	if err != nil {
		return unavailable(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Timeouts and transport errors deny fail-closed.
		return unavailable(err.Error())
	}
	defer resp.Body.Close()

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return unavailable(fmt.Sprintf("decode decision: %v", err))
	}

	if !decision.Allowed && decision.StatusCode == 0 {
		decision.StatusCode = denyStatus
	}
	return decision
}

func unavailable(reason string) Decision {
	return Decision{
		Allowed:    false,
		StatusCode: http.StatusServiceUnavailable,
		Reason:     "governance unavailable: " + reason,
	}
}
