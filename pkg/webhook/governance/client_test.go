package governance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedDecision struct {
	kind     CheckKind
	decision Decision
}

type captureSink struct {
	decisions []capturedDecision
}

func (s *captureSink) RecordDecision(_ context.Context, kind CheckKind, _ Request, d Decision) {
	s.decisions = append(s.decisions, capturedDecision{kind: kind, decision: d})
}

func TestCheckPermission_Allowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checks/permission", r.URL.Path)
		json.NewEncoder(w).Encode(Decision{Allowed: true})
	}))
	defer srv.Close()

	sink := &captureSink{}
	c := NewClient(srv.URL, sink)

	d := c.CheckPermission(context.Background(), Request{TenantID: "t1", EndpointID: "e1"})
	assert.True(t, d.Allowed)
	require.Len(t, sink.decisions, 1)
	assert.Equal(t, CheckPermission, sink.decisions[0].kind)
}

func TestCheckPermission_DeniedCarriesReasonAndLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Decision{
			Allowed:      false,
			StatusCode:   http.StatusForbidden,
			Reason:       "denied",
			PolicyLimits: map[string]any{"max_per_hour": float64(10)},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	d := c.CheckPermission(context.Background(), Request{})

	assert.False(t, d.Allowed)
	assert.Equal(t, http.StatusForbidden, d.StatusCode)
	assert.Equal(t, "denied", d.Reason)
	assert.Equal(t, float64(10), d.PolicyLimits["max_per_hour"])
}

func TestCheckRateLimit_DefaultDenyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checks/rate_limit", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"allowed": false, "reason": "burst"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	d := c.CheckRateLimit(context.Background(), Request{})

	assert.False(t, d.Allowed)
	assert.Equal(t, http.StatusTooManyRequests, d.StatusCode)
}

func TestCheck_TimeoutFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		json.NewEncoder(w).Encode(Decision{Allowed: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	c.SetTimeout(10 * time.Millisecond)

	d := c.CheckPermission(context.Background(), Request{})
	assert.False(t, d.Allowed)
	assert.Equal(t, http.StatusServiceUnavailable, d.StatusCode)
}

func TestCheck_TransportErrorFailsClosed(t *testing.T) {
	sink := &captureSink{}
	c := NewClient("http://127.0.0.1:1", sink)
	c.SetTimeout(200 * time.Millisecond)

	d := c.CheckPermission(context.Background(), Request{})
	assert.False(t, d.Allowed)
	assert.Equal(t, http.StatusServiceUnavailable, d.StatusCode)
	require.Len(t, sink.decisions, 1, "denials are audited too")
}
