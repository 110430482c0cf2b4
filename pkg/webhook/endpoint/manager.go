package endpoint

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the endpoint does not exist.
var ErrNotFound = errors.New("endpoint not found")

// ValidationError reports an invalid endpoint configuration field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("endpoint config: field '%s': %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// tokenEntropyBytes is the entropy of issued bearer tokens.
const tokenEntropyBytes = 24

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	TenantID      string
	TargetAgentID string
	// Enabled filters on the enabled flag when set.
	Enabled *bool
}

// Manager owns endpoint CRUD. All mutations are serialized; List
// returns a point-in-time snapshot of copies.
type Manager struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	now       func() time.Time
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		endpoints: make(map[string]*Endpoint),
		now:       time.Now,
	}
}

// Create validates the config, assigns id and timestamps, and issues an
// opaque bearer token for bearer-auth endpoints.
func (m *Manager) Create(_ context.Context, e *Endpoint) (*Endpoint, error) {
	stored := e.Clone()
	stored.ID = uuid.NewString()
	stored.CreatedAt = m.now().UTC()
	stored.UpdatedAt = stored.CreatedAt

	if stored.AuthMethod == AuthBearer && stored.AuthToken == "" {
		token, err := issueToken()
		if err != nil {
			return nil, fmt.Errorf("issue auth token: %w", err)
		}
		stored.AuthToken = token
	}

	if err := validateConfig(stored); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[stored.ID] = stored
	return stored.Clone(), nil
}

// Get returns a copy of the endpoint.
func (m *Manager) Get(_ context.Context, id string) (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.Clone(), nil
}

// Update replaces the mutable config of an existing endpoint. Identity
// fields (id, tenant, created_at) and the issued token are preserved.
func (m *Manager) Update(_ context.Context, id string, e *Endpoint) (*Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	updated := e.Clone()
	updated.ID = current.ID
	updated.TenantID = current.TenantID
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = m.now().UTC()
	if updated.AuthMethod == AuthBearer && updated.AuthToken == "" {
		updated.AuthToken = current.AuthToken
	}

	if err := validateConfig(updated); err != nil {
		return nil, err
	}

	m.endpoints[id] = updated
	return updated.Clone(), nil
}

// Delete removes the endpoint; it becomes unresolvable immediately.
func (m *Manager) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.endpoints[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.endpoints, id)
	return nil
}

// List returns endpoint copies matching the filter, newest first.
func (m *Manager) List(_ context.Context, filter ListFilter) ([]*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Endpoint
	for _, e := range m.endpoints {
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.TargetAgentID != "" && e.TargetAgentID != filter.TargetAgentID {
			continue
		}
		if filter.Enabled != nil && e.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, e.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// validateConfig enforces the endpoint config rules.
func validateConfig(e *Endpoint) error {
	if e.Name == "" {
		return &ValidationError{Field: "name", Err: errors.New("must not be empty")}
	}
	if e.TargetAgentID == "" {
		return &ValidationError{Field: "target_agent_id", Err: errors.New("must not be empty")}
	}

	switch e.AuthMethod {
	case AuthBearer:
		if e.AuthToken == "" {
			return &ValidationError{Field: "auth_token", Err: errors.New("bearer auth requires a token")}
		}
	case AuthBasic:
		if e.Basic == nil || e.Basic.Username == "" || e.Basic.Password == "" {
			return &ValidationError{Field: "basic", Err: errors.New("basic auth requires username and password")}
		}
	case AuthHMAC:
		if e.HMACSecret == "" {
			return &ValidationError{Field: "hmac_secret", Err: errors.New("hmac auth requires a secret")}
		}
		if e.HMACAlgorithm != HMACSHA256 && e.HMACAlgorithm != HMACSHA512 {
			return &ValidationError{Field: "hmac_algorithm",
				Err: fmt.Errorf("unsupported algorithm %q (must be sha256 or sha512)", e.HMACAlgorithm)}
		}
	default:
		return &ValidationError{Field: "auth_method",
			Err: fmt.Errorf("unknown method %q", e.AuthMethod)}
	}

	switch e.Mode {
	case ModeSync, ModeAsync:
	default:
		return &ValidationError{Field: "mode", Err: fmt.Errorf("unknown mode %q", e.Mode)}
	}

	if e.TimeoutSeconds != nil && *e.TimeoutSeconds <= 0 {
		return &ValidationError{Field: "timeout_seconds", Err: errors.New("must be positive")}
	}

	if rp := e.RetryPolicy; rp != nil {
		if rp.MaxAttempts <= 0 {
			return &ValidationError{Field: "retry_policy.max_attempts", Err: errors.New("must be at least 1")}
		}
		if rp.InitialDelayMs < 0 || rp.MaxDelayMs < 0 {
			return &ValidationError{Field: "retry_policy", Err: errors.New("delays must not be negative")}
		}
		if rp.BackoffMultiplier < 1 {
			return &ValidationError{Field: "retry_policy.backoff_multiplier", Err: errors.New("must be at least 1")}
		}
	}
	return nil
}

// issueToken generates an opaque URL-safe token with tokenEntropyBytes
// of entropy.
func issueToken() (string, error) {
	raw := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
