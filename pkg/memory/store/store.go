package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an entry id does not exist in scope.
	ErrNotFound = errors.New("memory entry not found")

	// ErrBlankScope is returned when agent or tenant id is empty.
	ErrBlankScope = errors.New("agent_id and tenant_id are required")

	// ErrContentTooLong is returned when content exceeds MaxContentLength.
	ErrContentTooLong = errors.New("content exceeds maximum length")
)

// DimensionError reports an embedding whose length does not match the
// store's configured dimension.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// SearchQuery describes a scoped similarity search.
type SearchQuery struct {
	// Vector is the query embedding. When nil the store returns entries
	// newest-first with score 1.0.
	Vector []float32
	// Limit bounds the number of results.
	Limit int
	// Tags filters with AND semantics when non-empty.
	Tags []string
	// IncludeArchived includes archived entries when true.
	IncludeArchived bool
}

// Store is the pluggable long-term memory backend. Implementations must
// enforce tenant isolation on every operation and must return copies —
// mutations to returned entries never affect stored state.
type Store interface {
	// Save persists a new entry. The entry must carry a valid scope,
	// bounded content, and an embedding of the configured dimension (or
	// none).
	Save(ctx context.Context, entry *Entry) error

	// Search returns scored entries for the scope. With a query vector
	// the score is cosine similarity × time decay; ties break newest
	// first. Archived entries are excluded unless requested.
	Search(ctx context.Context, scope Scope, q SearchQuery) ([]ScoredEntry, error)

	// GetRecent returns non-archived entries created within the last
	// `hours`, newest first. Non-positive hours means an unlimited
	// window.
	GetRecent(ctx context.Context, scope Scope, hours float64, limit int) ([]*Entry, error)

	// Archive marks the given ids archived. Archival is monotone.
	// Returns the number of entries transitioned.
	Archive(ctx context.Context, scope Scope, ids []string) (int, error)

	// Delete removes the given ids. Returns the number deleted.
	Delete(ctx context.Context, scope Scope, ids []string) (int, error)

	// Count returns the number of non-archived entries in scope.
	Count(ctx context.Context, scope Scope) (int, error)

	// UpdateAccess atomically increments access_count and sets
	// accessed_at to now for each id.
	UpdateAccess(ctx context.Context, scope Scope, ids []string) error

	// ListEntries returns entries in the requested order.
	ListEntries(ctx context.Context, scope Scope, order ListOrder, limit int, includeArchived bool) ([]*Entry, error)

	// ExpiredEntryIDs returns ids of non-archived entries created before
	// the cutoff whose access_count is at or below maxAccessCount.
	ExpiredEntryIDs(ctx context.Context, scope Scope, before time.Time, maxAccessCount int) ([]string, error)
}

// validateEntry applies the invariants shared by all backends.
func validateEntry(entry *Entry, dimensions int) error {
	if entry.AgentID == "" || entry.TenantID == "" {
		return ErrBlankScope
	}
	if len(entry.Content) > MaxContentLength {
		return fmt.Errorf("%w: %d > %d", ErrContentTooLong, len(entry.Content), MaxContentLength)
	}
	if len(entry.Embedding) > 0 && len(entry.Embedding) != dimensions {
		return &DimensionError{Want: dimensions, Got: len(entry.Embedding)}
	}
	return nil
}
