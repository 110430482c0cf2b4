package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is the reference Store implementation: a mutex-guarded map
// keyed by entry id. It is the required backend for tests and the default
// when no external backend is configured.
type InMemoryStore struct {
	mu            sync.RWMutex
	entries       map[string]*Entry
	dimensions    int
	halfLifeHours float64
	now           func() time.Time
}

// NewInMemoryStore creates an in-memory store for embeddings of the given
// dimension and the given decay half-life.
func NewInMemoryStore(dimensions int, halfLifeHours float64) *InMemoryStore {
	return &InMemoryStore{
		entries:       make(map[string]*Entry),
		dimensions:    dimensions,
		halfLifeHours: halfLifeHours,
		now:           time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (s *InMemoryStore) SetNowFunc(now func() time.Time) { s.now = now }

func (s *InMemoryStore) Save(_ context.Context, entry *Entry) error {
	if err := validateEntry(entry, s.dimensions); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := entry.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	} else {
		stored.CreatedAt = stored.CreatedAt.UTC()
	}
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.entries[stored.ID] = stored

	// Reflect assigned fields back to the caller's copy.
	entry.ID = stored.ID
	entry.CreatedAt = stored.CreatedAt
	entry.Version = stored.Version
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, scope Scope, q SearchQuery) ([]ScoredEntry, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}
	if len(q.Vector) > 0 && len(q.Vector) != s.dimensions {
		return nil, &DimensionError{Want: s.dimensions, Got: len(q.Vector)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().UTC()
	var results []ScoredEntry
	for _, e := range s.entries {
		if !s.inScope(e, scope) {
			continue
		}
		if e.Archived && !q.IncludeArchived {
			continue
		}
		if !e.HasTags(q.Tags) {
			continue
		}
		score := 1.0
		if len(q.Vector) > 0 {
			if len(e.Embedding) == 0 {
				continue
			}
			score = scoreEntry(e, q.Vector, s.halfLifeHours, now)
		}
		results = append(results, ScoredEntry{Entry: e.Clone(), Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Tie-break: newer created_at wins.
		return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
	})

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (s *InMemoryStore) GetRecent(_ context.Context, scope Scope, hours float64, limit int) ([]*Entry, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Non-positive hours means an unlimited window.
	var cutoff time.Time
	if hours > 0 {
		cutoff = s.now().UTC().Add(-time.Duration(hours * float64(time.Hour)))
	}

	var results []*Entry
	for _, e := range s.entries {
		if !s.inScope(e, scope) || e.Archived {
			continue
		}
		if !cutoff.IsZero() && e.CreatedAt.Before(cutoff) {
			continue
		}
		results = append(results, e.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *InMemoryStore) Archive(_ context.Context, scope Scope, ids []string) (int, error) {
	if scope.Blank() {
		return 0, ErrBlankScope
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	archived := 0
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok || !s.inScope(e, scope) || e.Archived {
			continue
		}
		e.Archived = true
		archived++
	}
	return archived, nil
}

func (s *InMemoryStore) Delete(_ context.Context, scope Scope, ids []string) (int, error) {
	if scope.Blank() {
		return 0, ErrBlankScope
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok || !s.inScope(e, scope) {
			continue
		}
		delete(s.entries, id)
		deleted++
	}
	return deleted, nil
}

func (s *InMemoryStore) Count(_ context.Context, scope Scope) (int, error) {
	if scope.Blank() {
		return 0, ErrBlankScope
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.entries {
		if s.inScope(e, scope) && !e.Archived {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) UpdateAccess(_ context.Context, scope Scope, ids []string) error {
	if scope.Blank() {
		return ErrBlankScope
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok || !s.inScope(e, scope) {
			continue
		}
		e.AccessCount++
		t := now
		e.AccessedAt = &t
	}
	return nil
}

func (s *InMemoryStore) ListEntries(_ context.Context, scope Scope, order ListOrder, limit int, includeArchived bool) ([]*Entry, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Entry
	for _, e := range s.entries {
		if !s.inScope(e, scope) {
			continue
		}
		if e.Archived && !includeArchived {
			continue
		}
		results = append(results, e.Clone())
	}

	switch order {
	case OrderEvictionFirst:
		sort.Slice(results, func(i, j int) bool {
			if results[i].AccessCount != results[j].AccessCount {
				return results[i].AccessCount < results[j].AccessCount
			}
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		})
	default:
		sort.Slice(results, func(i, j int) bool {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		})
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *InMemoryStore) ExpiredEntryIDs(_ context.Context, scope Scope, before time.Time, maxAccessCount int) ([]string, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, e := range s.entries {
		if !s.inScope(e, scope) || e.Archived {
			continue
		}
		if e.CreatedAt.Before(before.UTC()) && e.AccessCount <= maxAccessCount {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) inScope(e *Entry, scope Scope) bool {
	return e.AgentID == scope.AgentID && e.TenantID == scope.TenantID
}
