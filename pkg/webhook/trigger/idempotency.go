package trigger

import (
	"context"
	"sync"
	"time"
)

// DefaultIdempotencyTTL is how long cached trigger results are served
// when no TTL is configured.
const DefaultIdempotencyTTL = time.Hour

// IdempotencyStore caches execution results by client-supplied key.
// Get returns nil on a miss or an expired entry.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*ExecutionResult, error)
	Set(ctx context.Context, key string, result *ExecutionResult, ttl time.Duration) error
}

type idemEntry struct {
	result    *ExecutionResult
	expiresAt time.Time
}

// InMemoryIdempotencyStore is the reference store. Expired entries are
// evicted lazily on read.
type InMemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idemEntry
	now     func() time.Time
}

// NewInMemoryIdempotencyStore creates an empty store.
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		entries: make(map[string]idemEntry),
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (s *InMemoryIdempotencyStore) SetNowFunc(now func() time.Time) { s.now = now }

// Get returns the cached result for key, or nil when absent or expired.
func (s *InMemoryIdempotencyStore) Get(_ context.Context, key string) (*ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	return entry.result.Clone(), nil
}

// Set caches result under key for ttl.
func (s *InMemoryIdempotencyStore) Set(_ context.Context, key string, result *ExecutionResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idemEntry{result: result.Clone(), expiresAt: s.now().Add(ttl)}
	return nil
}

// keyLocks serializes concurrent triggers sharing an idempotency key.
// Entries are reference-counted so the map does not grow without bound.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// lock acquires the lock for key and returns its release function.
func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
