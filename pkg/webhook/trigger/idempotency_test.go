package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *ExecutionResult {
	completed := time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)
	return &ExecutionResult{
		ExecutionID: "exec-1",
		Status:      StatusCompleted,
		StartedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		CompletedAt: &completed,
		Output:      map[string]any{"ok": true},
	}
}

func TestInMemoryStore_RoundTripAndMiss(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	ctx := context.Background()

	got, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Set(ctx, "k1", sampleResult(), time.Hour))
	got, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestInMemoryStore_LazyExpiry(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return clock })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", sampleResult(), time.Hour))

	clock = clock.Add(59 * time.Minute)
	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.NotNil(t, got)

	clock = clock.Add(2 * time.Minute)
	got, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k1", sampleResult(), time.Hour))

	first, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	first.Output["ok"] = false
	first.Status = StatusFailed

	second, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, true, second.Output["ok"])
	assert.Equal(t, StatusCompleted, second.Status)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()

	got, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Set(ctx, "k1", sampleResult(), time.Hour))
	got, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, true, got.Output["ok"])
}

func TestRedisStore_ExpiresWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", sampleResult(), time.Minute))
	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKeyLocks_SerializeAndRelease(t *testing.T) {
	locks := newKeyLocks()

	unlock := locks.lock("k1")
	acquired := make(chan struct{})
	go func() {
		inner := locks.lock("k1")
		close(acquired)
		inner()
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired the lock while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second caller never acquired the lock")
	}

	// All holders released: the entry is evicted.
	assert.Eventually(t, func() bool {
		locks.mu.Lock()
		defer locks.mu.Unlock()
		return len(locks.locks) == 0
	}, time.Second, 5*time.Millisecond)
}
