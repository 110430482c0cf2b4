package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 4

func newTestStore() *InMemoryStore {
	return NewInMemoryStore(testDims, 24.0)
}

func testScope() Scope {
	return Scope{AgentID: "agent-1", TenantID: "tenant-a"}
}

func saveEntry(t *testing.T, s *InMemoryStore, scope Scope, content string, embedding []float32, tags []string, createdAt time.Time) *Entry {
	t.Helper()
	e := &Entry{
		AgentID:       scope.AgentID,
		TenantID:      scope.TenantID,
		Content:       content,
		Embedding:     embedding,
		Tags:          tags,
		SecurityLevel: LevelInternal,
		CreatedAt:     createdAt,
	}
	require.NoError(t, s.Save(context.Background(), e))
	return e
}

func TestSave_AssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore()
	e := saveEntry(t, s, testScope(), "hello", nil, nil, time.Time{})

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	assert.Equal(t, 1, e.Version)
}

func TestSave_RejectsInvalidEntries(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	t.Run("blank scope", func(t *testing.T) {
		err := s.Save(ctx, &Entry{TenantID: "tenant-a", Content: "x"})
		assert.ErrorIs(t, err, ErrBlankScope)
	})

	t.Run("content too long", func(t *testing.T) {
		err := s.Save(ctx, &Entry{
			AgentID: "a", TenantID: "t",
			Content: strings.Repeat("x", MaxContentLength+1),
		})
		assert.ErrorIs(t, err, ErrContentTooLong)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		err := s.Save(ctx, &Entry{
			AgentID: "a", TenantID: "t", Content: "x",
			Embedding: []float32{1, 2},
		})
		var dimErr *DimensionError
		require.ErrorAs(t, err, &dimErr)
		assert.Equal(t, testDims, dimErr.Want)
		assert.Equal(t, 2, dimErr.Got)
	})
}

func TestSearch_TimeDecayRanking(t *testing.T) {
	s := newTestStore()
	scope := testScope()
	now := time.Now().UTC()
	vec := []float32{0.1, 0.2, 0.3, 0.4}

	// Identical embeddings at now-48h, now-24h, now.
	old := saveEntry(t, s, scope, "old", vec, nil, now.Add(-48*time.Hour))
	mid := saveEntry(t, s, scope, "mid", vec, nil, now.Add(-24*time.Hour))
	fresh := saveEntry(t, s, scope, "fresh", vec, nil, now)

	results, err := s.Search(context.Background(), scope, SearchQuery{Vector: vec, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, fresh.ID, results[0].Entry.ID)
	assert.Equal(t, mid.ID, results[1].Entry.ID)
	assert.Equal(t, old.ID, results[2].Entry.ID)

	// Scores strictly decreasing, each within [0, 1].
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[1].Score, results[2].Score)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestSearch_NoVectorReturnsNewestFirst(t *testing.T) {
	s := newTestStore()
	scope := testScope()
	now := time.Now().UTC()

	saveEntry(t, s, scope, "first", nil, nil, now.Add(-2*time.Hour))
	latest := saveEntry(t, s, scope, "second", nil, nil, now)

	results, err := s.Search(context.Background(), scope, SearchQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, latest.ID, results[0].Entry.ID)
	assert.Equal(t, 1.0, results[0].Score)
}

func TestSearch_TagFilterIsAND(t *testing.T) {
	s := newTestStore()
	scope := testScope()
	now := time.Now().UTC()

	both := saveEntry(t, s, scope, "both", nil, []string{"k8s", "prod"}, now)
	saveEntry(t, s, scope, "one", nil, []string{"k8s"}, now)

	results, err := s.Search(context.Background(), scope, SearchQuery{Tags: []string{"k8s", "prod"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, both.ID, results[0].Entry.ID)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestStore()
	scopeA := Scope{AgentID: "agent-1", TenantID: "tenant-a"}
	scopeB := Scope{AgentID: "agent-1", TenantID: "tenant-b"}
	ctx := context.Background()

	inA := saveEntry(t, s, scopeA, "secret of a", nil, nil, time.Time{})
	saveEntry(t, s, scopeB, "secret of b", nil, nil, time.Time{})

	results, err := s.Search(ctx, scopeB, SearchQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEqual(t, inA.ID, results[0].Entry.ID)

	count, err := s.Count(ctx, scopeA)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Cross-tenant archive and delete must be no-ops.
	n, err := s.Archive(ctx, scopeB, []string{inA.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.Delete(ctx, scopeB, []string{inA.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchive_MonotoneAndExcluded(t *testing.T) {
	s := newTestStore()
	scope := testScope()
	ctx := context.Background()

	e := saveEntry(t, s, scope, "to archive", nil, nil, time.Time{})

	n, err := s.Archive(ctx, scope, []string{e.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second archive is a no-op.
	n, err = s.Archive(ctx, scope, []string{e.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	// Excluded from search and count by default.
	results, err := s.Search(ctx, scope, SearchQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)

	count, err := s.Count(ctx, scope)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Still addressable with include_archived.
	results, err = s.Search(ctx, scope, SearchQuery{Limit: 10, IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, e.ID, results[0].Entry.ID)
}

func TestUpdateAccess_Atomic(t *testing.T) {
	s := newTestStore()
	scope := testScope()
	ctx := context.Background()

	e := saveEntry(t, s, scope, "accessed", nil, nil, time.Time{})
	require.NoError(t, s.UpdateAccess(ctx, scope, []string{e.ID}))

	entries, err := s.ListEntries(ctx, scope, OrderNewestFirst, 10, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].AccessCount)
	require.NotNil(t, entries[0].AccessedAt)
}

func TestGetRecent_WindowAndUnlimited(t *testing.T) {
	s := newTestStore()
	scope := testScope()
	ctx := context.Background()
	now := time.Now().UTC()

	saveEntry(t, s, scope, "ancient", nil, nil, now.Add(-72*time.Hour))
	recent := saveEntry(t, s, scope, "recent", nil, nil, now.Add(-1*time.Hour))

	within, err := s.GetRecent(ctx, scope, 24, 10)
	require.NoError(t, err)
	require.Len(t, within, 1)
	assert.Equal(t, recent.ID, within[0].ID)

	// Non-positive hours is the unlimited window.
	all, err := s.GetRecent(ctx, scope, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListEntries_EvictionOrder(t *testing.T) {
	s := newTestStore()
	scope := testScope()
	ctx := context.Background()
	now := time.Now().UTC()

	cold := saveEntry(t, s, scope, "cold", nil, nil, now.Add(-3*time.Hour))
	warm := saveEntry(t, s, scope, "warm", nil, nil, now.Add(-2*time.Hour))
	require.NoError(t, s.UpdateAccess(ctx, scope, []string{warm.ID}))

	entries, err := s.ListEntries(ctx, scope, OrderEvictionFirst, 10, false)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, cold.ID, entries[0].ID, "low-access entries evict first")
}

func TestExpiredEntryIDs(t *testing.T) {
	s := newTestStore()
	scope := testScope()
	ctx := context.Background()
	now := time.Now().UTC()

	stale := saveEntry(t, s, scope, "stale", nil, nil, now.Add(-100*24*time.Hour))
	touched := saveEntry(t, s, scope, "touched", nil, nil, now.Add(-100*24*time.Hour))
	require.NoError(t, s.UpdateAccess(ctx, scope, []string{touched.ID}))
	saveEntry(t, s, scope, "fresh", nil, nil, now)

	ids, err := s.ExpiredEntryIDs(ctx, scope, now.Add(-90*24*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)
}

func TestSearch_ReturnsCopies(t *testing.T) {
	s := newTestStore()
	scope := testScope()
	ctx := context.Background()

	e := saveEntry(t, s, scope, "immutable", nil, []string{"pinned"}, time.Time{})

	results, err := s.Search(ctx, scope, SearchQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Mutating the returned copy must not affect stored state.
	results[0].Entry.Content = "tampered"
	results[0].Entry.Tags[0] = "tampered"

	again, err := s.Search(ctx, scope, SearchQuery{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "immutable", again[0].Entry.Content)
	assert.Equal(t, []string{"pinned"}, again[0].Entry.Tags)
	_ = e
}
