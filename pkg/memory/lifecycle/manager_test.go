package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlhub/platform/pkg/memory/store"
)

func seedEntries(t *testing.T, s *store.InMemoryStore, scope store.Scope, n int, createdAt time.Time, accessCount int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		e := &store.Entry{
			AgentID:     scope.AgentID,
			TenantID:    scope.TenantID,
			Content:     fmt.Sprintf("entry %d", i),
			CreatedAt:   createdAt.Add(time.Duration(i) * time.Minute),
			AccessCount: accessCount,
		}
		require.NoError(t, s.Save(context.Background(), e))
		ids = append(ids, e.ID)
	}
	return ids
}

func TestRunOnce_ArchivesExcessLowAccessFirst(t *testing.T) {
	s := store.NewInMemoryStore(4, 168)
	scope := store.Scope{AgentID: "agent-1", TenantID: "tenant-1"}
	now := time.Now().UTC()

	cold := seedEntries(t, s, scope, 3, now.Add(-2*time.Hour), 0)
	hot := seedEntries(t, s, scope, 3, now.Add(-1*time.Hour), 5)

	m := NewManager(s, 4, 0, nil)
	result := m.RunOnce(context.Background(), scope)

	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.Archived)
	assert.Equal(t, 0, result.Deleted)

	count, err := s.Count(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// The two oldest zero-access entries were evicted; hot entries survive.
	remaining, err := s.ListEntries(context.Background(), scope, store.OrderNewestFirst, 0, false)
	require.NoError(t, err)
	left := make(map[string]bool)
	for _, e := range remaining {
		left[e.ID] = true
	}
	assert.False(t, left[cold[0]])
	assert.False(t, left[cold[1]])
	assert.True(t, left[cold[2]])
	for _, id := range hot {
		assert.True(t, left[id])
	}
}

func TestRunOnce_DeletesExpiredUnaccessedOnly(t *testing.T) {
	s := store.NewInMemoryStore(4, 168)
	scope := store.Scope{AgentID: "agent-1", TenantID: "tenant-1"}
	now := time.Now().UTC()

	expired := seedEntries(t, s, scope, 2, now.AddDate(0, 0, -40), 0)
	accessed := seedEntries(t, s, scope, 1, now.AddDate(0, 0, -40), 3)
	fresh := seedEntries(t, s, scope, 1, now.Add(-time.Hour), 0)

	m := NewManager(s, 0, 30, nil)
	result := m.RunOnce(context.Background(), scope)

	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.Deleted)

	remaining, err := s.ListEntries(context.Background(), scope, store.OrderNewestFirst, 0, true)
	require.NoError(t, err)
	left := make(map[string]bool)
	for _, e := range remaining {
		left[e.ID] = true
	}
	for _, id := range expired {
		assert.False(t, left[id])
	}
	assert.True(t, left[accessed[0]])
	assert.True(t, left[fresh[0]])
}

func TestRunOnce_BlankScopeFailsFast(t *testing.T) {
	s := store.NewInMemoryStore(4, 168)
	m := NewManager(s, 10, 30, nil)

	result := m.RunOnce(context.Background(), store.Scope{})
	assert.ErrorIs(t, result.Err, store.ErrBlankScope)
	assert.Zero(t, result.Archived)
	assert.Zero(t, result.Deleted)
}

func TestRunOnce_ReportsToLedger(t *testing.T) {
	s := store.NewInMemoryStore(4, 168)
	scope := store.Scope{AgentID: "agent-1", TenantID: "tenant-1"}
	seedEntries(t, s, scope, 3, time.Now().UTC().Add(-time.Hour), 0)

	var got []Result
	ledger := LedgerFunc(func(_ context.Context, r Result) { got = append(got, r) })

	m := NewManager(s, 2, 0, ledger)
	result := m.RunOnce(context.Background(), scope)
	require.NoError(t, result.Err)

	require.Len(t, got, 1)
	assert.Equal(t, "agent-1", got[0].AgentID)
	assert.Equal(t, "tenant-1", got[0].TenantID)
	assert.Equal(t, 1, got[0].Archived)
	assert.False(t, got[0].StartedAt.IsZero())
}

func TestRunOnce_DisabledPoliciesAreNoops(t *testing.T) {
	s := store.NewInMemoryStore(4, 168)
	scope := store.Scope{AgentID: "agent-1", TenantID: "tenant-1"}
	seedEntries(t, s, scope, 5, time.Now().UTC().AddDate(0, 0, -100), 0)

	m := NewManager(s, 0, 0, nil)
	result := m.RunOnce(context.Background(), scope)

	require.NoError(t, result.Err)
	assert.Zero(t, result.Archived)
	assert.Zero(t, result.Deleted)

	count, err := s.Count(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
