// Package lifecycle enforces per-scope retention on the memory store:
// archiving low-access entries over the cap and deleting expired,
// never-accessed entries past the retention window.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/owlhub/platform/pkg/memory/store"
)

// Result describes one maintenance pass over a scope. Job errors are
// captured on the result instead of aborting the scheduler.
type Result struct {
	AgentID   string
	TenantID  string
	StartedAt time.Time
	Duration  time.Duration
	Archived  int
	Deleted   int
	Err       error
}

// Ledger receives structured maintenance results when wired.
type Ledger interface {
	RecordMaintenance(ctx context.Context, result Result)
}

// LedgerFunc adapts a function to the Ledger interface.
type LedgerFunc func(ctx context.Context, result Result)

func (f LedgerFunc) RecordMaintenance(ctx context.Context, result Result) { f(ctx, result) }

// Manager runs retention maintenance against a store.
type Manager struct {
	store         store.Store
	maxEntries    int
	retentionDays int
	ledger        Ledger
	now           func() time.Time
}

// NewManager creates a manager. maxEntries <= 0 disables eviction and
// retentionDays <= 0 disables expiry deletion. The ledger may be nil.
func NewManager(s store.Store, maxEntries, retentionDays int, ledger Ledger) *Manager {
	return &Manager{
		store:         s,
		maxEntries:    maxEntries,
		retentionDays: retentionDays,
		ledger:        ledger,
		now:           time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (m *Manager) SetNowFunc(now func() time.Time) { m.now = now }

// RunOnce performs one maintenance pass for the scope: archive the
// lowest-access entries above the cap, then delete entries older than
// the retention window that were never accessed.
func (m *Manager) RunOnce(ctx context.Context, scope store.Scope) Result {
	start := m.now().UTC()
	result := Result{AgentID: scope.AgentID, TenantID: scope.TenantID, StartedAt: start}

	defer func() {
		result.Duration = m.now().UTC().Sub(start)
		if m.ledger != nil {
			m.ledger.RecordMaintenance(ctx, result)
		}
	}()

	if scope.Blank() {
		result.Err = store.ErrBlankScope
		return result
	}

	archived, err := m.archiveExcess(ctx, scope)
	result.Archived = archived
	if err != nil {
		result.Err = err
		return result
	}

	deleted, err := m.deleteExpired(ctx, scope)
	result.Deleted = deleted
	if err != nil {
		result.Err = err
	}
	return result
}

// archiveExcess archives count-maxEntries entries, lowest access count
// first, oldest first among ties.
func (m *Manager) archiveExcess(ctx context.Context, scope store.Scope) (int, error) {
	if m.maxEntries <= 0 {
		return 0, nil
	}

	count, err := m.store.Count(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	excess := count - m.maxEntries
	if excess <= 0 {
		return 0, nil
	}

	victims, err := m.store.ListEntries(ctx, scope, store.OrderEvictionFirst, excess, false)
	if err != nil {
		return 0, fmt.Errorf("list eviction candidates: %w", err)
	}
	ids := make([]string, len(victims))
	for i, e := range victims {
		ids[i] = e.ID
	}

	archived, err := m.store.Archive(ctx, scope, ids)
	if err != nil {
		return archived, fmt.Errorf("archive excess entries: %w", err)
	}
	if archived > 0 {
		slog.Info("Memory retention: archived excess entries",
			"agent_id", scope.AgentID, "tenant_id", scope.TenantID, "count", archived)
	}
	return archived, nil
}

// deleteExpired deletes entries older than the retention cutoff with a
// zero access count.
func (m *Manager) deleteExpired(ctx context.Context, scope store.Scope) (int, error) {
	if m.retentionDays <= 0 {
		return 0, nil
	}

	cutoff := m.now().UTC().AddDate(0, 0, -m.retentionDays)
	ids, err := m.store.ExpiredEntryIDs(ctx, scope, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("list expired entries: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := m.store.Delete(ctx, scope, ids)
	if err != nil {
		return deleted, fmt.Errorf("delete expired entries: %w", err)
	}
	if deleted > 0 {
		slog.Info("Memory retention: deleted expired entries",
			"agent_id", scope.AgentID, "tenant_id", scope.TenantID, "count", deleted)
	}
	return deleted, nil
}
