package lifecycle

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/owlhub/platform/pkg/memory/store"
)

// ScopeSource enumerates the (agent, tenant) scopes due for maintenance
// on each tick.
type ScopeSource func(ctx context.Context) ([]store.Scope, error)

// StaticScopes adapts a fixed scope list to a ScopeSource.
func StaticScopes(scopes ...store.Scope) ScopeSource {
	return func(context.Context) ([]store.Scope, error) { return scopes, nil }
}

// Scheduler drives periodic maintenance on a cron schedule.
type Scheduler struct {
	manager *Manager
	scopes  ScopeSource
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler running the manager for every scope
// on the given cron expression (standard five-field syntax).
func NewScheduler(manager *Manager, scopes ScopeSource, schedule string) (*Scheduler, error) {
	s := &Scheduler{
		manager: manager,
		scopes:  scopes,
		cron:    cron.New(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if _, err := s.cron.AddFunc(schedule, func() { s.runAll(ctx) }); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Start launches the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("Memory lifecycle scheduler started")
}

// Stop cancels in-flight passes and waits for scheduled jobs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("Memory lifecycle scheduler stopped")
}

// runAll runs one pass per scope. Per-scope failures are logged and do
// not stop the sweep.
func (s *Scheduler) runAll(ctx context.Context) {
	scopes, err := s.scopes(ctx)
	if err != nil {
		slog.Error("Memory retention: scope listing failed", "error", err)
		return
	}

	for _, scope := range scopes {
		result := s.manager.RunOnce(ctx, scope)
		if result.Err != nil {
			slog.Error("Memory retention: maintenance pass failed",
				"agent_id", scope.AgentID, "tenant_id", scope.TenantID, "error", result.Err)
		}
	}
}
