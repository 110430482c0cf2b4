package gateway

import (
	"context"

	"github.com/owlhub/platform/pkg/webhook/events"
	"github.com/owlhub/platform/pkg/webhook/governance"
)

// GovernanceAudit records every governance decision into the event
// log, threaded by the request id the decision was made for.
type GovernanceAudit struct {
	log *events.Log
}

// NewGovernanceAudit creates an audit sink over the event log.
func NewGovernanceAudit(log *events.Log) *GovernanceAudit {
	return &GovernanceAudit{log: log}
}

// RecordDecision implements governance.AuditSink.
func (a *GovernanceAudit) RecordDecision(ctx context.Context, kind governance.CheckKind, req governance.Request, decision governance.Decision) {
	status := "allowed"
	if !decision.Allowed {
		status = "denied"
	}
	a.log.Append(ctx, events.Event{
		TenantID:   req.TenantID,
		EndpointID: req.EndpointID,
		Type:       events.TypeValidation,
		RequestID:  req.RequestID,
		Status:     status,
		Data: map[string]any{
			"check":       string(kind),
			"status_code": decision.StatusCode,
			"reason":      decision.Reason,
		},
	})
}
