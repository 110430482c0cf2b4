// Package events records the webhook pipeline's event trail and the
// monitoring aggregates derived from it.
package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType is the pipeline phase an event belongs to.
type EventType string

const (
	TypeRequest        EventType = "request"
	TypeValidation     EventType = "validation"
	TypeTransformation EventType = "transformation"
	TypeExecution      EventType = "execution"
)

// Event is one pipeline event. RequestID threads all phases of a
// single request.
type Event struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	EndpointID string         `json:"endpoint_id"`
	Type       EventType      `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id"`
	SourceIP   string         `json:"source_ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	DurationMs float64        `json:"duration_ms,omitempty"`
	Status     string         `json:"status,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Filter narrows Query results. Zero values match everything.
type Filter struct {
	TenantID   string
	EndpointID string
	RequestID  string
	Type       EventType
	Status     string
	From       time.Time
	To         time.Time
	Offset     int
	Limit      int
}

// Log is an append-only in-memory event log.
type Log struct {
	mu     sync.RWMutex
	events []Event
	now    func() time.Time
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// SetNowFunc overrides the clock (tests only).
func (l *Log) SetNowFunc(now func() time.Time) { l.now = now }

// Append records an event, assigning its id and UTC timestamp.
func (l *Log) Append(_ context.Context, event Event) Event {
	event.ID = uuid.NewString()
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	} else {
		event.Timestamp = event.Timestamp.UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return event
}

// Query returns matching events ordered ascending by timestamp, with
// offset/limit pagination.
func (l *Log) Query(_ context.Context, filter Filter) []Event {
	l.mu.RLock()
	var matched []Event
	for _, e := range l.events {
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.EndpointID != "" && e.EndpointID != filter.EndpointID {
			continue
		}
		if filter.RequestID != "" && e.RequestID != filter.RequestID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Timestamp.After(filter.To) {
			continue
		}
		matched = append(matched, e)
	}
	l.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}
