package memory

import (
	"context"
	"time"
)

// DegradationKind names a fallback path the service took instead of its
// primary dependency.
type DegradationKind string

const (
	// DegradedEmbedding means the primary embedder failed and the
	// TF-IDF provider produced the vector.
	DegradedEmbedding DegradationKind = "embedding_fallback"
	// DegradedSearch means vector search failed and keyword overlap
	// ranked the results.
	DegradedSearch DegradationKind = "search_fallback"
	// DegradedStorage means the store rejected a save and the entry
	// went to the append-only fallback file.
	DegradedStorage DegradationKind = "storage_fallback"
)

// DegradationEvent records one fallback activation.
type DegradationEvent struct {
	Kind     DegradationKind
	AgentID  string
	TenantID string
	Reason   string
	At       time.Time
}

// DegradationRecorder receives degradation events when wired.
type DegradationRecorder interface {
	RecordDegradation(ctx context.Context, event DegradationEvent)
}

// DegradationRecorderFunc adapts a function to the recorder interface.
type DegradationRecorderFunc func(ctx context.Context, event DegradationEvent)

func (f DegradationRecorderFunc) RecordDegradation(ctx context.Context, event DegradationEvent) {
	f(ctx, event)
}
