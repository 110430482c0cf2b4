// Package store provides long-term memory persistence: the entry model,
// the pluggable Store interface, and its in-memory, pgvector, and Qdrant
// implementations.
package store

import (
	"time"
)

// MaxContentLength is the upper bound on entry content, in characters.
const MaxContentLength = 2000

// SecurityLevel classifies how sensitive an entry's content is.
type SecurityLevel string

const (
	LevelPublic       SecurityLevel = "public"
	LevelInternal     SecurityLevel = "internal"
	LevelConfidential SecurityLevel = "confidential"
	LevelRestricted   SecurityLevel = "restricted"
)

// ValidLevel reports whether l is a member of the security level set.
func ValidLevel(l SecurityLevel) bool {
	switch l {
	case LevelPublic, LevelInternal, LevelConfidential, LevelRestricted:
		return true
	}
	return false
}

// Scope identifies the (agent, tenant) pair that isolates all memory data.
// Every store operation is scoped by it; no operation may cross tenants.
type Scope struct {
	AgentID  string
	TenantID string
}

// Blank reports whether either scope component is empty.
func (s Scope) Blank() bool {
	return s.AgentID == "" || s.TenantID == ""
}

// Entry is a single long-term memory record. Entries are exclusively owned
// by the store; callers always receive copies.
type Entry struct {
	ID            string        `json:"id"`
	AgentID       string        `json:"agent_id"`
	TenantID      string        `json:"tenant_id"`
	Content       string        `json:"content"`
	Embedding     []float32     `json:"embedding,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	SecurityLevel SecurityLevel `json:"security_level"`
	Version       int           `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	AccessedAt    *time.Time    `json:"accessed_at,omitempty"`
	AccessCount   int           `json:"access_count"`
	Archived      bool          `json:"archived"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.Embedding != nil {
		cp.Embedding = make([]float32, len(e.Embedding))
		copy(cp.Embedding, e.Embedding)
	}
	if e.Tags != nil {
		cp.Tags = make([]string, len(e.Tags))
		copy(cp.Tags, e.Tags)
	}
	if e.AccessedAt != nil {
		t := *e.AccessedAt
		cp.AccessedAt = &t
	}
	return &cp
}

// HasTags reports whether the entry carries every requested tag (AND
// semantics). An empty request matches everything.
func (e *Entry) HasTags(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(e.Tags))
	for _, t := range e.Tags {
		have[t] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// ScoredEntry pairs an entry copy with its retrieval score.
type ScoredEntry struct {
	Entry *Entry  `json:"entry"`
	Score float64 `json:"score"`
}

// ListOrder selects the ordering for ListEntries.
type ListOrder string

const (
	// OrderNewestFirst orders by created_at descending.
	OrderNewestFirst ListOrder = "newest_first"
	// OrderEvictionFirst orders by access_count ascending, then
	// created_at ascending — the lifecycle manager's eviction order.
	OrderEvictionFirst ListOrder = "eviction_first"
)
