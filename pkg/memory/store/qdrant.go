package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
)

// QdrantStore is a Store backed by a Qdrant collection over its REST API.
// Entry fields live in the point payload; similarity comes from Qdrant and
// the time-decay weight is applied client-side so scoring matches the
// other backends exactly.
type QdrantStore struct {
	baseURL       string
	collection    string
	httpClient    *http.Client
	dimensions    int
	halfLifeHours float64
}

// NewQdrantStore creates a Qdrant-backed store for an existing collection.
func NewQdrantStore(baseURL, collection string, dimensions int, halfLifeHours float64) *QdrantStore {
	return &QdrantStore{
		baseURL:       baseURL,
		collection:    collection,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		dimensions:    dimensions,
		halfLifeHours: halfLifeHours,
	}
}

type qdrantPayload struct {
	AgentID       string     `json:"agent_id"`
	TenantID      string     `json:"tenant_id"`
	Content       string     `json:"content"`
	Tags          []string   `json:"tags"`
	SecurityLevel string     `json:"security_level"`
	Version       int        `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	AccessedAt    *time.Time `json:"accessed_at,omitempty"`
	AccessCount   int        `json:"access_count"`
	Archived      bool       `json:"archived"`
}

func (p *qdrantPayload) toEntry(id string) *Entry {
	return &Entry{
		ID:            id,
		AgentID:       p.AgentID,
		TenantID:      p.TenantID,
		Content:       p.Content,
		Tags:          p.Tags,
		SecurityLevel: SecurityLevel(p.SecurityLevel),
		Version:       p.Version,
		CreatedAt:     p.CreatedAt,
		AccessedAt:    p.AccessedAt,
		AccessCount:   p.AccessCount,
		Archived:      p.Archived,
	}
}

func (s *QdrantStore) Save(ctx context.Context, entry *Entry) error {
	if err := validateEntry(entry, s.dimensions); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	} else {
		entry.CreatedAt = entry.CreatedAt.UTC()
	}
	if entry.Version == 0 {
		entry.Version = 1
	}

	point := map[string]any{
		"id":     entry.ID,
		"vector": entry.Embedding,
		"payload": qdrantPayload{
			AgentID:       entry.AgentID,
			TenantID:      entry.TenantID,
			Content:       entry.Content,
			Tags:          entry.Tags,
			SecurityLevel: string(entry.SecurityLevel),
			Version:       entry.Version,
			CreatedAt:     entry.CreatedAt,
			AccessCount:   entry.AccessCount,
			Archived:      entry.Archived,
		},
	}
	body := map[string]any{"points": []any{point}}

	var resp json.RawMessage
	if err := s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", s.collection), body, &resp); err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, scope Scope, q SearchQuery) ([]ScoredEntry, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}
	if len(q.Vector) > 0 && len(q.Vector) != s.dimensions {
		return nil, &DimensionError{Want: s.dimensions, Got: len(q.Vector)}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	if len(q.Vector) == 0 {
		entries, err := s.scroll(ctx, scope, q.Tags, q.IncludeArchived)
		if err != nil {
			return nil, err
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		})
		if len(entries) > limit {
			entries = entries[:limit]
		}
		results := make([]ScoredEntry, 0, len(entries))
		for _, e := range entries {
			results = append(results, ScoredEntry{Entry: e, Score: 1.0})
		}
		return results, nil
	}

	body := map[string]any{
		"vector":       q.Vector,
		"limit":        limit * 4, // over-fetch; decay re-ranks below
		"with_payload": true,
		"filter":       s.filter(scope, q.Tags, q.IncludeArchived),
	}
	var out struct {
		Result []struct {
			ID      string        `json:"id"`
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", s.collection), body, &out); err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	now := time.Now().UTC()
	results := make([]ScoredEntry, 0, len(out.Result))
	for _, r := range out.Result {
		age := now.Sub(r.Payload.CreatedAt).Hours()
		results = append(results, ScoredEntry{
			Entry: r.Payload.toEntry(r.ID),
			Score: r.Score * TimeDecay(age, s.halfLifeHours),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *QdrantStore) GetRecent(ctx context.Context, scope Scope, hours float64, limit int) ([]*Entry, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}
	entries, err := s.scroll(ctx, scope, nil, false)
	if err != nil {
		return nil, err
	}

	var cutoff time.Time
	if hours > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))
	}
	var results []*Entry
	for _, e := range entries {
		if !cutoff.IsZero() && e.CreatedAt.Before(cutoff) {
			continue
		}
		results = append(results, e)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *QdrantStore) Archive(ctx context.Context, scope Scope, ids []string) (int, error) {
	if scope.Blank() {
		return 0, ErrBlankScope
	}
	owned, err := s.ownedIDs(ctx, scope, ids, false)
	if err != nil {
		return 0, err
	}
	if len(owned) == 0 {
		return 0, nil
	}
	body := map[string]any{
		"payload": map[string]any{"archived": true},
		"points":  owned,
	}
	var resp json.RawMessage
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/payload?wait=true", s.collection), body, &resp); err != nil {
		return 0, fmt.Errorf("archive points: %w", err)
	}
	return len(owned), nil
}

func (s *QdrantStore) Delete(ctx context.Context, scope Scope, ids []string) (int, error) {
	if scope.Blank() {
		return 0, ErrBlankScope
	}
	owned, err := s.ownedIDs(ctx, scope, ids, true)
	if err != nil {
		return 0, err
	}
	if len(owned) == 0 {
		return 0, nil
	}
	body := map[string]any{"points": owned}
	var resp json.RawMessage
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection), body, &resp); err != nil {
		return 0, fmt.Errorf("delete points: %w", err)
	}
	return len(owned), nil
}

func (s *QdrantStore) Count(ctx context.Context, scope Scope) (int, error) {
	if scope.Blank() {
		return 0, ErrBlankScope
	}
	body := map[string]any{
		"filter": s.filter(scope, nil, false),
		"exact":  true,
	}
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", s.collection), body, &out); err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return out.Result.Count, nil
}

func (s *QdrantStore) UpdateAccess(ctx context.Context, scope Scope, ids []string) error {
	if scope.Blank() {
		return ErrBlankScope
	}
	entries, err := s.retrieve(ctx, ids)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, e := range entries {
		if e.AgentID != scope.AgentID || e.TenantID != scope.TenantID {
			continue
		}
		body := map[string]any{
			"payload": map[string]any{
				"access_count": e.AccessCount + 1,
				"accessed_at":  now,
			},
			"points": []string{e.ID},
		}
		var resp json.RawMessage
		if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/payload?wait=true", s.collection), body, &resp); err != nil {
			return fmt.Errorf("update access for %s: %w", e.ID, err)
		}
	}
	return nil
}

func (s *QdrantStore) ListEntries(ctx context.Context, scope Scope, order ListOrder, limit int, includeArchived bool) ([]*Entry, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}
	entries, err := s.scroll(ctx, scope, nil, includeArchived)
	if err != nil {
		return nil, err
	}
	switch order {
	case OrderEvictionFirst:
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].AccessCount != entries[j].AccessCount {
				return entries[i].AccessCount < entries[j].AccessCount
			}
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		})
	default:
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		})
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *QdrantStore) ExpiredEntryIDs(ctx context.Context, scope Scope, before time.Time, maxAccessCount int) ([]string, error) {
	if scope.Blank() {
		return nil, ErrBlankScope
	}
	entries, err := s.scroll(ctx, scope, nil, false)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.CreatedAt.Before(before.UTC()) && e.AccessCount <= maxAccessCount {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// filter builds the scope filter shared by search/count/scroll.
func (s *QdrantStore) filter(scope Scope, tags []string, includeArchived bool) map[string]any {
	must := []any{
		map[string]any{"key": "tenant_id", "match": map[string]any{"value": scope.TenantID}},
		map[string]any{"key": "agent_id", "match": map[string]any{"value": scope.AgentID}},
	}
	for _, t := range tags {
		must = append(must, map[string]any{"key": "tags", "match": map[string]any{"value": t}})
	}
	if !includeArchived {
		must = append(must, map[string]any{"key": "archived", "match": map[string]any{"value": false}})
	}
	return map[string]any{"must": must}
}

func (s *QdrantStore) scroll(ctx context.Context, scope Scope, tags []string, includeArchived bool) ([]*Entry, error) {
	var (
		entries []*Entry
		offset  any
	)
	for {
		body := map[string]any{
			"filter":       s.filter(scope, tags, includeArchived),
			"limit":        256,
			"with_payload": true,
		}
		if offset != nil {
			body["offset"] = offset
		}
		var out struct {
			Result struct {
				Points []struct {
					ID      string        `json:"id"`
					Payload qdrantPayload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/scroll", s.collection), body, &out); err != nil {
			return nil, fmt.Errorf("scroll points: %w", err)
		}
		for _, p := range out.Result.Points {
			entries = append(entries, p.Payload.toEntry(p.ID))
		}
		if out.Result.NextPageOffset == nil {
			return entries, nil
		}
		offset = out.Result.NextPageOffset
	}
}

// ownedIDs retrieves the requested points and keeps those in scope.
// skipArchivedCheck keeps archived entries (delete may target them).
func (s *QdrantStore) ownedIDs(ctx context.Context, scope Scope, ids []string, skipArchivedCheck bool) ([]string, error) {
	entries, err := s.retrieve(ctx, ids)
	if err != nil {
		return nil, err
	}
	var owned []string
	for _, e := range entries {
		if e.AgentID != scope.AgentID || e.TenantID != scope.TenantID {
			continue
		}
		if !skipArchivedCheck && e.Archived {
			continue
		}
		owned = append(owned, e.ID)
	}
	return owned, nil
}

func (s *QdrantStore) retrieve(ctx context.Context, ids []string) ([]*Entry, error) {
	body := map[string]any{"ids": ids, "with_payload": true}
	var out struct {
		Result []struct {
			ID      string        `json:"id"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points", s.collection), body, &out); err != nil {
		return nil, fmt.Errorf("retrieve points: %w", err)
	}
	entries := make([]*Entry, 0, len(out.Result))
	for _, p := range out.Result {
		entries = append(entries, p.Payload.toEntry(p.ID))
	}
	return entries, nil
}

func (s *QdrantStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("qdrant returned HTTP %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
