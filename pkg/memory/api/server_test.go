package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlhub/platform/pkg/memory"
	"github.com/owlhub/platform/pkg/memory/embedding"
	"github.com/owlhub/platform/pkg/memory/snapshot"
	"github.com/owlhub/platform/pkg/memory/store"
	"github.com/owlhub/platform/pkg/memory/token"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	memStore := store.NewInMemoryStore(8, 168)
	embedder := embedding.NewRandomProvider(8)
	snapshots := snapshot.NewBuilder(memStore, embedder, token.ApproxCounter{}, snapshot.Options{})
	service := memory.NewService(memStore, embedder, snapshots, nil, memory.Options{
		CompactionThreshold:   2,
		EnableKeywordFallback: true,
	})
	return NewServer(":0", service)
}

func do(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRememberAndRecall(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/memory/remember", RememberRequest{
		AgentID:  "sre-agent",
		TenantID: "acme",
		Content:  "postgres failover runbook lives in the ops wiki",
		Tags:     []string{"Postgres", "postgres", " ops "},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var entry store.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, []string{"postgres", "ops"}, entry.Tags)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/memory/recall", RecallRequest{
		AgentID:  "sre-agent",
		TenantID: "acme",
		Query:    "postgres failover runbook lives in the ops wiki",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []*store.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
}

func TestRecallEmptyScopeReturnsEmptyList(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/memory/recall", RecallRequest{
		AgentID:  "sre-agent",
		TenantID: "acme",
		Query:    "anything",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []*store.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}

func TestRememberValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/memory/remember", RememberRequest{
		AgentID:  "sre-agent",
		TenantID: "acme",
		Content:  "   ",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/memory/remember", RememberRequest{
		AgentID:     "sre-agent",
		TenantID:    "acme",
		Content:     "something",
		Sensitivity: "top-secret",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRememberBlankScope(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/memory/remember", RememberRequest{
		Content: "orphaned memory",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/memory/remember", RememberRequest{
		AgentID:  "sre-agent",
		TenantID: "acme",
		Content:  "disk pressure on node-3 was resolved by pruning images",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet,
		"/api/v1/memory/snapshot?agent_id=sre-agent&tenant_id=acme&trigger=disk+pressure+on+node-3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap SnapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.NotEmpty(t, snap.PromptFragment)
	assert.Len(t, snap.EntryIDs, 1)
}

func TestCompactEndpoint(t *testing.T) {
	srv := newTestServer(t)

	for _, content := range []string{
		"deploy of checkout-service v12 rolled back",
		"deploy of checkout-service v13 succeeded",
	} {
		rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/memory/remember", RememberRequest{
			AgentID:  "sre-agent",
			TenantID: "acme",
			Content:  content,
			Tags:     []string{"deploys"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/memory/compact", CompactRequest{
		AgentID:  "sre-agent",
		TenantID: "acme",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result memory.CompactionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.GroupsCompacted)
	assert.Equal(t, 2, result.EntriesArchived)
	require.Len(t, result.SummaryIDs, 1)
}

func TestDegradationsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/memory/degradations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	srv.RecordDegradation(context.Background(), memory.DegradationEvent{
		Kind:     memory.DegradedEmbedding,
		AgentID:  "sre-agent",
		TenantID: "acme",
		Reason:   "provider timeout",
		At:       time.Now().UTC(),
	})

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/memory/degradations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []memory.DegradationEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, memory.DegradedEmbedding, events[0].Kind)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.NotEmpty(t, health.Version)
}
