package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlhub/platform/pkg/memory/embedding"
	"github.com/owlhub/platform/pkg/memory/security"
	"github.com/owlhub/platform/pkg/memory/snapshot"
	"github.com/owlhub/platform/pkg/memory/store"
)

const testDimensions = 64

var errTransport = errors.New("transport down")

// flakyEmbedder fails until the failure budget is spent.
type flakyEmbedder struct {
	inner    embedding.Provider
	failures int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errTransport
	}
	return f.inner.Embed(ctx, text)
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errTransport
	}
	return f.inner.EmbedBatch(ctx, texts)
}

func (f *flakyEmbedder) Dimensions() int { return f.inner.Dimensions() }

// brokenStore fails the configured operations and delegates the rest.
type brokenStore struct {
	store.Store
	failSave   bool
	failSearch bool
}

func (b *brokenStore) Save(ctx context.Context, e *store.Entry) error {
	if b.failSave {
		return errTransport
	}
	return b.Store.Save(ctx, e)
}

func (b *brokenStore) Search(ctx context.Context, scope store.Scope, q store.SearchQuery) ([]store.ScoredEntry, error) {
	if b.failSearch {
		return nil, errTransport
	}
	return b.Store.Search(ctx, scope, q)
}

type recordedEvents struct {
	events []DegradationEvent
}

func (r *recordedEvents) RecordDegradation(_ context.Context, e DegradationEvent) {
	r.events = append(r.events, e)
}

func newService(t *testing.T, s store.Store, e embedding.Provider, opts Options) (*Service, *recordedEvents) {
	t.Helper()
	rec := &recordedEvents{}
	builder := snapshot.NewBuilder(s, e, nil, snapshot.Options{})
	return NewService(s, e, builder, rec, opts), rec
}

func TestRemember_ClassifiesAndStores(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	svc, rec := newService(t, s, embedding.NewRandomProvider(testDimensions), Options{})

	entry, err := svc.Remember(context.Background(), RememberInput{
		AgentID:  "agent-1",
		TenantID: "tenant-1",
		Content:  "the admin password rotated today",
		Tags:     []string{" Ops ", "ops", "", "security"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, store.LevelRestricted, entry.SecurityLevel)
	assert.Equal(t, []string{"ops", "security"}, entry.Tags)
	assert.Len(t, entry.Embedding, testDimensions)
	assert.Empty(t, rec.events)
}

func TestRemember_SensitivityOverride(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	svc, _ := newService(t, s, embedding.NewRandomProvider(testDimensions), Options{})

	entry, err := svc.Remember(context.Background(), RememberInput{
		AgentID:     "agent-1",
		TenantID:    "tenant-1",
		Content:     "plain note",
		Sensitivity: "confidential",
	})
	require.NoError(t, err)
	assert.Equal(t, store.LevelConfidential, entry.SecurityLevel)

	_, err = svc.Remember(context.Background(), RememberInput{
		AgentID:     "agent-1",
		TenantID:    "tenant-1",
		Content:     "plain note",
		Sensitivity: "top-secret",
	})
	assert.ErrorIs(t, err, ErrInvalidSensitivity)
}

func TestRemember_EmptyContent(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	svc, _ := newService(t, s, embedding.NewRandomProvider(testDimensions), Options{})

	_, err := svc.Remember(context.Background(), RememberInput{
		AgentID: "agent-1", TenantID: "tenant-1", Content: "   ",
	})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestRemember_TFIDFFallbackOnEmbedFailure(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	flaky := &flakyEmbedder{inner: embedding.NewRandomProvider(testDimensions), failures: 1}
	svc, rec := newService(t, s, flaky, Options{EnableTFIDFFallback: true})

	entry, err := svc.Remember(context.Background(), RememberInput{
		AgentID: "agent-1", TenantID: "tenant-1", Content: "note while embeddings are down",
	})
	require.NoError(t, err)
	assert.Len(t, entry.Embedding, testDimensions)

	require.Len(t, rec.events, 1)
	assert.Equal(t, DegradedEmbedding, rec.events[0].Kind)
}

func TestRemember_EmbedFailureWithoutFallbackFails(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	flaky := &flakyEmbedder{inner: embedding.NewRandomProvider(testDimensions), failures: 1}
	svc, rec := newService(t, s, flaky, Options{})

	_, err := svc.Remember(context.Background(), RememberInput{
		AgentID: "agent-1", TenantID: "tenant-1", Content: "note",
	})
	assert.ErrorIs(t, err, errTransport)
	assert.Empty(t, rec.events)
}

func TestRemember_FileFallbackOnSaveFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory-fallback.md")
	broken := &brokenStore{Store: store.NewInMemoryStore(testDimensions, 168), failSave: true}
	svc, rec := newService(t, broken, embedding.NewRandomProvider(testDimensions), Options{
		EnableFileFallback: true,
		FileFallbackPath:   path,
	})

	entry, err := svc.Remember(context.Background(), RememberInput{
		AgentID:  "agent-1",
		TenantID: "tenant-1",
		Content:  "first line\nsecond line",
		Tags:     []string{"a,b"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "- id: "+entry.ID)
	assert.Contains(t, text, "first line\\nsecond line")
	assert.Contains(t, text, "tags: [a;b]")
	assert.NotContains(t, text, "first line\nsecond line")

	require.Len(t, rec.events, 1)
	assert.Equal(t, DegradedStorage, rec.events[0].Kind)
}

func TestRecall_SemanticRankingAndAccessTracking(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	p := embedding.NewRandomProvider(testDimensions)
	svc, _ := newService(t, s, p, Options{})

	target, err := svc.Remember(context.Background(), RememberInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Content: "postgres connection pool exhausted in production",
	})
	require.NoError(t, err)
	_, err = svc.Remember(context.Background(), RememberInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Content: "team lunch moved to friday",
	})
	require.NoError(t, err)

	got, err := svc.Recall(context.Background(), RecallInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Query: "postgres connection pool exhausted in production",
		Limit: 1, Channel: security.ChannelInternal,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, target.ID, got[0].ID)

	// Access tracking updated on the recalled entry.
	listed, err := s.ListEntries(context.Background(), store.Scope{AgentID: "agent-1", TenantID: "tenant-1"}, store.OrderNewestFirst, 0, false)
	require.NoError(t, err)
	for _, e := range listed {
		if e.ID == target.ID {
			assert.Equal(t, 1, e.AccessCount)
			assert.NotNil(t, e.AccessedAt)
		}
	}
}

func TestRecall_LimitClampedToTwenty(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	p := embedding.NewRandomProvider(testDimensions)
	svc, _ := newService(t, s, p, Options{})

	for i := 0; i < 30; i++ {
		_, err := svc.Remember(context.Background(), RememberInput{
			AgentID: "agent-1", TenantID: "tenant-1",
			Content: fmt.Sprintf("observation number %d about the cluster", i),
		})
		require.NoError(t, err)
	}

	got, err := svc.Recall(context.Background(), RecallInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Query: "observation about the cluster", Limit: 100,
		Channel: security.ChannelInternal,
	})
	require.NoError(t, err)
	assert.Len(t, got, 20)
}

func TestRecall_ChannelMasking(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	p := embedding.NewRandomProvider(testDimensions)
	svc, _ := newService(t, s, p, Options{})

	_, err := svc.Remember(context.Background(), RememberInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Content: "the database password is rotating",
	})
	require.NoError(t, err)

	masked, err := svc.Recall(context.Background(), RecallInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Query: "the database password is rotating", Channel: security.ChannelMCP,
	})
	require.NoError(t, err)
	require.Len(t, masked, 1)
	assert.NotContains(t, masked[0].Content, "password")
	assert.Contains(t, masked[0].Content, "MASKED")

	clear, err := svc.Recall(context.Background(), RecallInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Query: "the database password is rotating", Channel: security.ChannelInternal,
	})
	require.NoError(t, err)
	require.Len(t, clear, 1)
	assert.Contains(t, clear[0].Content, "password")
}

func TestRecall_KeywordFallbackOnSearchFailure(t *testing.T) {
	inner := store.NewInMemoryStore(testDimensions, 168)
	broken := &brokenStore{Store: inner, failSearch: true}
	p := embedding.NewRandomProvider(testDimensions)
	svc, rec := newService(t, broken, p, Options{EnableKeywordFallback: true})

	match, err := svc.Remember(context.Background(), RememberInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Content: "kafka consumer lag is growing on topic orders",
	})
	require.NoError(t, err)
	_, err = svc.Remember(context.Background(), RememberInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Content: "nothing in common with the question",
	})
	require.NoError(t, err)

	got, err := svc.Recall(context.Background(), RecallInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Query: "kafka consumer lag orders", Limit: 5,
		Channel: security.ChannelInternal,
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, match.ID, got[0].ID)

	require.Len(t, rec.events, 1)
	assert.Equal(t, DegradedSearch, rec.events[0].Kind)

	// The fallback still updates access tracking.
	listed, err := inner.ListEntries(context.Background(), store.Scope{AgentID: "agent-1", TenantID: "tenant-1"}, store.OrderNewestFirst, 0, false)
	require.NoError(t, err)
	for _, e := range listed {
		if e.ID == match.ID {
			assert.Equal(t, 1, e.AccessCount)
		}
	}
}

func TestRecall_SearchFailureWithoutFallbackFails(t *testing.T) {
	broken := &brokenStore{Store: store.NewInMemoryStore(testDimensions, 168), failSearch: true}
	svc, _ := newService(t, broken, embedding.NewRandomProvider(testDimensions), Options{})

	_, err := svc.Recall(context.Background(), RecallInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Query: "anything", Channel: security.ChannelInternal,
	})
	assert.ErrorIs(t, err, errTransport)
}

func TestCompact_GroupsAtThreshold(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	p := embedding.NewRandomProvider(testDimensions)
	svc, _ := newService(t, s, p, Options{CompactionThreshold: 3})

	for i := 0; i < 3; i++ {
		_, err := svc.Remember(context.Background(), RememberInput{
			AgentID: "agent-1", TenantID: "tenant-1",
			Content: fmt.Sprintf("deploy note %d", i),
			Tags:    []string{"deploys"},
		})
		require.NoError(t, err)
	}
	small, err := svc.Remember(context.Background(), RememberInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Content: "single incident note",
		Tags:    []string{"incidents"},
	})
	require.NoError(t, err)

	result, err := svc.Compact(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.GroupsCompacted)
	assert.Equal(t, 3, result.EntriesArchived)
	require.Len(t, result.SummaryIDs, 1)

	scope := store.Scope{AgentID: "agent-1", TenantID: "tenant-1"}
	remaining, err := s.ListEntries(context.Background(), scope, store.OrderNewestFirst, 0, false)
	require.NoError(t, err)

	var summary *store.Entry
	ids := make(map[string]bool)
	for _, e := range remaining {
		ids[e.ID] = true
		if e.ID == result.SummaryIDs[0] {
			summary = e
		}
	}
	require.NotNil(t, summary)
	assert.ElementsMatch(t, []string{"deploys", "compacted"}, summary.Tags)
	assert.True(t, strings.HasPrefix(summary.Content, `Summary of 3 entries tagged "deploys":`))
	assert.True(t, ids[small.ID], "below-threshold group untouched")
	assert.Len(t, remaining, 2)
}

func TestCompact_SummariesAreNotRecompacted(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	p := embedding.NewRandomProvider(testDimensions)
	svc, _ := newService(t, s, p, Options{CompactionThreshold: 2})

	for i := 0; i < 2; i++ {
		_, err := svc.Remember(context.Background(), RememberInput{
			AgentID: "agent-1", TenantID: "tenant-1",
			Content: fmt.Sprintf("alert note %d", i),
			Tags:    []string{"alerts"},
		})
		require.NoError(t, err)
	}

	first, err := svc.Compact(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.GroupsCompacted)

	second, err := svc.Compact(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	assert.Zero(t, second.GroupsCompacted)
	assert.Zero(t, second.EntriesArchived)
}

func TestBuildSnapshot_Delegates(t *testing.T) {
	s := store.NewInMemoryStore(testDimensions, 168)
	p := embedding.NewRandomProvider(testDimensions)
	svc, _ := newService(t, s, p, Options{})

	_, err := svc.Remember(context.Background(), RememberInput{
		AgentID: "agent-1", TenantID: "tenant-1",
		Content: "remembered context",
	})
	require.NoError(t, err)

	snap, err := svc.BuildSnapshot(context.Background(), "agent-1", "tenant-1", "incoming alert", "latency")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(snap.PromptFragment, "## Memory snapshot"))
	assert.NotEmpty(t, snap.EntryIDs)
}
