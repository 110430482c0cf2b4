// Package memory is the façade over the memory engine: classification,
// embedding, storage, recall masking, compaction, and snapshot assembly,
// with explicit fallbacks when a dependency degrades.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/owlhub/platform/pkg/memory/embedding"
	"github.com/owlhub/platform/pkg/memory/security"
	"github.com/owlhub/platform/pkg/memory/snapshot"
	"github.com/owlhub/platform/pkg/memory/store"
)

// ErrInvalidSensitivity rejects sensitivity overrides outside the
// security level set.
var ErrInvalidSensitivity = errors.New("invalid sensitivity level")

// ErrEmptyContent rejects blank remember calls.
var ErrEmptyContent = errors.New("content must not be empty")

// maxRecallLimit caps how many entries a single recall may return.
const maxRecallLimit = 20

// defaultRecallLimit applies when the caller passes no limit.
const defaultRecallLimit = 5

// compactedTag marks compaction summary entries.
const compactedTag = "compacted"

// Options configure the service's fallback ladder and compaction.
type Options struct {
	CompactionThreshold   int
	EnableTFIDFFallback   bool
	EnableKeywordFallback bool
	EnableFileFallback    bool
	FileFallbackPath      string
}

// Service composes the memory engine components.
type Service struct {
	store      store.Store
	embedder   embedding.Provider
	tfidf      embedding.Provider
	classifier *security.Classifier
	filter     *security.Filter
	snapshots  *snapshot.Builder
	recorder   DegradationRecorder
	fallback   *fallbackFile
	opts       Options
	now        func() time.Time
}

// NewService wires the façade. The recorder may be nil; the TF-IDF
// provider is built internally when the fallback is enabled.
func NewService(s store.Store, e embedding.Provider, snapshots *snapshot.Builder, recorder DegradationRecorder, opts Options) *Service {
	svc := &Service{
		store:      s,
		embedder:   e,
		classifier: security.NewClassifier(),
		filter:     security.NewFilter(),
		snapshots:  snapshots,
		recorder:   recorder,
		opts:       opts,
		now:        time.Now,
	}
	if opts.EnableTFIDFFallback {
		svc.tfidf = embedding.NewTFIDFProvider(e.Dimensions())
	}
	if opts.EnableFileFallback && opts.FileFallbackPath != "" {
		svc.fallback = newFallbackFile(opts.FileFallbackPath)
	}
	return svc
}

// RememberInput carries one remember call.
type RememberInput struct {
	AgentID  string
	TenantID string
	Content  string
	Tags     []string
	// Sensitivity overrides classification when set; it must be a
	// valid security level.
	Sensitivity string
}

// Remember classifies, embeds, and stores one entry. Embedding failures
// degrade to TF-IDF vectors; store failures degrade to the append-only
// fallback file. Either degradation is recorded.
func (s *Service) Remember(ctx context.Context, in RememberInput) (*store.Entry, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	level := store.SecurityLevel(in.Sensitivity)
	if in.Sensitivity == "" {
		level = s.classifier.Classify(content)
	} else if !store.ValidLevel(level) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSensitivity, in.Sensitivity)
	}

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		if s.tfidf == nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		s.recordDegradation(ctx, DegradedEmbedding, in.AgentID, in.TenantID, err)
		vector, err = s.tfidf.Embed(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("fallback embed content: %w", err)
		}
	}

	entry := &store.Entry{
		AgentID:       in.AgentID,
		TenantID:      in.TenantID,
		Content:       content,
		Embedding:     vector,
		Tags:          normalizeTags(in.Tags),
		SecurityLevel: level,
	}

	if err := s.store.Save(ctx, entry); err != nil {
		if s.fallback == nil {
			return nil, fmt.Errorf("save entry: %w", err)
		}
		s.recordDegradation(ctx, DegradedStorage, in.AgentID, in.TenantID, err)
		id, ferr := s.fallback.Append(entry)
		if ferr != nil {
			return nil, fmt.Errorf("save entry: %w (fallback file: %v)", err, ferr)
		}
		entry.ID = id
		entry.CreatedAt = s.now().UTC()
	}
	return entry, nil
}

// RecallInput carries one recall call.
type RecallInput struct {
	AgentID  string
	TenantID string
	Query    string
	Limit    int
	Tags     []string
	Channel  security.Channel
}

// Recall returns the most relevant entries for the query, masked for
// the delivery channel. Vector search failures degrade to keyword
// overlap ranking when enabled. Returned entries have their access
// tracking updated.
func (s *Service) Recall(ctx context.Context, in RecallInput) ([]*store.Entry, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	if limit > maxRecallLimit {
		limit = maxRecallLimit
	}

	scope := store.Scope{AgentID: in.AgentID, TenantID: in.TenantID}
	tags := normalizeTags(in.Tags)

	entries, err := s.vectorRecall(ctx, scope, in.Query, limit, tags)
	if err != nil {
		if !s.opts.EnableKeywordFallback {
			return nil, err
		}
		s.recordDegradation(ctx, DegradedSearch, in.AgentID, in.TenantID, err)
		entries, err = s.keywordRecall(ctx, scope, in.Query, limit, tags)
		if err != nil {
			return nil, fmt.Errorf("keyword recall: %w", err)
		}
	}

	if len(entries) > 0 {
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := s.store.UpdateAccess(ctx, scope, ids); err != nil {
			slog.Warn("Memory recall: access tracking failed",
				"agent_id", in.AgentID, "tenant_id", in.TenantID, "error", err)
		}
	}

	s.filter.Apply(entries, in.Channel)
	return entries, nil
}

func (s *Service) vectorRecall(ctx context.Context, scope store.Scope, query string, limit int, tags []string) ([]*store.Entry, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	scored, err := s.store.Search(ctx, scope, store.SearchQuery{
		Vector: vector,
		Limit:  limit,
		Tags:   tags,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	entries := make([]*store.Entry, len(scored))
	for i, sc := range scored {
		entries[i] = sc.Entry
	}
	return entries, nil
}

// keywordRecall ranks the newest entries by word overlap with the query.
func (s *Service) keywordRecall(ctx context.Context, scope store.Scope, query string, limit int, tags []string) ([]*store.Entry, error) {
	candidates, err := s.store.ListEntries(ctx, scope, store.OrderNewestFirst, 0, false)
	if err != nil {
		return nil, err
	}

	queryWords := wordSet(query)
	type scored struct {
		entry *store.Entry
		score float64
	}
	var matches []scored
	for _, e := range candidates {
		if !e.HasTags(tags) {
			continue
		}
		score := wordOverlap(queryWords, wordSet(e.Content))
		if score > 0 {
			matches = append(matches, scored{entry: e, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].entry.CreatedAt.After(matches[j].entry.CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	entries := make([]*store.Entry, len(matches))
	for i, m := range matches {
		entries[i] = m.entry
	}
	return entries, nil
}

// CompactionResult summarizes one compaction pass.
type CompactionResult struct {
	GroupsCompacted int
	EntriesArchived int
	SummaryIDs      []string
}

// Compact groups non-archived entries by tag and replaces every group
// at or above the threshold with a single summary entry tagged with the
// group tag plus "compacted"; the group is then archived.
func (s *Service) Compact(ctx context.Context, agentID, tenantID string) (*CompactionResult, error) {
	if s.opts.CompactionThreshold <= 0 {
		return &CompactionResult{}, nil
	}
	scope := store.Scope{AgentID: agentID, TenantID: tenantID}

	entries, err := s.store.ListEntries(ctx, scope, store.OrderNewestFirst, 0, false)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	groups := make(map[string][]*store.Entry)
	for _, e := range entries {
		if e.HasTags([]string{compactedTag}) {
			continue
		}
		for _, tag := range e.Tags {
			groups[tag] = append(groups[tag], e)
		}
	}

	tagsInOrder := make([]string, 0, len(groups))
	for tag := range groups {
		tagsInOrder = append(tagsInOrder, tag)
	}
	sort.Strings(tagsInOrder)

	result := &CompactionResult{}
	archived := make(map[string]struct{})
	for _, tag := range tagsInOrder {
		group := groups[tag]
		if len(group) < s.opts.CompactionThreshold {
			continue
		}

		summary, err := s.summarizeGroup(ctx, scope, tag, group)
		if err != nil {
			return result, fmt.Errorf("compact tag %q: %w", tag, err)
		}
		result.GroupsCompacted++
		result.SummaryIDs = append(result.SummaryIDs, summary.ID)

		var ids []string
		for _, e := range group {
			if _, done := archived[e.ID]; done {
				continue
			}
			archived[e.ID] = struct{}{}
			ids = append(ids, e.ID)
		}
		n, err := s.store.Archive(ctx, scope, ids)
		result.EntriesArchived += n
		if err != nil {
			return result, fmt.Errorf("archive tag %q group: %w", tag, err)
		}
	}
	return result, nil
}

// summarizeGroup saves one summary entry covering the group. The summary
// inherits the most restrictive level in the group.
func (s *Service) summarizeGroup(ctx context.Context, scope store.Scope, tag string, group []*store.Entry) (*store.Entry, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary of %d entries tagged %q:", len(group), tag)
	for _, e := range group {
		line := "\n- " + strings.ReplaceAll(e.Content, "\n", " ")
		if b.Len()+len(line) > store.MaxContentLength {
			break
		}
		b.WriteString(line)
	}
	content := b.String()

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil && s.tfidf != nil {
		s.recordDegradation(ctx, DegradedEmbedding, scope.AgentID, scope.TenantID, err)
		vector, err = s.tfidf.Embed(ctx, content)
	}
	if err != nil {
		return nil, fmt.Errorf("embed summary: %w", err)
	}

	summary := &store.Entry{
		AgentID:       scope.AgentID,
		TenantID:      scope.TenantID,
		Content:       content,
		Embedding:     vector,
		Tags:          []string{tag, compactedTag},
		SecurityLevel: mostRestrictive(group),
	}
	if err := s.store.Save(ctx, summary); err != nil {
		return nil, fmt.Errorf("save summary: %w", err)
	}
	return summary, nil
}

// BuildSnapshot assembles the long-term memory preface for a run.
func (s *Service) BuildSnapshot(ctx context.Context, agentID, tenantID, trigger, focus string) (*snapshot.Snapshot, error) {
	scope := store.Scope{AgentID: agentID, TenantID: tenantID}
	return s.snapshots.Build(ctx, scope, trigger, focus)
}

func (s *Service) recordDegradation(ctx context.Context, kind DegradationKind, agentID, tenantID string, cause error) {
	slog.Warn("Memory service degraded",
		"kind", string(kind), "agent_id", agentID, "tenant_id", tenantID, "error", cause)
	if s.recorder == nil {
		return
	}
	s.recorder.RecordDegradation(ctx, DegradationEvent{
		Kind:     kind,
		AgentID:  agentID,
		TenantID: tenantID,
		Reason:   cause.Error(),
		At:       s.now().UTC(),
	})
}

func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func mostRestrictive(group []*store.Entry) store.SecurityLevel {
	rank := map[store.SecurityLevel]int{
		store.LevelPublic:       0,
		store.LevelInternal:     1,
		store.LevelConfidential: 2,
		store.LevelRestricted:   3,
	}
	level := store.LevelPublic
	for _, e := range group {
		if rank[e.SecurityLevel] > rank[level] {
			level = e.SecurityLevel
		}
	}
	return level
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// wordOverlap is the Jaccard coefficient of the two word sets.
func wordOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for w := range a {
		if _, ok := b[w]; ok {
			common++
		}
	}
	union := len(a) + len(b) - common
	return float64(common) / float64(union)
}
