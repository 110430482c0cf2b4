// Package snapshot assembles a long-term memory preface for a run:
// semantically relevant entries, recent entries, and pinned entries,
// deduplicated and trimmed to a token budget.
package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/owlhub/platform/pkg/memory/embedding"
	"github.com/owlhub/platform/pkg/memory/store"
	"github.com/owlhub/platform/pkg/memory/token"
)

// fragmentHeader opens every non-empty prompt fragment.
const fragmentHeader = "## Memory snapshot"

// pinnedTag marks entries that are always recalled into snapshots.
const pinnedTag = "pinned"

const (
	defaultSemanticTopK = 3
	defaultRecentHours  = 24
	defaultRecentLimit  = 5
)

// Snapshot is the assembled preface: the rendered fragment and the ids
// of the entries it contains, in render order.
type Snapshot struct {
	PromptFragment string
	EntryIDs       []string
}

// Options tune assembly. Zero values fall back to the defaults above;
// MaxTokens <= 0 means unbounded.
type Options struct {
	SemanticTopK int
	RecentHours  float64
	RecentLimit  int
	MaxTokens    int
}

func (o Options) withDefaults() Options {
	if o.SemanticTopK <= 0 {
		o.SemanticTopK = defaultSemanticTopK
	}
	if o.RecentHours <= 0 {
		o.RecentHours = defaultRecentHours
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = defaultRecentLimit
	}
	return o
}

// Builder assembles snapshots from a store and an embedding provider.
type Builder struct {
	store    store.Store
	embedder embedding.Provider
	counter  token.Counter
	opts     Options
}

// NewBuilder creates a builder. A nil counter uses the default
// approximation.
func NewBuilder(s store.Store, e embedding.Provider, counter token.Counter, opts Options) *Builder {
	if counter == nil {
		counter = token.ApproxCounter{}
	}
	return &Builder{store: s, embedder: e, counter: counter, opts: opts.withDefaults()}
}

// Build assembles a snapshot for the scope. The query text is the
// trigger, with the focus appended under a "focus:" marker when given.
// Entries are gathered semantic-first, then recent, then pinned,
// deduplicated by id, and added until the next entry would exceed the
// token budget.
func (b *Builder) Build(ctx context.Context, scope store.Scope, trigger, focus string) (*Snapshot, error) {
	query := trigger
	if focus != "" {
		query += "\nfocus: " + focus
	}

	var candidates []*store.Entry

	// Semantic relevance degrades to absent when the embedder fails;
	// recent and pinned recall still produce a usable snapshot.
	if vector, err := b.embedder.Embed(ctx, query); err == nil {
		scored, err := b.store.Search(ctx, scope, store.SearchQuery{
			Vector: vector,
			Limit:  b.opts.SemanticTopK,
		})
		if err != nil {
			return nil, fmt.Errorf("semantic search: %w", err)
		}
		for _, s := range scored {
			candidates = append(candidates, s.Entry)
		}
	}

	recent, err := b.store.GetRecent(ctx, scope, b.opts.RecentHours, b.opts.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent entries: %w", err)
	}
	candidates = append(candidates, recent...)

	pinned, err := b.store.Search(ctx, scope, store.SearchQuery{
		Tags: []string{pinnedTag},
	})
	if err != nil {
		return nil, fmt.Errorf("pinned entries: %w", err)
	}
	for _, s := range pinned {
		candidates = append(candidates, s.Entry)
	}

	return b.assemble(candidates), nil
}

// assemble dedups candidates in order and renders the fragment,
// stopping before the token budget is exceeded.
func (b *Builder) assemble(candidates []*store.Entry) *Snapshot {
	var lines strings.Builder
	lines.WriteString(fragmentHeader)

	tokens := b.counter.Count(fragmentHeader)
	seen := make(map[string]struct{}, len(candidates))
	var ids []string

	for _, e := range candidates {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		line := "\n- " + e.Content
		cost := b.counter.Count(line)
		if b.opts.MaxTokens > 0 && tokens+cost > b.opts.MaxTokens {
			break
		}
		seen[e.ID] = struct{}{}
		lines.WriteString(line)
		ids = append(ids, e.ID)
		tokens += cost
	}

	return &Snapshot{PromptFragment: lines.String(), EntryIDs: ids}
}
