package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider records how many times the transport was hit.
type countingProvider struct {
	inner Provider
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) Dimensions() int { return p.inner.Dimensions() }

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.inner.Embed(ctx, text)
}

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.inner.EmbedBatch(ctx, texts)
}

func TestRandomProvider_Deterministic(t *testing.T) {
	p := NewRandomProvider(16)
	ctx := context.Background()

	a, err := p.Embed(ctx, "same input")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "same input")
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical inputs must yield identical vectors")

	c, err := p.Embed(ctx, "different input")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestRandomProvider_EmptyInput(t *testing.T) {
	p := NewRandomProvider(8)
	_, err := p.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTFIDFProvider_FixedLengthAndOverlap(t *testing.T) {
	p := NewTFIDFProvider(64)
	ctx := context.Background()

	a, err := p.Embed(ctx, "kubernetes pod crashloop restart")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "kubernetes pod restart loop")
	require.NoError(t, err)
	c, err := p.Embed(ctx, "quarterly revenue forecast spreadsheet")
	require.NoError(t, err)

	assert.Len(t, a, 64)

	dot := func(x, y []float32) float64 {
		var sum float64
		for i := range x {
			sum += float64(x[i]) * float64(y[i])
		}
		return sum
	}
	assert.Greater(t, dot(a, b), dot(a, c),
		"overlapping texts must be closer than unrelated ones")
}

func TestCachedProvider_HitsBypassTransport(t *testing.T) {
	counting := &countingProvider{inner: NewRandomProvider(8)}
	cached := NewCachedProvider(counting, 10)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "repeated text")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "repeated text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, counting.calls, "second call must come from cache")
}

func TestCachedProvider_EvictsOldest(t *testing.T) {
	counting := &countingProvider{inner: NewRandomProvider(8)}
	cached := NewCachedProvider(counting, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cached.Embed(ctx, fmt.Sprintf("text-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cached.Len())

	// text-0 was evicted; embedding it again hits the transport.
	before := counting.calls
	_, err := cached.Embed(ctx, "text-0")
	require.NoError(t, err)
	assert.Equal(t, before+1, counting.calls)

	// text-2 is still cached.
	before = counting.calls
	_, err = cached.Embed(ctx, "text-2")
	require.NoError(t, err)
	assert.Equal(t, before, counting.calls)
}

func TestCachedProvider_BatchMixesHitsAndMisses(t *testing.T) {
	counting := &countingProvider{inner: NewRandomProvider(8)}
	cached := NewCachedProvider(counting, 10)
	ctx := context.Background()

	warm, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"cold-1", "warm", "cold-2"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, warm, vecs[1], "cached entry preserved at its input position")
}

func TestChunkTexts(t *testing.T) {
	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	chunks := chunkTexts(texts)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 50)
	assert.Equal(t, "t0", chunks[0][0])
	assert.Equal(t, "t249", chunks[2][49])
}

// failingProvider always fails; used to verify error propagation.
type failingProvider struct{ dims int }

func (p *failingProvider) Dimensions() int { return p.dims }
func (p *failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("transport down")
}
func (p *failingProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("transport down")
}

func TestCachedProvider_ErrorNotCached(t *testing.T) {
	cached := NewCachedProvider(&failingProvider{dims: 8}, 10)
	_, err := cached.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Zero(t, cached.Len())
}
