package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// RandomProvider produces deterministic pseudo-random unit vectors: the RNG
// is seeded from a hash of the input text, so identical inputs always yield
// identical vectors. Used for tests and local development.
type RandomProvider struct {
	dimensions int
}

// NewRandomProvider creates a deterministic random provider.
func NewRandomProvider(dimensions int) *RandomProvider {
	return &RandomProvider{dimensions: dimensions}
}

func (p *RandomProvider) Dimensions() int { return p.dimensions }

func (p *RandomProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	return p.vectorFor(text), nil
}

func (p *RandomProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

func (p *RandomProvider) vectorFor(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, p.dimensions)
	var norm float64
	for i := range vec {
		f := rng.Float64()*2 - 1
		vec[i] = float32(f)
		norm += f * f
	}
	// Normalize so cosine similarity of identical texts is exactly 1.
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
