package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// TFIDFProvider produces fixed-length vectors via feature hashing of term
// frequencies. It needs no remote calls, which makes it the degradation
// provider when the primary embedder is unavailable. Vectors from this
// provider live in a different space than the primary's — comparable with
// each other, not with remote embeddings.
type TFIDFProvider struct {
	dimensions int
}

// NewTFIDFProvider creates a feature-hashing provider.
func NewTFIDFProvider(dimensions int) *TFIDFProvider {
	return &TFIDFProvider{dimensions: dimensions}
}

func (p *TFIDFProvider) Dimensions() int { return p.dimensions }

func (p *TFIDFProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	terms := tokenize(text)
	vec := make([]float32, p.dimensions)
	if len(terms) == 0 {
		return vec, nil
	}

	// Term frequency, hashed into fixed-size buckets. The sign hash
	// reduces collision bias (the usual hashing trick).
	for term, count := range terms {
		bucket, sign := hashTerm(term, p.dimensions)
		tf := float64(count) / float64(len(terms))
		vec[bucket] += float32(sign * tf)
	}

	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (p *TFIDFProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(text string) map[string]int {
	terms := make(map[string]int)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		terms[w]++
	}
	return terms
}

func hashTerm(term string, buckets int) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	sum := h.Sum64()
	sign := 1.0
	if sum&1 == 1 {
		sign = -1.0
	}
	return int((sum >> 1) % uint64(buckets)), sign
}
