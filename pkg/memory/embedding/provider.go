// Package embedding provides the text-to-vector provider seam: an OpenAI
// transport, a deterministic random provider for tests, a TF-IDF hashing
// provider used as a degradation path, and a bounded LRU cache wrapper.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// batchChunkSize is the maximum number of inputs sent per transport call.
const batchChunkSize = 100

var (
	// ErrDimensionMismatch is returned when a provider produces a vector
	// whose length differs from its reported dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyInput is returned for empty text.
	ErrEmptyInput = errors.New("embedding input is empty")
)

// Provider converts text into dense vectors. Implementations must be safe
// for concurrent callers and must produce exactly Dimensions() components.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the vector length this provider produces.
	Dimensions() int
}

// checkDimensions validates a produced vector against the expected length.
func checkDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, want, len(vec))
	}
	return nil
}

// chunkTexts splits inputs into transport-sized chunks, preserving order.
func chunkTexts(texts []string) [][]string {
	var chunks [][]string
	for len(texts) > batchChunkSize {
		chunks = append(chunks, texts[:batchChunkSize])
		texts = texts[batchChunkSize:]
	}
	if len(texts) > 0 {
		chunks = append(chunks, texts)
	}
	return chunks
}
