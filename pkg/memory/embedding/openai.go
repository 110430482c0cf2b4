package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	maxAttempts       = 3
	initialBackoff    = 200 * time.Millisecond
	backoffMultiplier = 2
)

// OpenAIProvider embeds text through the OpenAI embeddings API. Transport
// errors are retried with exponential backoff; the last failure surfaces.
type OpenAIProvider struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIProvider creates a provider for the given model and dimension.
// apiKey may be empty when the environment provides OPENAI_API_KEY.
func NewOpenAIProvider(apiKey, model string, dimensions int) *OpenAIProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAIProvider{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}
}

func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for _, chunk := range chunkTexts(texts) {
		vecs, err := p.embedChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

// embedChunk calls the transport once per attempt, retrying transport
// errors up to maxAttempts with exponential backoff.
func (p *OpenAIProvider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= backoffMultiplier
		}

		resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model:      openai.EmbeddingModel(p.model),
			Dimensions: openai.Int(int64(p.dimensions)),
		})
		if err != nil {
			lastErr = err
			slog.Warn("Embedding call failed, retrying",
				"attempt", attempt, "max_attempts", maxAttempts, "error", err)
			continue
		}

		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("embedding response size mismatch: want %d, got %d",
				len(texts), len(resp.Data))
		}

		vecs := make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for j, f := range d.Embedding {
				vec[j] = float32(f)
			}
			if err := checkDimensions(vec, p.dimensions); err != nil {
				return nil, err
			}
			vecs[i] = vec
		}
		return vecs, nil
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", maxAttempts, lastErr)
}
