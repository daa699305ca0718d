package domain

import (
	"context"
	"fmt"
)

// BatchEmbedder vectorizes multiple texts in a single provider call.
// Embeddings[i] corresponds to texts[i].
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// Dimensions returns the shared vector length, or 0 for an empty result.
func (r BatchEmbeddingResult) Dimensions() int {
	if len(r.Embeddings) == 0 {
		return 0
	}
	return len(r.Embeddings[0])
}

// ValidateBatch checks that a provider answered with exactly want non-empty
// vectors of equal length.
func ValidateBatch(res BatchEmbeddingResult, want int) error {
	if len(res.Embeddings) != want {
		return fmt.Errorf("%w: expected %d vectors, got %d",
			ErrProviderMalformedResponse, want, len(res.Embeddings))
	}
	dims := res.Dimensions()
	for i, v := range res.Embeddings {
		if len(v) == 0 {
			return fmt.Errorf("%w: vector %d is empty", ErrProviderMalformedResponse, i)
		}
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrProviderMalformedResponse, i, len(v), dims)
		}
	}
	return nil
}
