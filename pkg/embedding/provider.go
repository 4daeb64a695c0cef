// Package embedding provides clients for external text-embedding services.
//
// Providers convert text into fixed-dimension float vectors. Every provider
// failure (timeout, quota, network, malformed response) is wrapped in
// ErrEmbeddingFailed so callers can treat the whole class uniformly.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingFailed wraps every provider-side failure
var ErrEmbeddingFailed = errors.New("embedding: generation failed")

// Provider converts text into a fixed-dimension embedding vector.
//
// Contract:
//   - GenerateEmbedding must honor ctx cancellation and deadlines.
//   - The returned vector length must equal Dimensions() for the
//     configured model.
//   - Implementations must be safe for concurrent use.
type Provider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// Model returns the provider/model identifier embeddings are produced with
	Model() string

	// Dimensions returns the vector length this provider is configured for
	Dimensions() int
}
