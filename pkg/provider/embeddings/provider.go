// Package embeddings defines the Provider interface for vector embedding
// backends. voicescribe embeds finished transcripts so they can be searched by
// meaning as well as by keyword.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// All vectors returned by one Provider share the length reported by
// Dimensions. Vectors from different models must not be compared.
type Provider interface {
	// Embed computes the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call. The i-th result belongs to
	// texts[i]. On error no partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length.
	Dimensions() int

	// ModelID returns the backend model identifier.
	ModelID() string
}
