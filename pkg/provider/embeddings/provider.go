// Package embeddings defines the Provider interface for vector embedding backends.
//
// Embeddings back the optional session archive: every sealed session summary
// is embedded and stored so that later sessions can be recalled by meaning
// rather than by name.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider share the same dimensionality
// (Dimensions). Vectors from different models must not be compared.
type Provider interface {
	// Embed computes the embedding vector for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts in one call. The i-th result belongs to
	// texts[i]; on error the whole result is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector.
	Dimensions() int

	// ModelID returns the model identifier (e.g., "text-embedding-3-small").
	ModelID() string
}
