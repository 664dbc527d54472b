// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider wraps a service that maps text strings to dense
// float32 vectors (e.g., OpenAI text-embedding-3 or a local sentence
// transformer). These vectors are used by the semantic router for route
// classification and by the retrieval layer for course-content search.
//
// The vector backend caps upsert batches at 200 records, so EmbedBatch
// implementations must accept arbitrarily large inputs and split them into
// backend calls of at most [MaxBatchSize] texts each.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// MaxBatchSize is the maximum number of texts submitted to the backend in one
// call. Imposed by the vector store's upsert batch cap.
const MaxBatchSize = 200

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share the
// same dimensionality (returned by Dimensions). Callers must not mix vectors
// from different Provider instances in the same similarity computation.
//
// Providers surface a retryable transport error or a non-retryable
// quota/validation error; they never retry internally beyond one attempt.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails
	// or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of text strings,
	// splitting into backend calls of at most MaxBatchSize texts. The
	// returned slice has the same length as texts and the i-th element
	// corresponds to texts[i].
	//
	// Returns an error if any single embedding fails or if ctx is cancelled.
	// Partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced
	// by this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier used for
	// embeddings (e.g., "text-embedding-3-small").
	ModelID() string
}
