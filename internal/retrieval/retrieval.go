// Package retrieval finds the course chunks most relevant to a query. It
// embeds the query, over-fetches candidates from the vector store, runs them
// through a pluggable reranker, and truncates to the requested size.
package retrieval

import (
	"context"
	"fmt"

	"github.com/aulalabs/aula/internal/vectorstore"
	"github.com/aulalabs/aula/pkg/provider/embeddings"
)

const (
	// DefaultTopK is how many chunks a retrieval returns by default.
	DefaultTopK = 3

	// DefaultPreK is how many candidates are fetched before reranking.
	DefaultPreK = 10

	// minPreK keeps the candidate pool large enough for reranking to matter.
	minPreK = 5
)

// Reranker reorders retrieval candidates. Implementations may fuse lexical
// scores or call a cross-encoder; they must not add or invent candidates.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []vectorstore.ScoredChunk) ([]vectorstore.ScoredChunk, error)
}

// NoopReranker keeps the vector-similarity order. It is the default: any
// real reranker adds latency to the hot answer path.
type NoopReranker struct{}

// Rerank returns candidates unchanged.
func (NoopReranker) Rerank(_ context.Context, _ string, candidates []vectorstore.ScoredChunk) ([]vectorstore.ScoredChunk, error) {
	return candidates, nil
}

// Retriever is the query-side retrieval pipeline. Construct with [New]; safe
// for concurrent use.
type Retriever struct {
	embedder embeddings.Provider
	store    vectorstore.Store
	reranker Reranker
	topK     int
	preK     int
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithReranker replaces the default no-op reranker.
func WithReranker(r Reranker) Option {
	return func(rt *Retriever) { rt.reranker = r }
}

// WithTopK sets the default result size.
func WithTopK(k int) Option {
	return func(rt *Retriever) { rt.topK = k }
}

// WithPreK sets the candidate pool size fetched before reranking.
func WithPreK(k int) Option {
	return func(rt *Retriever) { rt.preK = k }
}

// New builds a Retriever over the given embedder and store.
func New(embedder embeddings.Provider, store vectorstore.Store, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retrieval: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("retrieval: store must not be nil")
	}
	r := &Retriever{
		embedder: embedder,
		store:    store,
		reranker: NoopReranker{},
		topK:     DefaultTopK,
		preK:     DefaultPreK,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.preK < minPreK {
		r.preK = minPreK
	}
	if r.preK < r.topK {
		r.preK = r.topK
	}
	return r, nil
}

// Retrieve returns up to k chunks relevant to query, best first. The course
// filter is optional: an empty courseID searches across every course. k <= 0
// uses the configured default. An empty store or a filter that matches
// nothing yields an empty slice, never an error.
func (r *Retriever) Retrieve(ctx context.Context, query, courseID string, k int) ([]vectorstore.ScoredChunk, error) {
	if k <= 0 {
		k = r.topK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	preK := r.preK
	if preK < k {
		preK = k
	}
	candidates, err := r.store.Query(ctx, courseID, vec, preK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector query: %w", err)
	}
	if len(candidates) == 0 {
		return []vectorstore.ScoredChunk{}, nil
	}

	ranked, err := r.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("retrieval: rerank: %w", err)
	}

	// The scope filter is the store's job; a chunk from another course here
	// means the backend is broken, not a condition to paper over. Unscoped
	// retrievals accept chunks from any course.
	if courseID != "" {
		for _, sc := range ranked {
			if sc.CourseID != courseID {
				return nil, fmt.Errorf("retrieval: chunk %s belongs to course %q, queried %q", sc.ID, sc.CourseID, courseID)
			}
		}
	}

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}
