package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/aulalabs/aula/internal/vectorstore"
	vsmock "github.com/aulalabs/aula/internal/vectorstore/mock"
	embmock "github.com/aulalabs/aula/pkg/provider/embeddings/mock"
)

func scored(id, courseID string, sim float64) vectorstore.ScoredChunk {
	return vectorstore.ScoredChunk{
		Chunk:      vectorstore.Chunk{ID: id, CourseID: courseID, Content: "content " + id},
		Similarity: sim,
	}
}

func newEmbedder() *embmock.Provider {
	return &embmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3}
}

func TestRetrieveTruncatesToK(t *testing.T) {
	store := vsmock.NewStore()
	store.QueryResults = []vectorstore.ScoredChunk{
		scored("a", "c1", 0.9),
		scored("b", "c1", 0.8),
		scored("c", "c1", 0.7),
		scored("d", "c1", 0.6),
	}
	r, err := New(newEmbedder(), store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := r.Retrieve(context.Background(), "what is ML", "c1", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "a" || got[2].ID != "c" {
		t.Fatalf("order not preserved: %v, %v", got[0].ID, got[2].ID)
	}
}

func TestRetrieveEmptyStoreReturnsEmpty(t *testing.T) {
	r, err := New(newEmbedder(), vsmock.NewStore())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := r.Retrieve(context.Background(), "anything", "c1", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestRetrieveUnscopedSearchesAllCourses(t *testing.T) {
	store := vsmock.NewStore()
	if _, err := store.Upsert(context.Background(), []vectorstore.Chunk{
		{ID: "a", CourseID: "c1", Content: "vectors"},
		{ID: "b", CourseID: "c2", Content: "matrices"},
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	r, _ := New(newEmbedder(), store)

	got, err := r.Retrieve(context.Background(), "linear algebra", "", 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want chunks from both courses", len(got))
	}
	seen := map[string]bool{}
	for _, sc := range got {
		seen[sc.CourseID] = true
	}
	if !seen["c1"] || !seen["c2"] {
		t.Fatalf("courses seen = %v, want c1 and c2", seen)
	}
	if len(store.QueryCalls) != 1 || store.QueryCalls[0] != "" {
		t.Fatalf("QueryCalls = %v, want one unscoped query", store.QueryCalls)
	}
}

func TestRetrieveOverFetchesForReranking(t *testing.T) {
	store := vsmock.NewStore()
	for i := 0; i < 10; i++ {
		store.QueryResults = append(store.QueryResults, scored(string(rune('a'+i)), "c1", 1.0-float64(i)/10))
	}
	r, _ := New(newEmbedder(), store, WithPreK(8))

	got, err := r.Retrieve(context.Background(), "q", "c1", 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// The mock truncates QueryResults to the requested pool size, so a pool
	// of 8 proves the over-fetch happened.
	if len(store.QueryCalls) != 1 {
		t.Fatalf("QueryCalls = %d, want 1", len(store.QueryCalls))
	}
}

// reverseReranker flips candidate order, proving the reranker's verdict is
// what gets truncated.
type reverseReranker struct{}

func (reverseReranker) Rerank(_ context.Context, _ string, cs []vectorstore.ScoredChunk) ([]vectorstore.ScoredChunk, error) {
	out := make([]vectorstore.ScoredChunk, len(cs))
	for i, c := range cs {
		out[len(cs)-1-i] = c
	}
	return out, nil
}

func TestRetrieveAppliesReranker(t *testing.T) {
	store := vsmock.NewStore()
	store.QueryResults = []vectorstore.ScoredChunk{
		scored("a", "c1", 0.9),
		scored("b", "c1", 0.8),
		scored("c", "c1", 0.7),
	}
	r, _ := New(newEmbedder(), store, WithReranker(reverseReranker{}))

	got, err := r.Retrieve(context.Background(), "q", "c1", 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("reranked order = %v, %v; want c, b", got[0].ID, got[1].ID)
	}
}

func TestRetrieveRejectsForeignCourseChunk(t *testing.T) {
	store := vsmock.NewStore()
	store.QueryResults = []vectorstore.ScoredChunk{scored("x", "other", 0.9)}
	r, _ := New(newEmbedder(), store)

	if _, err := r.Retrieve(context.Background(), "q", "c1", 3); err == nil {
		t.Fatal("expected error for chunk outside the queried course")
	}
}

func TestRetrievePropagatesEmbedError(t *testing.T) {
	emb := &embmock.Provider{EmbedErr: errors.New("quota exceeded")}
	r, _ := New(emb, vsmock.NewStore())

	if _, err := r.Retrieve(context.Background(), "q", "c1", 3); err == nil {
		t.Fatal("expected embed error to propagate")
	}
}

func TestNewClampsPreK(t *testing.T) {
	r, err := New(newEmbedder(), vsmock.NewStore(), WithPreK(1), WithTopK(3))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if r.preK < minPreK {
		t.Fatalf("preK = %d, want >= %d", r.preK, minPreK)
	}
}
