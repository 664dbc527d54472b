package vectorstore_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aulalabs/aula/internal/vectorstore"
	storemock "github.com/aulalabs/aula/internal/vectorstore/mock"
	embedmock "github.com/aulalabs/aula/pkg/provider/embeddings/mock"
)

func TestAddCourseContent(t *testing.T) {
	store := storemock.NewStore()
	embedder := &embedmock.Provider{
		EmbedFunc: func(string) []float32 { return []float32{0.1, 0.2} },
	}
	ix := vectorstore.NewIndexer(store, embedder)

	meta := vectorstore.ChunkMeta{
		CourseName: "Calculus I",
		Module:     "Foundations",
		Week:       1,
		Source:     "course_outline",
	}
	written, err := ix.AddCourseContent(context.Background(), "course-1", "Limits", "A limit describes behavior near a point.", meta)
	if err != nil {
		t.Fatalf("AddCourseContent: %v", err)
	}
	if written != 1 {
		t.Errorf("written = %d, want 1", written)
	}

	stored, err := store.Peek(context.Background(), "course-1", 1)
	if err != nil || len(stored) != 1 {
		t.Fatalf("Peek: %v (%d chunks)", err, len(stored))
	}
	c := stored[0]
	if c.CourseName != "Calculus I" || c.Module != "Foundations" || c.Week != 1 {
		t.Errorf("chunk metadata = %q/%q/week %d, want Calculus I/Foundations/week 1", c.CourseName, c.Module, c.Week)
	}
	if c.Source != "course_outline" {
		t.Errorf("Source = %q, want course_outline", c.Source)
	}
	if c.Type != vectorstore.ChunkTypeCourseContent {
		t.Errorf("Type = %q, want %q", c.Type, vectorstore.ChunkTypeCourseContent)
	}
}

func TestAddCourseContentDuplicateSkipped(t *testing.T) {
	store := storemock.NewStore()
	embedder := &embedmock.Provider{
		EmbedFunc: func(string) []float32 { return []float32{0.5} },
	}
	ix := vectorstore.NewIndexer(store, embedder)
	ctx := context.Background()

	meta := vectorstore.ChunkMeta{Module: "Foundations"}
	if _, err := ix.AddCourseContent(ctx, "course-1", "Limits", "Same content.", meta); err != nil {
		t.Fatalf("first add: %v", err)
	}
	written, err := ix.AddCourseContent(ctx, "course-1", "Limits", "Same content.", meta)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if written != 0 {
		t.Errorf("written on re-ingest = %d, want 0", written)
	}
}

func TestAddCourseContentSplitsLargeContent(t *testing.T) {
	store := storemock.NewStore()
	embedder := &embedmock.Provider{
		EmbedFunc: func(string) []float32 { return []float32{1} },
	}
	ix := vectorstore.NewIndexer(store, embedder)

	big := strings.Repeat("Derivatives measure change. ", 1200) // well over the cap
	written, err := ix.AddCourseContent(context.Background(), "course-1", "Chapter", big, vectorstore.ChunkMeta{})
	if err != nil {
		t.Fatalf("AddCourseContent: %v", err)
	}
	if written < 2 {
		t.Errorf("written = %d, want >= 2 for oversized content", written)
	}

	// One batch call regardless of section count.
	if len(embedder.EmbedBatchCalls) != 1 {
		t.Errorf("EmbedBatch calls = %d, want 1", len(embedder.EmbedBatchCalls))
	}
}

func TestAddCourseContentEmptyCourse(t *testing.T) {
	ix := vectorstore.NewIndexer(storemock.NewStore(), &embedmock.Provider{})
	if _, err := ix.AddCourseContent(context.Background(), "", "T", "content", vectorstore.ChunkMeta{}); err == nil {
		t.Fatal("expected error for empty courseID, got nil")
	}
}

func TestMockStoreQueryAndDelete(t *testing.T) {
	store := storemock.NewStore()
	ctx := context.Background()

	chunks := []vectorstore.Chunk{
		{ID: "a", CourseID: "c1", Content: "one"},
		{ID: "b", CourseID: "c1", Content: "two"},
		{ID: "c", CourseID: "c2", Content: "three"},
	}
	if _, err := store.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.Query(ctx, "c1", nil, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("query results = %d, want 2", len(got))
	}

	ok, _ := store.HasCourse(ctx, "c2")
	if !ok {
		t.Error("HasCourse(c2) = false, want true")
	}

	if err := store.DeleteCourse(ctx, "c1"); err != nil {
		t.Fatalf("DeleteCourse: %v", err)
	}
	n, _ := store.Count(ctx, "c1")
	if n != 0 {
		t.Errorf("count after delete = %d, want 0", n)
	}
}
