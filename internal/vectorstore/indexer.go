package vectorstore

import (
	"context"
	"fmt"

	"github.com/aulalabs/aula/pkg/provider/embeddings"
)

// Indexer combines the embedding provider and the chunk store into the
// write path for course content: split, embed, upsert.
type Indexer struct {
	store    Store
	embedder embeddings.Provider
}

// NewIndexer creates an Indexer over the given store and embedding provider.
func NewIndexer(store Store, embedder embeddings.Provider) *Indexer {
	return &Indexer{store: store, embedder: embedder}
}

// AddCourseContent splits a titled block of content to fit the chunk cap,
// embeds each section in one batch call, and upserts the results with the
// given metadata. It returns the number of chunks actually written;
// previously ingested sections are skipped by their deterministic IDs, so
// re-adding the same section writes zero.
func (ix *Indexer) AddCourseContent(ctx context.Context, courseID, title, content string, meta ChunkMeta) (int, error) {
	if courseID == "" {
		return 0, fmt.Errorf("vectorstore: courseID must not be empty")
	}

	sections := SplitContent(title, content)
	if len(sections) == 0 {
		return 0, nil
	}

	texts := make([]string, len(sections))
	for i, sec := range sections {
		texts[i] = sec.Content
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: embed sections: %w", err)
	}
	if len(vectors) != len(sections) {
		return 0, fmt.Errorf("vectorstore: expected %d embeddings, got %d", len(sections), len(vectors))
	}

	chunks := make([]Chunk, len(sections))
	for i, sec := range sections {
		chunks[i] = Chunk{
			ID:         ChunkID(courseID, meta.Module, sec.Title, i),
			CourseID:   courseID,
			CourseName: meta.CourseName,
			Module:     meta.Module,
			Week:       meta.Week,
			Title:      sec.Title,
			ChunkIndex: i,
			Source:     meta.Source,
			Type:       ChunkTypeCourseContent,
			Content:    sec.Content,
			Embedding:  vectors[i],
		}
	}

	written, err := ix.store.Upsert(ctx, chunks)
	if err != nil {
		return written, fmt.Errorf("vectorstore: upsert course content: %w", err)
	}
	return written, nil
}
