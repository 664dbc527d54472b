// Package vectorstore provides course-scoped semantic storage and search on
// top of PostgreSQL with the pgvector extension.
//
// Course material is stored as pre-embedded content chunks. Each chunk
// belongs to exactly one course and carries a deterministic ID derived from
// its (course, module, title, index) tuple, which makes re-ingestion
// idempotent: uploading the same document twice writes nothing new, and no
// two chunks with the same tuple can coexist.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// MaxChunkBytes is the hard per-chunk content cap. Chunks above this size are
// split before storage; a chunk that still exceeds it is rejected.
const MaxChunkBytes = 15360

// ChunkTypeCourseContent is the chunk type every ingested course chunk
// carries.
const ChunkTypeCourseContent = "course_content"

// Chunk is one unit of course content in the store.
type Chunk struct {
	// ID uniquely identifies the chunk. For ingested content it is derived
	// via [ChunkID] so duplicates collide by construction.
	ID string

	// CourseID scopes the chunk to a course. Never empty.
	CourseID string

	// CourseName is the human title of the owning course.
	CourseName string

	// Module names the course module (or source document) the chunk came
	// from; Week is the module's week index, zero when unknown.
	Module string
	Week   int

	// Title is the section heading the chunk came from, suffixed with
	// "(Part n)" when the section was split.
	Title string

	// ChunkIndex is the chunk's position within its (module, title) group.
	ChunkIndex int

	// Source names the document or generator the content came from.
	Source string

	// Type is [ChunkTypeCourseContent] for all ingested material.
	Type string

	// Content is the chunk text.
	Content string

	// Embedding is the content's embedding vector.
	Embedding []float32
}

// ChunkMeta carries the course-level metadata every chunk of one section
// inherits.
type ChunkMeta struct {
	CourseName string
	Module     string
	Week       int
	Source     string
}

// ScoredChunk is a search result: a chunk plus its similarity to the query.
type ScoredChunk struct {
	Chunk

	// Similarity is the cosine similarity in [-1, 1]; higher is closer.
	Similarity float64
}

// Store is the persistence contract for course content chunks.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Upsert writes chunks in batches, skipping any whose ID already exists.
	// It returns the number of chunks actually written. Chunks whose content
	// exceeds [MaxChunkBytes] are counted as skipped, not errors.
	Upsert(ctx context.Context, chunks []Chunk) (int, error)

	// Query returns the k chunks of the given course closest to the query
	// embedding, ordered by descending similarity. An empty courseID lifts
	// the scope filter and searches every course.
	Query(ctx context.Context, courseID string, embedding []float32, k int) ([]ScoredChunk, error)

	// Count returns the number of stored chunks for the course.
	Count(ctx context.Context, courseID string) (int, error)

	// Peek returns up to n chunks of the course without a similarity search,
	// in insertion order. Used by ingestion verification.
	Peek(ctx context.Context, courseID string, n int) ([]Chunk, error)

	// HasCourse reports whether at least one chunk exists for the course.
	HasCourse(ctx context.Context, courseID string) (bool, error)

	// DeleteCourse removes all chunks belonging to the course.
	DeleteCourse(ctx context.Context, courseID string) error
}

// ChunkID derives the deterministic chunk identifier from the identity
// tuple (course, module, title, index). Ingesting the same tuple twice
// produces the same ID, which the store treats as a duplicate and skips;
// two chunks with the same tuple therefore cannot coexist.
func ChunkID(courseID, module, title string, index int) string {
	h := sha256.New()
	h.Write([]byte(courseID))
	h.Write([]byte{0})
	h.Write([]byte(module))
	h.Write([]byte{0})
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	return hex.EncodeToString(h.Sum(nil))
}
