// Package mock provides an in-memory test double for the vectorstore.Store
// interface. It honors the duplicate-skip contract of Upsert and returns
// Query results in the order they were configured, which lets tests control
// ranking without computing real similarities.
package mock

import (
	"context"
	"sync"

	"github.com/aulalabs/aula/internal/vectorstore"
)

// Ensure Store implements the vectorstore.Store interface.
var _ vectorstore.Store = (*Store)(nil)

// Store is an in-memory mock of vectorstore.Store.
type Store struct {
	mu sync.Mutex

	// QueryResults, when non-nil, is returned verbatim by Query (truncated
	// to k). When nil, Query returns the stored chunks of the course with
	// zero similarity.
	QueryResults []vectorstore.ScoredChunk

	// Errors to force from each method.
	UpsertErr error
	QueryErr  error
	CountErr  error
	DeleteErr error

	// QueryCalls records the course IDs passed to Query.
	QueryCalls []string

	chunks map[string]vectorstore.Chunk // by chunk ID
	order  []string
}

// NewStore creates an empty mock store.
func NewStore() *Store {
	return &Store{chunks: make(map[string]vectorstore.Chunk)}
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(_ context.Context, chunks []vectorstore.Chunk) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return 0, s.UpsertErr
	}
	written := 0
	for _, c := range chunks {
		if len(c.Content) > vectorstore.MaxChunkBytes {
			continue
		}
		if _, exists := s.chunks[c.ID]; exists {
			continue
		}
		s.chunks[c.ID] = c
		s.order = append(s.order, c.ID)
		written++
	}
	return written, nil
}

// Query implements vectorstore.Store.
func (s *Store) Query(_ context.Context, courseID string, _ []float32, k int) ([]vectorstore.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCalls = append(s.QueryCalls, courseID)
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	if s.QueryResults != nil {
		if len(s.QueryResults) > k {
			return s.QueryResults[:k], nil
		}
		return s.QueryResults, nil
	}
	var out []vectorstore.ScoredChunk
	for _, id := range s.order {
		c := s.chunks[id]
		if courseID != "" && c.CourseID != courseID {
			continue
		}
		out = append(out, vectorstore.ScoredChunk{Chunk: c})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Count implements vectorstore.Store.
func (s *Store) Count(_ context.Context, courseID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CountErr != nil {
		return 0, s.CountErr
	}
	n := 0
	for _, c := range s.chunks {
		if c.CourseID == courseID {
			n++
		}
	}
	return n, nil
}

// Peek implements vectorstore.Store.
func (s *Store) Peek(_ context.Context, courseID string, n int) ([]vectorstore.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vectorstore.Chunk
	for _, id := range s.order {
		c := s.chunks[id]
		if c.CourseID != courseID {
			continue
		}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// HasCourse implements vectorstore.Store.
func (s *Store) HasCourse(ctx context.Context, courseID string) (bool, error) {
	n, err := s.Count(ctx, courseID)
	return n > 0, err
}

// DeleteCourse implements vectorstore.Store.
func (s *Store) DeleteCourse(_ context.Context, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if s.chunks[id].CourseID == courseID {
			delete(s.chunks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}
