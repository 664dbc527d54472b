package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// upsertBatchSize bounds how many chunks are written per database round trip.
const upsertBatchSize = 200

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// ddlCourseChunks returns the chunks DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlCourseChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS course_chunks (
    id           TEXT         PRIMARY KEY,
    course_id    TEXT         NOT NULL,
    course_name  TEXT         NOT NULL DEFAULT '',
    module       TEXT         NOT NULL DEFAULT '',
    week         INT          NOT NULL DEFAULT 0,
    title        TEXT         NOT NULL DEFAULT '',
    chunk_index  INT          NOT NULL DEFAULT 0,
    source       TEXT         NOT NULL DEFAULT '',
    chunk_type   TEXT         NOT NULL DEFAULT 'course_content',
    content      TEXT         NOT NULL,
    embedding    vector(%d),
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_course_chunks_identity
    ON course_chunks (course_id, module, title, chunk_index);

CREATE INDEX IF NOT EXISTS idx_course_chunks_course_id
    ON course_chunks (course_id);

CREATE INDEX IF NOT EXISTS idx_course_chunks_embedding
    ON course_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// PostgresStore implements [Store] on PostgreSQL with pgvector. Obtain one
// via [NewPostgresStore]. All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the PostgreSQL database at dsn,
// registers pgvector types on every connection, and ensures the schema
// exists.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g., 1536 for text-embedding-3-small). Changing it after
// the first migration requires a manual schema change.
func NewPostgresStore(ctx context.Context, dsn string, embeddingDimensions int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlCourseChunks(embeddingDimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool without running migration.
// The pool must already have pgvector types registered.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Upsert implements [Store]. Chunks are written in batches of at most
// upsertBatchSize; IDs that already exist are left untouched. Oversized
// chunks are skipped silently and do not count toward the written total.
func (s *PostgresStore) Upsert(ctx context.Context, chunks []Chunk) (int, error) {
	const q = `
		INSERT INTO course_chunks (id, course_id, course_name, module, week,
		                           title, chunk_index, source, chunk_type,
		                           content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	written := 0
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))

		batch := &pgx.Batch{}
		queued := 0
		for _, c := range chunks[start:end] {
			if len(c.Content) > MaxChunkBytes {
				continue
			}
			chunkType := c.Type
			if chunkType == "" {
				chunkType = ChunkTypeCourseContent
			}
			batch.Queue(q, c.ID, c.CourseID, c.CourseName, c.Module, c.Week,
				c.Title, c.ChunkIndex, c.Source, chunkType,
				c.Content, pgvector.NewVector(c.Embedding))
			queued++
		}
		if queued == 0 {
			continue
		}

		br := s.pool.SendBatch(ctx, batch)
		for i := 0; i < queued; i++ {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return written, fmt.Errorf("vectorstore: upsert batch: %w", err)
			}
			written += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return written, fmt.Errorf("vectorstore: close batch: %w", err)
		}
	}
	return written, nil
}

// Query implements [Store]. Results are ordered by ascending cosine distance
// (most similar first); Similarity is reported as 1 - distance.
func (s *PostgresStore) Query(ctx context.Context, courseID string, embedding []float32, k int) ([]ScoredChunk, error) {
	const q = `
		SELECT id, course_id, course_name, module, week, title, chunk_index,
		       source, chunk_type, content, embedding,
		       embedding <=> $1 AS distance
		FROM   course_chunks
		WHERE  $2 = '' OR course_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), courseID, k)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScoredChunk, error) {
		var (
			sc       ScoredChunk
			vec      pgvector.Vector
			distance float64
		)
		if err := row.Scan(&sc.ID, &sc.CourseID, &sc.CourseName, &sc.Module, &sc.Week,
			&sc.Title, &sc.ChunkIndex, &sc.Source, &sc.Type, &sc.Content, &vec, &distance); err != nil {
			return ScoredChunk{}, err
		}
		sc.Embedding = vec.Slice()
		sc.Similarity = 1 - distance
		return sc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scan rows: %w", err)
	}
	if results == nil {
		results = []ScoredChunk{}
	}
	return results, nil
}

// Count implements [Store].
func (s *PostgresStore) Count(ctx context.Context, courseID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM course_chunks WHERE course_id = $1`, courseID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count: %w", err)
	}
	return n, nil
}

// Peek implements [Store].
func (s *PostgresStore) Peek(ctx context.Context, courseID string, n int) ([]Chunk, error) {
	const q = `
		SELECT id, course_id, course_name, module, week, title, chunk_index,
		       source, chunk_type, content, embedding
		FROM   course_chunks
		WHERE  course_id = $1
		ORDER  BY created_at
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, courseID, n)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: peek: %w", err)
	}

	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Chunk, error) {
		var (
			c   Chunk
			vec pgvector.Vector
		)
		if err := row.Scan(&c.ID, &c.CourseID, &c.CourseName, &c.Module, &c.Week,
			&c.Title, &c.ChunkIndex, &c.Source, &c.Type, &c.Content, &vec); err != nil {
			return Chunk{}, err
		}
		c.Embedding = vec.Slice()
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scan rows: %w", err)
	}
	return chunks, nil
}

// HasCourse implements [Store].
func (s *PostgresStore) HasCourse(ctx context.Context, courseID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM course_chunks WHERE course_id = $1)`, courseID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("vectorstore: has course: %w", err)
	}
	return exists, nil
}

// DeleteCourse implements [Store].
func (s *PostgresStore) DeleteCourse(ctx context.Context, courseID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM course_chunks WHERE course_id = $1`, courseID,
	); err != nil {
		return fmt.Errorf("vectorstore: delete course: %w", err)
	}
	return nil
}
