// Package ingest turns uploaded course documents into a course outline plus
// vector-store content chunks. The pipeline runs inside a queue worker:
// decode, extract, split, embed and upsert, generate the course outline with
// the standard LLM, then verify the chunks landed before reporting success.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/aulalabs/aula/internal/observe"
	"github.com/aulalabs/aula/internal/store"
	"github.com/aulalabs/aula/internal/vectorstore"
	"github.com/aulalabs/aula/pkg/provider/embeddings"
	"github.com/aulalabs/aula/pkg/provider/llm"
)

const (
	// chunkTokens is the target chunk size, with chunkOverlap tokens shared
	// between neighbours and chunkTokenCap as the hard upper bound.
	chunkTokens   = 500
	chunkOverlap  = 100
	chunkTokenCap = 800

	// upsertBatch bounds one embed-and-upsert round trip.
	upsertBatch = 200
)

// ErrDuplicateCourse is returned when the course already has content and the
// request did not set Force.
var ErrDuplicateCourse = errors.New("course already ingested")

// ErrUnsupportedFormat is returned for file types the extractor cannot read.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ProgressFunc receives stage progress in [0, 100] with a human message.
type ProgressFunc func(progress int, message string)

// File is one uploaded document. Data is base64-encoded.
type File struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// Request is the ingestion job payload.
type Request struct {
	Files       []File `json:"files"`
	CourseID    string `json:"course_id,omitempty"`
	CourseTitle string `json:"course_title,omitempty"`
	Country     string `json:"country,omitempty"`

	// Force replaces an already-ingested course instead of refusing.
	Force bool `json:"force,omitempty"`
}

// Result is the ingestion job outcome.
type Result struct {
	CourseID    string `json:"course_id"`
	ModuleCount int    `json:"module_count"`
	TopicCount  int    `json:"topic_count"`
	ChunkCount  int    `json:"chunk_count"`
}

// CourseStore is the relational persistence the pipeline needs. *store.Store
// satisfies it.
type CourseStore interface {
	CreateCourseTree(ctx context.Context, tree store.CourseTree) (store.CourseTree, error)
	DeleteCourse(ctx context.Context, courseID string) error
}

// Pipeline executes one ingestion end to end. Safe for concurrent use.
type Pipeline struct {
	llm      llm.Provider
	embedder embeddings.Provider
	chunks   vectorstore.Store
	indexer  *vectorstore.Indexer
	courses  CourseStore
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics overrides the default metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds a Pipeline. provider should be the standard-role model; it is
// used once per ingestion for outline generation.
func New(provider llm.Provider, embedder embeddings.Provider, chunks vectorstore.Store, courses CourseStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		llm:      provider,
		embedder: embedder,
		chunks:   chunks,
		indexer:  vectorstore.NewIndexer(chunks, embedder),
		courses:  courses,
		metrics:  observe.DefaultMetrics(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline. report may be nil. On failure the relational
// course record is rolled back; chunks already written stay behind and are
// reclaimed by a forced re-ingestion of the same course ID.
func (p *Pipeline) Run(ctx context.Context, req Request, report ProgressFunc) (Result, error) {
	if report == nil {
		report = func(int, string) {}
	}
	if len(req.Files) == 0 {
		return Result{}, fmt.Errorf("ingest: no files in request")
	}

	courseID := req.CourseID
	if courseID == "" {
		courseID = uuid.NewString()
	} else if err := p.checkDuplicate(ctx, courseID, req.Force); err != nil {
		return Result{}, err
	}

	report(5, "decoding files")
	docs, err := decodeFiles(req.Files)
	if err != nil {
		return Result{}, err
	}

	report(15, "extracting text")
	texts := make([]string, len(docs))
	for i, d := range docs {
		text, err := extractText(d.name, d.data)
		if err != nil {
			return Result{}, err
		}
		texts[i] = text
	}

	report(30, "splitting content")
	var chunks []vectorstore.Chunk
	for i, d := range docs {
		pieces := SplitTokens(texts[i], chunkTokens, chunkOverlap, chunkTokenCap)
		for n, piece := range pieces {
			title := d.name
			if len(pieces) > 1 {
				title = fmt.Sprintf("%s (part %d)", d.name, n+1)
			}
			chunks = append(chunks, vectorstore.Chunk{
				ID:         vectorstore.ChunkID(courseID, d.name, title, n),
				CourseID:   courseID,
				CourseName: req.CourseTitle,
				Module:     d.name,
				Title:      title,
				ChunkIndex: n,
				Source:     d.name,
				Type:       vectorstore.ChunkTypeCourseContent,
				Content:    piece,
			})
		}
	}
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("ingest: documents contain no extractable text")
	}

	written, err := p.embedAndUpsert(ctx, courseID, chunks, report)
	if err != nil {
		return Result{}, err
	}

	report(75, "generating course outline")
	outline, err := p.generateSkeleton(ctx, req, texts)
	if err != nil {
		return Result{}, err
	}

	report(85, "saving course")
	tree, topicCount, err := p.persistOutline(ctx, courseID, outline)
	if err != nil {
		return Result{}, err
	}

	report(95, "verifying")
	ok, err := p.chunks.HasCourse(ctx, courseID)
	if err == nil && !ok {
		err = fmt.Errorf("ingest: course %s has no content chunks after upsert", courseID)
	}
	if err != nil {
		p.rollback(ctx, courseID)
		return Result{}, err
	}

	p.logger.Info("course ingested",
		"course_id", courseID, "files", len(docs),
		"chunks", written, "modules", len(tree.Modules), "topics", topicCount)
	return Result{
		CourseID:    courseID,
		ModuleCount: len(tree.Modules),
		TopicCount:  topicCount,
		ChunkCount:  written,
	}, nil
}

// checkDuplicate enforces the one-ingestion-per-course rule. With force set,
// existing chunks and relational rows are cleared so the new content replaces
// them rather than accumulating alongside.
func (p *Pipeline) checkDuplicate(ctx context.Context, courseID string, force bool) error {
	has, err := p.chunks.HasCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("ingest: duplicate check: %w", err)
	}
	if !has {
		return nil
	}
	if !force {
		return fmt.Errorf("ingest: course %s: %w", courseID, ErrDuplicateCourse)
	}
	if err := p.chunks.DeleteCourse(ctx, courseID); err != nil {
		return fmt.Errorf("ingest: clear chunks for forced re-ingestion: %w", err)
	}
	if err := p.courses.DeleteCourse(ctx, courseID); err != nil && !errors.Is(err, store.ErrCourseNotFound) {
		return fmt.Errorf("ingest: clear course for forced re-ingestion: %w", err)
	}
	return nil
}

// embedAndUpsert pushes chunks to the vector store in bounded batches,
// advancing progress from 30 to 70.
func (p *Pipeline) embedAndUpsert(ctx context.Context, courseID string, chunks []vectorstore.Chunk, report ProgressFunc) (int, error) {
	written := 0
	for start := 0; start < len(chunks); start += upsertBatch {
		end := start + upsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("ingest: embed batch: %w", err)
		}
		if len(vectors) != len(batch) {
			return written, fmt.Errorf("ingest: expected %d embeddings, got %d", len(batch), len(vectors))
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		n, err := p.chunks.Upsert(ctx, batch)
		written += n
		if err != nil {
			return written, fmt.Errorf("ingest: upsert batch: %w", err)
		}

		report(30+40*end/len(chunks), "embedding content")
	}
	p.metrics.ChunksIngested.Add(ctx, int64(written),
		metric.WithAttributes(observe.Attr("course_id", courseID)))
	return written, nil
}

// persistOutline writes the relational outline and indexes each topic's
// generated content so course queries can retrieve it by topic title.
func (p *Pipeline) persistOutline(ctx context.Context, courseID string, outline skeleton) (store.CourseTree, int, error) {
	tree := store.CourseTree{
		ID:          courseID,
		Title:       outline.Title,
		Description: outline.Description,
	}
	topicCount := 0
	for _, m := range outline.Modules {
		mod := store.ModuleTree{Title: moduleTitle(m)}
		for _, t := range m.Topics {
			mod.Lessons = append(mod.Lessons, t.Title)
			topicCount++
		}
		tree.Modules = append(tree.Modules, mod)
	}

	tree, err := p.courses.CreateCourseTree(ctx, tree)
	if err != nil {
		return store.CourseTree{}, 0, fmt.Errorf("ingest: save course: %w", err)
	}

	for _, m := range outline.Modules {
		meta := vectorstore.ChunkMeta{
			CourseName: outline.Title,
			Module:     m.Title,
			Week:       m.Week,
			Source:     "course_outline",
		}
		for _, t := range m.Topics {
			if t.Content == "" {
				continue
			}
			if _, err := p.indexer.AddCourseContent(ctx, courseID, t.Title, t.Content, meta); err != nil {
				p.rollback(ctx, courseID)
				return store.CourseTree{}, 0, fmt.Errorf("ingest: index topic %q: %w", t.Title, err)
			}
		}
	}
	return tree, topicCount, nil
}

// moduleTitle folds the week index into the stored title.
func moduleTitle(m skeletonModule) string {
	if m.Week > 0 {
		return fmt.Sprintf("Week %d: %s", m.Week, m.Title)
	}
	return m.Title
}

// rollback removes the relational course record so a failed ingestion leaves
// no partially visible course. Chunk cleanup is deferred to the duplicate
// check of the next ingestion.
func (p *Pipeline) rollback(ctx context.Context, courseID string) {
	ctx = context.WithoutCancel(ctx)
	if err := p.courses.DeleteCourse(ctx, courseID); err != nil && !errors.Is(err, store.ErrCourseNotFound) {
		p.logger.Warn("rollback failed", "course_id", courseID, "error", err)
	}
}
