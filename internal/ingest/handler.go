package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aulalabs/aula/internal/jobs"
)

// TaskTypePDF is the queue task type this handler serves.
const TaskTypePDF = "pdf_processing"

// Handler adapts the pipeline to the worker pool.
type Handler struct {
	pipe *Pipeline
}

var _ jobs.Handler = (*Handler)(nil)

// NewHandler wraps the pipeline as a queue task handler.
func NewHandler(p *Pipeline) *Handler {
	return &Handler{pipe: p}
}

// Type implements jobs.Handler.
func (h *Handler) Type() string { return TaskTypePDF }

// Run implements jobs.Handler.
func (h *Handler) Run(ctx context.Context, t jobs.Task, report jobs.ProgressFunc) (json.RawMessage, error) {
	var req Request
	if err := json.Unmarshal(t.Payload, &req); err != nil {
		return nil, fmt.Errorf("ingest: decode payload: %w", err)
	}
	res, err := h.pipe.Run(ctx, req, ProgressFunc(report))
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("ingest: encode result: %w", err)
	}
	return out, nil
}
