package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/aulalabs/aula/internal/ingest"
	"github.com/aulalabs/aula/internal/jobs"
	"github.com/aulalabs/aula/internal/observe"
	"github.com/aulalabs/aula/internal/orchestrator"
	"github.com/aulalabs/aula/internal/store"
	"github.com/aulalabs/aula/internal/voice"
)

// defaultTranscriptLimit bounds a transcript response when the client does
// not pass ?limit.
const defaultTranscriptLimit = 50

// TranscriptStore is the read surface the HTTP layer needs beyond the
// orchestrator. *store.Store satisfies it.
type TranscriptStore interface {
	Messages(ctx context.Context, sessionID string, limit int) ([]store.Message, error)
	ListCourses(ctx context.Context) ([]store.Course, error)
}

// Server is the HTTP surface: chat, transcripts, course upload, job state,
// and the voice WebSocket.
type Server struct {
	orch        *orchestrator.Orchestrator
	transcripts TranscriptStore
	broker      jobs.Broker
	voice       *voice.Controller
	metrics     *observe.Metrics
	logger      *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithVoice enables the /ws/voice endpoint.
func WithVoice(c *voice.Controller) ServerOption {
	return func(s *Server) { s.voice = c }
}

// WithServerLogger overrides the default logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerMetrics overrides the default metrics sink.
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds the HTTP surface over the given services.
func NewServer(orch *orchestrator.Orchestrator, transcripts TranscriptStore, broker jobs.Broker, opts ...ServerOption) *Server {
	s := &Server{
		orch:        orch,
		transcripts: transcripts,
		broker:      broker,
		metrics:     observe.DefaultMetrics(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with request metrics attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /sessions/{session_id}/messages", s.handleTranscript)
	mux.HandleFunc("GET /courses", s.handleListCourses)
	mux.HandleFunc("POST /courses/upload", s.handleUpload)
	mux.HandleFunc("GET /jobs/{task_id}", s.handleJobState)
	mux.HandleFunc("GET /ws/voice", s.handleVoice)
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Language  string `json:"language,omitempty"`
	CourseID  string `json:"course_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	answer, err := s.orch.Ask(r.Context(), orchestrator.AskRequest{
		Query:     req.Query,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Language:  req.Language,
		CourseID:  req.CourseID,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "query must not be empty")
			return
		}
		s.logger.Error("chat request failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "answer generation failed")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

type transcriptMessage struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Route     string    `json:"route,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	limit := defaultTranscriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := s.transcripts.Messages(r.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("transcript read failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "transcript unavailable")
		return
	}

	out := make([]transcriptMessage, len(msgs))
	for i, m := range msgs {
		out[i] = transcriptMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Type:      string(m.Type),
			Route:     m.Route,
			CreatedAt: m.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   out,
	})
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.transcripts.ListCourses(r.Context())
	if err != nil {
		s.logger.Error("course list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "course list unavailable")
		return
	}
	type courseEntry struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
	}
	out := make([]courseEntry, len(courses))
	for i, c := range courses {
		out[i] = courseEntry{ID: c.ID, Title: c.Title, Description: c.Description}
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": out})
}

type uploadRequest struct {
	Files       []ingest.File `json:"files"`
	CourseID    string        `json:"course_id,omitempty"`
	CourseTitle string        `json:"course_title,omitempty"`
	Country     string        `json:"country,omitempty"`
	Priority    int           `json:"priority,omitempty"`
	Force       bool          `json:"force,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files must not be empty")
		return
	}

	payload, err := json.Marshal(ingest.Request{
		Files:       req.Files,
		CourseID:    req.CourseID,
		CourseTitle: req.CourseTitle,
		Country:     req.Country,
		Force:       req.Force,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode job payload")
		return
	}

	jobID := uuid.NewString()
	taskID, err := s.broker.Submit(r.Context(), jobs.Task{
		JobID:    jobID,
		Queue:    jobs.QueuePDFProcessing,
		Type:     ingest.TaskTypePDF,
		Priority: req.Priority,
		Payload:  payload,
	})
	if err != nil {
		s.logger.Error("upload submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "job submission failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  jobID,
		"task_id": taskID,
		"state":   string(jobs.StatePending),
	})
}

func (s *Server) handleJobState(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	st, err := s.broker.State(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, jobs.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("job state read failed", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "job state unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"status":  st,
	})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		writeError(w, http.StatusNotImplemented, "voice is not configured")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	courseID := r.URL.Query().Get("course_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	if err := s.voice.HandleConn(r.Context(), conn, userID, courseID); err != nil {
		s.logger.Info("voice session ended", "user_id", userID, "error", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encoding failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
