// Package orchestrator runs the end-to-end chat answer pipeline: classify
// the query, retrieve course context when warranted, generate with the LLM,
// validate the output, and persist both sides of the exchange.
//
// The orchestrator owns every session side effect for a chat turn. It is
// also where internal failures become user-facing text: leaf providers
// return typed errors and never decide on fallbacks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aulalabs/aula/internal/observe"
	"github.com/aulalabs/aula/internal/resilience"
	"github.com/aulalabs/aula/internal/retrieval"
	"github.com/aulalabs/aula/internal/router"
	"github.com/aulalabs/aula/internal/store"
	"github.com/aulalabs/aula/pkg/provider/llm"
	"github.com/aulalabs/aula/pkg/types"
)

// Route labels reported in answers and metrics.
const (
	RouteGreeting           = "greeting"
	RouteGeneral            = "general"
	RouteGeneralBypassedRAG = "general_bypassed_rag"
	RouteCourseQuery        = "course_query"
	RouteFallback           = "fallback"
)

// Outcome classifies how an answer was produced, for metrics.
type Outcome string

const (
	// OutcomeOK is a clean first-attempt answer.
	OutcomeOK Outcome = "ok"

	// OutcomeGarbage means the garbage detector rejected the first attempt
	// and the general path produced the final answer.
	OutcomeGarbage Outcome = "garbage_detected"

	// OutcomeNoContext means retrieval found nothing (or the model declined
	// to answer from it) and the general path answered instead.
	OutcomeNoContext Outcome = "no_context"

	// OutcomeFailed means every generation attempt failed and the user got
	// an apology.
	OutcomeFailed Outcome = "failed"
)

// ErrEmptyQuery is returned for blank or whitespace-only queries, rejected
// before routing.
var ErrEmptyQuery = errors.New("query must not be empty")

const (
	// DefaultTimeout bounds one full Ask call, LLM included.
	DefaultTimeout = 60 * time.Second

	// historyLimit is how many prior messages feed the LLM context
	// (five exchanges).
	historyLimit = 10

	// apologyText is returned when generation fails outright.
	apologyText = "I'm sorry, something went wrong on my end. Please try asking again."

	// timeoutText is returned when the answer deadline passes.
	timeoutText = "I'm sorry, that is taking longer than expected. Please try again shortly."
)

// Source describes where an answer's content came from.
type Source struct {
	// Type is "chunk" for retrieved course material or "fallback" when the
	// general path substituted for RAG.
	Type string `json:"type"`

	// ChunkID and Title identify the retrieved chunk; empty for fallback.
	ChunkID string `json:"chunk_id,omitempty"`
	Title   string `json:"title,omitempty"`

	// Similarity is the retrieval score in [0, 1]; zero for fallback.
	Similarity float64 `json:"similarity,omitempty"`
}

// Answer is the result of one Ask call. The generation accounting fields
// stay unexported: they feed message persistence, not the API response.
type Answer struct {
	Text       string   `json:"answer"`
	Route      string   `json:"route"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources"`
	SessionID  string   `json:"session_id"`

	tokensUsed int
	modelUsed  string
}

// AskRequest carries one chat question.
type AskRequest struct {
	Query     string
	UserID    string
	SessionID string
	Language  string
	CourseID  string

	// MessageType marks how the turn entered the system; empty means chat.
	// Voice sessions set it so transcripts are distinguishable in the store.
	MessageType store.MessageType

	// Agent names the surface subcomponent that asked, e.g. "tutor" or
	// "teacher" on the voice surface. When set it is persisted in the
	// assistant message's metadata.
	Agent string
}

// Orchestrator is the chat pipeline. Construct with [New]; safe for
// concurrent use.
type Orchestrator struct {
	router    *router.Router
	retriever *retrieval.Retriever
	llms      *resilience.Group[llm.Provider]
	convs     store.Conversations
	metrics   *observe.Metrics
	logger    *slog.Logger
	timeout   time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout overrides the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics overrides the default metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New builds an Orchestrator. All four collaborators are required; the
// retriever may be nil only when no course content is served, in which case
// every course route degrades to the general path.
func New(rt *router.Router, retriever *retrieval.Retriever, llms *resilience.Group[llm.Provider], convs store.Conversations, opts ...Option) (*Orchestrator, error) {
	if rt == nil {
		return nil, fmt.Errorf("orchestrator: router must not be nil")
	}
	if llms == nil {
		return nil, fmt.Errorf("orchestrator: llm group must not be nil")
	}
	if convs == nil {
		return nil, fmt.Errorf("orchestrator: conversation store must not be nil")
	}
	o := &Orchestrator{
		router:    rt,
		retriever: retriever,
		llms:      llms,
		convs:     convs,
		metrics:   observe.DefaultMetrics(),
		logger:    slog.Default(),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Ask answers one chat question. Exactly two messages are appended to the
// session per successful call: the user's and the assistant's, in that
// order, on every path including fallbacks.
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Answer{}, ErrEmptyQuery
	}
	if req.UserID == "" {
		return Answer{}, fmt.Errorf("orchestrator: userID must not be empty")
	}
	if req.MessageType == "" {
		req.MessageType = store.MessageChat
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := o.convs.GetOrCreateSession(ctx, req.UserID, req.CourseID)
		if err != nil {
			return Answer{}, fmt.Errorf("orchestrator: session: %w", err)
		}
		sessionID = sess.ID
	}

	history, err := o.convs.History(ctx, sessionID, historyLimit)
	if err != nil {
		// An answer without memory beats no answer.
		o.logger.Warn("history unavailable, answering without it", "session_id", sessionID, "error", err)
		history = nil
	}

	// The user message goes in before the LLM call so persistence order
	// matches conversation order even if generation fails.
	if _, err := o.convs.AppendMessage(ctx, store.Message{
		SessionID: sessionID,
		UserID:    req.UserID,
		Role:      "user",
		Content:   query,
		Type:      req.MessageType,
	}); err != nil {
		return Answer{}, fmt.Errorf("orchestrator: persist user message: %w", err)
	}

	decision := o.router.Classify(ctx, query)
	answer, outcome := o.answerFor(ctx, decision, query, history, req)
	answer.Text = NormalizeForSpeech(answer.Text)
	answer.SessionID = sessionID
	if answer.Sources == nil {
		answer.Sources = []Source{}
	}

	var metadata map[string]any
	if req.Agent != "" {
		metadata = map[string]any{"agent": req.Agent}
	}

	// Persist the assistant turn even when the request deadline has passed.
	persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer persistCancel()
	if _, err := o.convs.AppendMessage(persistCtx, store.Message{
		SessionID:  sessionID,
		UserID:     req.UserID,
		Role:       "assistant",
		Content:    answer.Text,
		Type:       req.MessageType,
		Route:      answer.Route,
		Metadata:   metadata,
		TokensUsed: answer.tokensUsed,
		ModelUsed:  answer.modelUsed,
	}); err != nil {
		return Answer{}, fmt.Errorf("orchestrator: persist assistant message: %w", err)
	}

	o.metrics.RecordRoute(ctx, answer.Route)
	o.metrics.RecordAnswerOutcome(ctx, string(outcome))
	o.metrics.AnswerDuration.Record(ctx, time.Since(start).Seconds())
	return answer, nil
}

// answerFor walks the decision tree and produces the answer body.
func (o *Orchestrator) answerFor(ctx context.Context, decision types.RouterDecision, query string, history []types.Message, req AskRequest) (Answer, Outcome) {
	switch decision.Route {
	case types.RouteGreeting:
		return Answer{
			Text:       router.CannedGreeting(query, req.Language),
			Route:      RouteGreeting,
			Confidence: decision.Confidence,
		}, OutcomeOK

	case types.RouteGeneral:
		return o.generalAnswer(ctx, query, history, decision.Confidence, RouteGeneral, nil)

	case types.RouteCourse:
		return o.courseAnswer(ctx, query, history, decision, req)

	default:
		o.logger.Error("unknown route", "route", decision.Route)
		return o.generalAnswer(ctx, query, history, decision.Confidence, RouteGeneral, nil)
	}
}

// courseAnswer runs the RAG path, with the off-topic bypass and the
// garbage/no-context fallbacks. A missing course ID does not disable RAG:
// retrieval then searches across every ingested course.
func (o *Orchestrator) courseAnswer(ctx context.Context, query string, history []types.Message, decision types.RouterDecision, req AskRequest) (Answer, Outcome) {
	if o.retriever == nil {
		return o.generalAnswer(ctx, query, history, decision.Confidence, RouteGeneral, nil)
	}
	if !router.IsCourseSpecific(query) {
		return o.generalAnswer(ctx, query, history, decision.Confidence, RouteGeneralBypassedRAG, nil)
	}

	fallbackSources := []Source{{Type: "fallback"}}

	chunks, err := o.retriever.Retrieve(ctx, query, req.CourseID, 0)
	if err != nil {
		o.logger.Warn("retrieval failed, answering from general knowledge", "course_id", req.CourseID, "error", err)
		answer, outcome := o.generalAnswer(ctx, query, history, decision.Confidence, RouteCourseQuery, fallbackSources)
		return answer, degrade(outcome, OutcomeNoContext)
	}
	if len(chunks) == 0 {
		answer, outcome := o.generalAnswer(ctx, query, history, decision.Confidence, RouteCourseQuery, fallbackSources)
		return answer, degrade(outcome, OutcomeNoContext)
	}

	prompt, err := composeRAGPrompt(req.CourseID, history, chunks, query)
	if err != nil {
		o.logger.Error("prompt assembly failed", "error", err)
		answer, outcome := o.generalAnswer(ctx, query, history, decision.Confidence, RouteCourseQuery, fallbackSources)
		return answer, degrade(outcome, OutcomeNoContext)
	}

	resp, err := o.generate(ctx, "", nil, prompt)
	if err != nil {
		return o.apology(err, decision.Confidence), OutcomeFailed
	}
	text := resp.Content

	if IsGarbage(text) {
		o.logger.Warn("garbage response detected, regenerating on general path", "course_id", req.CourseID)
		answer, outcome := o.generalAnswer(ctx, query, history, decision.Confidence, RouteCourseQuery, fallbackSources)
		return answer, degrade(outcome, OutcomeGarbage)
	}
	if containsNoAnswer(text) {
		answer, outcome := o.generalAnswer(ctx, query, history, decision.Confidence, RouteCourseQuery, fallbackSources)
		return answer, degrade(outcome, OutcomeNoContext)
	}

	sources := make([]Source, len(chunks))
	for i, sc := range chunks {
		sources[i] = Source{Type: "chunk", ChunkID: sc.ID, Title: sc.Title, Similarity: sc.Similarity}
	}
	return Answer{
		Text:       text,
		Route:      RouteCourseQuery,
		Confidence: decision.Confidence,
		Sources:    sources,
		tokensUsed: resp.Usage.TotalTokens,
		modelUsed:  resp.Model,
	}, OutcomeOK
}

// generalAnswer generates from world knowledge under the given route label.
func (o *Orchestrator) generalAnswer(ctx context.Context, query string, history []types.Message, confidence float64, route string, sources []Source) (Answer, Outcome) {
	resp, err := o.generate(ctx, generalSystemPrompt, history, query)
	if err != nil {
		return o.apology(err, confidence), OutcomeFailed
	}
	return Answer{
		Text:       resp.Content,
		Route:      route,
		Confidence: confidence,
		Sources:    sources,
		tokensUsed: resp.Usage.TotalTokens,
		modelUsed:  resp.Model,
	}, OutcomeOK
}

// generate runs one completion through the provider group and returns the
// full response so callers can account tokens and the serving model.
func (o *Orchestrator) generate(ctx context.Context, system string, history []types.Message, userContent string) (*llm.CompletionResponse, error) {
	msgs := append(slices.Clone(history), types.Message{Role: "user", Content: userContent})
	req := llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: system,
		Temperature:  0.7,
	}

	resp, err := resilience.DoWithResult(o.llms, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		// The group flattens causes; surface the deadline directly so the
		// caller can word the apology accordingly.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("orchestrator: empty completion")
	}
	return resp, nil
}

// apology turns a generation failure into user-facing text.
func (o *Orchestrator) apology(err error, confidence float64) Answer {
	text := apologyText
	if errors.Is(err, context.DeadlineExceeded) {
		text = timeoutText
	}
	o.logger.Error("answer generation failed", "error", err)
	return Answer{
		Text:       text,
		Route:      RouteFallback,
		Confidence: confidence,
	}
}

// degrade keeps a failure outcome but otherwise reports why the fallback
// path ran.
func degrade(got, want Outcome) Outcome {
	if got == OutcomeFailed {
		return got
	}
	return want
}
