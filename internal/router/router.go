// Package router classifies incoming queries into one of three routes:
// greeting, general, or course. Classification first tries embedding
// similarity against a fixed bank of reference utterances; when the
// embedding call fails or confidence is low, a deterministic keyword rule
// set takes over.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/aulalabs/aula/pkg/provider/embeddings"
	"github.com/aulalabs/aula/pkg/types"
)

// DefaultThreshold is the minimum confidence required to accept the
// embedding classifier's verdict. Below it the router defaults to the
// course route, which is the safe choice: retrieval can always fall back.
const DefaultThreshold = 0.6

// greetingTokenLimit bounds greeting classification. Anything longer than
// five tokens is a real question, however it opens.
const greetingTokenLimit = 5

// Router classifies queries. Construct with [New]; safe for concurrent use.
type Router struct {
	embedder  embeddings.Provider
	threshold float64
	logger    *slog.Logger

	warmOnce sync.Once
	warmErr  error
	bank     map[types.Route][][]float32
}

// Option configures a Router.
type Option func(*Router)

// WithThreshold overrides the confidence threshold.
func WithThreshold(t float64) Option {
	return func(r *Router) { r.threshold = t }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New builds a Router. embedder may be nil, in which case classification is
// keyword-only.
func New(embedder embeddings.Provider, opts ...Option) *Router {
	r := &Router{
		embedder:  embedder,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Warm embeds the reference bank. Called lazily by Classify on first use;
// callers that want the cost up front (server startup) may call it directly.
func (r *Router) Warm(ctx context.Context) error {
	if r.embedder == nil {
		return nil
	}
	r.warmOnce.Do(func() {
		r.bank = make(map[types.Route][][]float32, len(referenceBank))
		for route, utterances := range referenceBank {
			vecs, err := r.embedder.EmbedBatch(ctx, utterances)
			if err != nil {
				r.warmErr = fmt.Errorf("router: embed reference bank for %s: %w", route, err)
				r.bank = nil
				return
			}
			r.bank[route] = vecs
		}
	})
	return r.warmErr
}

// Classify returns the route decision for query. It never returns an error
// for classifiable input; when the embedding path is unavailable the keyword
// rules decide.
func (r *Router) Classify(ctx context.Context, query string) types.RouterDecision {
	query = strings.TrimSpace(query)
	tokens := strings.Fields(strings.ToLower(query))

	if decision, ok := r.classifyByEmbedding(ctx, query, len(tokens)); ok {
		return decision
	}
	return classifyByKeywords(tokens)
}

// classifyByEmbedding runs the similarity classifier. The second return is
// false when the embedding path is unusable and the keyword rules should run.
func (r *Router) classifyByEmbedding(ctx context.Context, query string, tokenCount int) (types.RouterDecision, bool) {
	if r.embedder == nil {
		return types.RouterDecision{}, false
	}
	if err := r.Warm(ctx); err != nil {
		r.logger.Warn("router: reference bank unavailable, using keyword rules", "error", err)
		return types.RouterDecision{}, false
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("router: query embedding failed, using keyword rules", "error", err)
		return types.RouterDecision{}, false
	}

	best, bestScore := types.RouteCourse, -1.0
	for route, refs := range r.bank {
		if route == types.RouteGreeting && tokenCount > greetingTokenLimit {
			continue
		}
		for _, ref := range refs {
			if score := cosine(vec, ref); score > bestScore {
				best, bestScore = route, score
			}
		}
	}

	if bestScore < r.threshold {
		// Low confidence: prefer the course route so retrieval gets a
		// chance. The orchestrator falls back to general if it finds nothing.
		return types.RouterDecision{
			Route:        types.RouteCourse,
			Confidence:   bestScore,
			ShouldUseRAG: true,
		}, true
	}
	return types.RouterDecision{
		Route:        best,
		Confidence:   bestScore,
		ShouldUseRAG: best == types.RouteCourse,
	}, true
}

// cosine returns the cosine similarity of a and b, or 0 when either has no
// magnitude or the lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// referenceBank holds the utterances each route is anchored to. Kept small:
// every entry costs one embedding at warm-up and one comparison per query.
var referenceBank = map[types.Route][]string{
	types.RouteGreeting: {
		"hi",
		"hello there",
		"hey, how are you",
		"good morning",
		"good evening",
		"thanks, bye",
	},
	types.RouteGeneral: {
		"what is the capital of France",
		"tell me a joke",
		"what's the weather like today",
		"who won the cricket match yesterday",
		"what time is it",
		"recommend a good movie",
	},
	types.RouteCourse: {
		"explain the concept from this week's module",
		"what does the lesson say about neural networks",
		"summarize chapter three of the course",
		"help me understand this topic from the syllabus",
		"what is machine learning",
		"give me an example from the course material",
	},
}
