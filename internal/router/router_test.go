package router

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/aulalabs/aula/pkg/provider/embeddings/mock"
	"github.com/aulalabs/aula/pkg/types"
)

// axisEmbedder maps each reference-bank utterance onto its route's axis, so
// a query vector selects its route purely by cosine similarity.
func axisEmbedder(queryVecs map[string][]float32) *mock.Provider {
	axis := map[types.Route][]float32{
		types.RouteGreeting: {1, 0, 0},
		types.RouteGeneral:  {0, 1, 0},
		types.RouteCourse:   {0, 0, 1},
	}
	return &mock.Provider{
		DimensionsValue: 3,
		EmbedFunc: func(text string) []float32 {
			if vec, ok := queryVecs[text]; ok {
				return vec
			}
			for route, utterances := range referenceBank {
				for _, u := range utterances {
					if u == text {
						return axis[route]
					}
				}
			}
			return []float32{0, 0, 0}
		},
	}
}

func TestClassifyEmbeddingRoutes(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		vec       []float32
		wantRoute types.Route
		wantRAG   bool
	}{
		{"greeting", "hello friend", []float32{1, 0, 0}, types.RouteGreeting, false},
		{"general", "capital of France", []float32{0, 1, 0}, types.RouteGeneral, false},
		{"course", "explain gradient descent", []float32{0, 0, 1}, types.RouteCourse, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(axisEmbedder(map[string][]float32{tt.query: tt.vec}))
			got := r.Classify(context.Background(), tt.query)
			if got.Route != tt.wantRoute {
				t.Fatalf("Route = %q, want %q", got.Route, tt.wantRoute)
			}
			if got.ShouldUseRAG != tt.wantRAG {
				t.Fatalf("ShouldUseRAG = %v, want %v", got.ShouldUseRAG, tt.wantRAG)
			}
			if got.Confidence < 0.99 {
				t.Fatalf("Confidence = %v, want ~1", got.Confidence)
			}
		})
	}
}

func TestClassifyLowConfidenceDefaultsToCourse(t *testing.T) {
	// A query vector nearly orthogonal to every axis keeps all similarities
	// below the threshold.
	query := "mumble mumble"
	r := New(axisEmbedder(map[string][]float32{query: {0.5, 0.5, 0.5}}), WithThreshold(0.9))

	got := r.Classify(context.Background(), query)
	if got.Route != types.RouteCourse || !got.ShouldUseRAG {
		t.Fatalf("low confidence should default to course with RAG, got %+v", got)
	}
	if got.Confidence >= 0.9 {
		t.Fatalf("Confidence = %v, want < threshold", got.Confidence)
	}
}

func TestClassifyGreetingBypassOnLongQuery(t *testing.T) {
	query := "hello can you explain how neural networks actually learn"
	// The embedding says greeting, but the token count rules it out.
	r := New(axisEmbedder(map[string][]float32{query: {1, 0, 0}}))

	got := r.Classify(context.Background(), query)
	if got.Route == types.RouteGreeting {
		t.Fatalf("queries longer than %d tokens must not be greetings", greetingTokenLimit)
	}
}

func TestClassifyFallsBackToKeywordsOnEmbedError(t *testing.T) {
	p := &mock.Provider{EmbedBatchErr: errors.New("embedding service down")}
	r := New(p)

	got := r.Classify(context.Background(), "explain recursion please")
	if got.Route != types.RouteCourse || !got.ShouldUseRAG {
		t.Fatalf("keyword fallback should route course, got %+v", got)
	}
}

func TestClassifyKeywordRules(t *testing.T) {
	r := New(nil)
	tests := []struct {
		query string
		want  types.Route
	}{
		{"hi", types.RouteGreeting},
		{"helo there", types.RouteGreeting}, // one-edit typo
		{"what's the weather", types.RouteGeneral},
		{"explain photosynthesis", types.RouteCourse},
		{"", types.RouteGreeting},
		{"random unmatched babble here", types.RouteCourse},
	}
	for _, tt := range tests {
		got := r.Classify(context.Background(), tt.query)
		if got.Route != tt.want {
			t.Errorf("Classify(%q).Route = %q, want %q", tt.query, got.Route, tt.want)
		}
	}
}

func TestIsCourseSpecific(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"What is the weather today?", false},
		{"tell me a joke", false},
		{"hi", false},
		{"", false},
		{"What is machine learning?", true},
		{"explain backpropagation in module two", true},
	}
	for _, tt := range tests {
		if got := IsCourseSpecific(tt.query); got != tt.want {
			t.Errorf("IsCourseSpecific(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestCannedGreeting(t *testing.T) {
	isVariantOf := func(got, locale string) bool {
		for _, v := range greetingsByLocale[locale] {
			if got == v {
				return true
			}
		}
		return false
	}

	if got := CannedGreeting("hello", "en-IN"); !isVariantOf(got, "en") {
		t.Errorf("en-IN greeting = %q, want an English variant", got)
	}
	if got := CannedGreeting("hello", "hi"); !isVariantOf(got, "hi") {
		t.Errorf("hi greeting = %q, want a Hindi variant", got)
	}
	if got := CannedGreeting("hello", "xx"); !isVariantOf(got, "en") {
		t.Errorf("unknown locale = %q, want English fallback", got)
	}
}

func TestCannedGreetingVariantSelection(t *testing.T) {
	// Same greeting, same reply.
	if a, b := CannedGreeting("good morning", "en"), CannedGreeting("good morning", "en"); a != b {
		t.Errorf("same query gave different replies: %q vs %q", a, b)
	}
	// Case and surrounding whitespace do not change the pick.
	if a, b := CannedGreeting("Hey!", "en"), CannedGreeting("  hey!  ", "en"); a != b {
		t.Errorf("normalization changed the pick: %q vs %q", a, b)
	}

	// Whatever the query, the reply is one of the locale's variants.
	for _, q := range []string{"hi", "hello", "hey", "yo", "good morning", "good evening", "hola", "howdy", ""} {
		got := CannedGreeting(q, "en")
		found := false
		for _, v := range greetingsByLocale["en"] {
			if got == v {
				found = true
			}
		}
		if !found {
			t.Errorf("CannedGreeting(%q) = %q, not an English variant", q, got)
		}
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors = %v, want 1", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %v, want 0", got)
	}
	if got := cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
	if got := cosine(nil, nil); got != 0 {
		t.Errorf("empty vectors = %v, want 0", got)
	}
}
