package router

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/aulalabs/aula/pkg/types"
)

// maxEditDistance is how far a token may drift from a keyword and still
// match. One edit absorbs the common typo ("helo", "wether") without letting
// unrelated words through.
const maxEditDistance = 1

var greetingWords = []string{
	"hi", "hii", "hello", "hey", "yo", "namaste", "hola",
	"morning", "evening", "afternoon", "thanks", "thank", "bye", "goodbye",
}

// generalWords mark questions answerable from world knowledge with no
// course context.
var generalWords = []string{
	"weather", "news", "joke", "movie", "song", "cricket", "football",
	"recipe", "time", "date", "capital", "president", "celebrity",
}

// courseWords mark content requests that should trigger retrieval.
var courseWords = []string{
	"explain", "define", "describe", "summarize", "course", "module",
	"lesson", "chapter", "topic", "syllabus", "assignment", "quiz",
	"exam", "concept", "example", "homework", "notes",
}

// classifyByKeywords is the deterministic fallback classifier. Confidence is
// fixed at 1.0 on a keyword hit and 0.5 on the default.
func classifyByKeywords(tokens []string) types.RouterDecision {
	if len(tokens) == 0 {
		return types.RouterDecision{Route: types.RouteGreeting, Confidence: 1.0}
	}

	if len(tokens) <= greetingTokenLimit && matchesAny(tokens, greetingWords) {
		return types.RouterDecision{Route: types.RouteGreeting, Confidence: 1.0}
	}
	if matchesAny(tokens, generalWords) {
		return types.RouterDecision{Route: types.RouteGeneral, Confidence: 1.0}
	}
	if matchesAny(tokens, courseWords) {
		return types.RouterDecision{Route: types.RouteCourse, Confidence: 1.0, ShouldUseRAG: true}
	}

	// Unmatched queries default to course: retrieval either helps or comes
	// back empty, and the orchestrator falls back to general from there.
	return types.RouterDecision{Route: types.RouteCourse, Confidence: 0.5, ShouldUseRAG: true}
}

// matchesAny reports whether any token is within maxEditDistance of any
// keyword.
func matchesAny(tokens, words []string) bool {
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,!?;:'\"")
		if tok == "" {
			continue
		}
		for _, word := range words {
			if tok == word {
				return true
			}
			// Fuzzy match only when lengths are close; Levenshtein on very
			// short tokens matches too eagerly.
			if len(tok) >= 4 && len(word) >= 4 && matchr.Levenshtein(tok, word) <= maxEditDistance {
				return true
			}
		}
	}
	return false
}

// offTopicWords flag queries that must not be answered from course content
// even when a course filter is present.
var offTopicWords = []string{
	"weather", "news", "joke", "movie", "song", "cricket", "football",
	"recipe", "restaurant", "celebrity", "horoscope", "lottery", "stock",
	"politics",
}

// IsCourseSpecific reports whether the query plausibly concerns course
// material. The orchestrator consults it before applying a course filter to
// retrieval: a clearly off-topic question bypasses RAG entirely.
func IsCourseSpecific(query string) bool {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return false
	}
	if matchesAny(tokens, offTopicWords) {
		return false
	}
	if len(tokens) <= greetingTokenLimit && matchesAny(tokens, greetingWords) {
		return false
	}
	return true
}
