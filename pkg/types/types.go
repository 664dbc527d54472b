// Package types defines the shared value types used across all Aula packages.
//
// These types form the lingua franca between providers, the retrieval layer,
// the chat orchestrator, and the voice controller. Each package defines its own
// domain types; only cross-cutting data structures live here to avoid circular
// imports.
package types

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Route is the semantic router's decision for an incoming query.
type Route string

const (
	// RouteGreeting is a social opener with no content request.
	RouteGreeting Route = "greeting"

	// RouteGeneral is a question answerable from world knowledge.
	RouteGeneral Route = "general"

	// RouteCourse is a question about course material and triggers retrieval.
	RouteCourse Route = "course"
)

// RouterDecision is the semantic router's classification of one query.
type RouterDecision struct {
	// Route is the selected route.
	Route Route

	// Confidence is the classifier's confidence in [0, 1].
	Confidence float64

	// ShouldUseRAG reports whether the retrieval pipeline should run.
	ShouldUseRAG bool
}

// ConversationHistory is an ordered sequence of prior turns, oldest first,
// used as immutable input to both the LLM client and the retriever.
// Length is at most 10 messages (5 exchanges).
type ConversationHistory []Message

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
