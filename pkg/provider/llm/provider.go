// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o or a
// local Ollama instance) and exposes a uniform interface for the Aula
// orchestrator to perform completions without coupling to any specific SDK.
//
// Two model roles exist in the system: a fast low-latency streaming model used
// for interactive chat generation, and a standard higher-quality model used
// for orchestration tooling such as course-skeleton generation. A [Selector]
// maps roles to concrete providers; the orchestrator never names a model
// directly.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"
	"fmt"

	"github.com/aulalabs/aula/pkg/types"
)

// Role selects which model a call should use.
type Role string

const (
	// RoleFast is the low-latency streaming model used for interactive
	// answer generation.
	RoleFast Role = "fast"

	// RoleStandard is the default higher-quality model used for
	// orchestration and structured-output tooling.
	RoleStandard Role = "standard"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// A zero-value request is invalid; at minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history.
	SystemPrompt string
}

// Chunk is a single token or fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty if the
	// chunk carries only a FinishReason.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. Common values are "stop", "length", "error", and "" (non-final).
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Model is the backend model that produced the reply, as reported by
	// the provider. Persisted alongside assistant messages.
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly: when ctx is
// cancelled the method must return (or close its channel) as quickly as
// possible.
//
// Providers raise typed errors (see [Classify]) and never decide on fallback
// paths themselves; the orchestrator owns that decision.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason "error"; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens the given message list would
	// consume in the model's context window. The result need not be exact but
	// should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports.
	Capabilities() types.ModelCapabilities
}

// Selector maps a [Role] to a concrete [Provider]. The orchestrator holds one
// Selector and resolves the role per call site.
type Selector struct {
	fast     Provider
	standard Provider
}

// NewSelector builds a Selector from the fast and standard providers.
// standard must be non-nil; if fast is nil the standard provider serves both
// roles.
func NewSelector(fast, standard Provider) (*Selector, error) {
	if standard == nil {
		return nil, fmt.Errorf("llm: standard provider must not be nil")
	}
	if fast == nil {
		fast = standard
	}
	return &Selector{fast: fast, standard: standard}, nil
}

// For returns the provider registered for role. Unknown roles resolve to the
// standard provider.
func (s *Selector) For(role Role) Provider {
	if role == RoleFast {
		return s.fast
	}
	return s.standard
}
