// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or the
// OpenAI speech endpoint) and presents a uniform streaming interface. The
// primary entry point is SynthesizeStream, which accepts a channel of text
// fragments and returns a channel of raw PCM audio bytes as they become
// available — enabling low-latency pipelining between the answer pipeline
// and the voice connection.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice identifies a synthesis voice at a specific provider.
type Voice struct {
	// ID is the provider-assigned voice identifier.
	ID string

	// Name is a human-readable label for logs and configuration.
	Name string

	// Provider names the backing service ("elevenlabs", "openai").
	Provider string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (one per active voice session).
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM16 audio byte slices as they are
	// synthesised. This design lets the caller pipe sentence fragments into
	// synthesis without waiting for the full answer to be available.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. Cancelling ctx is
	// the barge-in path: implementations must stop producing audio promptly
	// after cancellation. The caller must drain the audio channel to avoid
	// blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis are signalled by closing the audio channel early;
	// callers should check ctx.Err() to distinguish cancellation from
	// provider failure.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// Name returns a short identifier for the backend, used in logs and
	// fallback-chain diagnostics.
	Name() string
}
