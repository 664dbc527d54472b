// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. The central abstraction is Session:
// once opened, a session accepts raw PCM16 audio chunks and emits a single
// ordered stream of [Event] values — speech-start signals for barge-in,
// low-latency partials, authoritative finals, and utterance-end markers.
//
// The session owns its event channel; consumers read from it and never hold a
// back-pointer into the session, which keeps the voice controller free of
// reference cycles.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// EventKind enumerates the event types a Session emits.
type EventKind int

const (
	// EventSpeechStarted signals the ASR detected the start of a user
	// utterance. The voice controller uses this for barge-in.
	EventSpeechStarted EventKind = iota

	// EventPartial carries an interim hypothesis. Partials are for internal
	// use only and must never be forwarded to the client UI.
	EventPartial

	// EventFinal carries an end-of-turn committed transcript.
	EventFinal

	// EventUtteranceEnd is the explicit end-of-utterance signal. It may
	// coincide with a final.
	EventUtteranceEnd

	// EventClosed signals the stream has terminated. It is the last event on
	// the channel before it is closed.
	EventClosed
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventSpeechStarted:
		return "speech_started"
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventUtteranceEnd:
		return "utterance_end"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one item on a Session's event stream.
type Event struct {
	// Kind is the event type.
	Kind EventKind

	// Text is the transcript content for partial and final events.
	Text string

	// Language is the BCP-47 tag detected or configured for the transcript.
	Language string

	// Confidence is the recognizer's confidence in [0, 1]. May be zero when
	// the provider does not report it.
	Confidence float64
}

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The voice surface sends
	// 16000 Hz mono PCM16.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-IN").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// Session represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type Session interface {
	// SendAudio delivers a chunk of raw PCM16 audio bytes for transcription.
	// It is fire-and-forget: delivery is asynchronous. After a transport
	// failure the session emits EventClosed and SendAudio returns an error
	// for every subsequent call.
	SendAudio(chunk []byte) error

	// Events returns the session's ordered event stream. The channel is
	// closed after EventClosed is delivered. The returned channel is the same
	// value for the lifetime of the session.
	Events() <-chan Event

	// Finish flushes pending audio and asks the recognizer to finalize the
	// current utterance without tearing down the connection.
	Finish() error

	// Close terminates the session and releases all associated resources.
	// After Close returns the Events channel will be closed. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (one per voice connection).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned Session is
	// ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure or ctx already cancelled). The caller owns the
	// Session and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (Session, error)
}
