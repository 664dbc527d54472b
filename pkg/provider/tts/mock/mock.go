// Package mock provides a test double for the tts.Provider interface.
//
// The mock consumes the text channel in the background, records every
// fragment it receives, and emits pre-canned audio chunks:
//
//	p := &mock.Provider{
//	    NameValue: "mock-tts",
//	    Chunks:    [][]byte{{0x01, 0x02}, {0x03}},
//	}
//	audio, _ := p.SynthesizeStream(ctx, textCh, tts.Voice{ID: "v"})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/aulalabs/aula/pkg/provider/tts"
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Chunks are emitted on the audio channel, in order, after the text
	// channel closes.
	Chunks [][]byte

	// ChunkDelay, if non-zero, is slept before each chunk. Use it to test
	// first-chunk deadlines.
	ChunkDelay time.Duration

	// StartErr, if non-nil, is returned from SynthesizeStream.
	StartErr error

	// EmitBeforeDrain, when true, emits Chunks immediately instead of
	// waiting for the text channel to close. Needed when the caller keeps
	// the text channel open while consuming audio.
	EmitBeforeDrain bool

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// --- Call records (read after test) ---

	// Texts records every fragment drained from the text channels of all
	// calls, in arrival order.
	Texts []string

	// Voices records the voice passed to each SynthesizeStream call.
	Voices []tts.Voice

	// Calls is the number of SynthesizeStream invocations.
	Calls int
}

// SynthesizeStream records the call, drains text in the background, and
// returns a channel fed with Chunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.Calls++
	p.Voices = append(p.Voices, voice)
	startErr := p.StartErr
	p.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}

	audioCh := make(chan []byte, 64)

	go func() {
		defer close(audioCh)

		if p.EmitBeforeDrain {
			if !p.emit(ctx, audioCh) {
				return
			}
		}

		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					if !p.EmitBeforeDrain {
						p.emit(ctx, audioCh)
					}
					return
				}
				p.mu.Lock()
				p.Texts = append(p.Texts, fragment)
				p.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// emit sends the configured chunks, honoring ChunkDelay. Reports false if
// ctx was cancelled.
func (p *Provider) emit(ctx context.Context, out chan<- []byte) bool {
	p.mu.Lock()
	chunks := p.Chunks
	delay := p.ChunkDelay
	p.mu.Unlock()

	for _, chunk := range chunks {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false
			}
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Name returns NameValue or "mock".
func (p *Provider) Name() string {
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

// ReceivedTexts returns a copy of the recorded fragments.
func (p *Provider) ReceivedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Texts))
	copy(out, p.Texts)
	return out
}
