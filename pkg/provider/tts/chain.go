package tts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultFirstChunkTimeout is how long a chain rung may take to produce its
// first audio chunk before the chain moves on to the next provider.
const DefaultFirstChunkTimeout = 5 * time.Second

// ChainOption is a functional option for configuring a Chain.
type ChainOption func(*Chain)

// WithFirstChunkTimeout overrides the per-rung first-chunk deadline.
func WithFirstChunkTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.firstChunkTimeout = d
	}
}

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// Chain is a tts.Provider that tries an ordered list of providers until one
// produces audio. A rung is abandoned when it fails to start or fails to
// deliver its first audio chunk within the first-chunk deadline; the text
// already consumed is replayed to the next rung so no fragment is lost.
//
// Once a rung has delivered audio the chain commits to it: mid-stream
// failures after the first chunk surface as an early close, matching the
// Provider contract.
type Chain struct {
	providers         []Provider
	firstChunkTimeout time.Duration
	logger            *slog.Logger
}

// Ensure Chain implements the Provider interface.
var _ Provider = (*Chain)(nil)

// NewChain builds a synthesis chain over the given providers, tried in order.
func NewChain(providers []Provider, opts ...ChainOption) (*Chain, error) {
	if len(providers) == 0 {
		return nil, errors.New("tts: chain requires at least one provider")
	}
	c := &Chain{
		providers:         providers,
		firstChunkTimeout: DefaultFirstChunkTimeout,
		logger:            slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Name implements Provider.
func (c *Chain) Name() string { return "chain" }

// SynthesizeStream implements Provider. The returned channel carries audio
// from whichever rung first produces a chunk.
func (c *Chain) SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error) {
	out := make(chan []byte, 256)
	rec := &textRecorder{live: text}

	go func() {
		defer close(out)

		for i, p := range c.providers {
			if ctx.Err() != nil {
				return
			}
			delivered := c.tryProvider(ctx, p, rec, voice, out)
			if delivered {
				return
			}
			if i < len(c.providers)-1 {
				c.logger.Warn("tts provider produced no audio, falling back",
					"provider", p.Name(),
					"next", c.providers[i+1].Name())
			} else {
				c.logger.Error("all tts providers failed", "last", p.Name())
			}
		}
	}()

	return out, nil
}

// tryProvider runs one rung of the chain. It reports whether the rung
// delivered at least one audio chunk; when true the rung's full output has
// been forwarded to out.
func (c *Chain) tryProvider(ctx context.Context, p Provider, rec *textRecorder, voice Voice, out chan<- []byte) bool {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed := rec.feed(attemptCtx)

	audio, err := p.SynthesizeStream(attemptCtx, feed, voice)
	if err != nil {
		c.logger.Warn("tts provider failed to start", "provider", p.Name(), "error", err)
		return false
	}

	firstChunk := time.NewTimer(c.firstChunkTimeout)
	defer firstChunk.Stop()

	select {
	case chunk, ok := <-audio:
		if !ok {
			// Closed without producing audio.
			return false
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return true
		}
	case <-firstChunk.C:
		cancel()
		// Drain so the rung's goroutines can exit.
		go func() {
			for range audio {
			}
		}()
		return false
	case <-ctx.Done():
		return true
	}

	// Committed: forward the rest of the stream.
	for {
		select {
		case chunk, ok := <-audio:
			if !ok {
				return true
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return true
			}
		case <-ctx.Done():
			return true
		}
	}
}

// textRecorder tees a live text channel so that fragments consumed by a
// failed rung can be replayed to the next one.
type textRecorder struct {
	mu       sync.Mutex
	live     <-chan string
	recorded []string
	liveDone bool
}

// feed returns a channel that first replays all recorded fragments and then
// forwards (and records) fragments from the live channel. The channel closes
// when the live channel is exhausted or ctx is cancelled.
func (r *textRecorder) feed(ctx context.Context) <-chan string {
	ch := make(chan string)

	go func() {
		defer close(ch)

		r.mu.Lock()
		replay := make([]string, len(r.recorded))
		copy(replay, r.recorded)
		done := r.liveDone
		r.mu.Unlock()

		for _, fragment := range replay {
			select {
			case ch <- fragment:
			case <-ctx.Done():
				return
			}
		}
		if done {
			return
		}

		for {
			select {
			case fragment, ok := <-r.live:
				if !ok {
					r.mu.Lock()
					r.liveDone = true
					r.mu.Unlock()
					return
				}
				r.mu.Lock()
				r.recorded = append(r.recorded, fragment)
				r.mu.Unlock()
				select {
				case ch <- fragment:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}
