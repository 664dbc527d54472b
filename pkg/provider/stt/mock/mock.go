// Package mock provides test doubles for the stt.Provider and stt.Session
// interfaces.
//
// Use Session to script an event sequence without a live transcription
// backend, and Provider to hand that session to code under test:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	go func() {
//	    sess.Emit(stt.Event{Kind: stt.EventFinal, Text: "hello"})
//	    sess.Close()
//	}()
package mock

import (
	"context"
	"sync"

	"github.com/aulalabs/aula/pkg/provider/stt"
)

// Ensure the mocks implement the real interfaces.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Session  = (*Session)(nil)
)

// StartStreamCall records a single invocation of StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Config is the stream configuration passed to StartStream.
	Config stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, a fresh Session is created
	// per call and recorded in Sessions.
	Session *Session

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every invocation of StartStream in order.
	StartStreamCalls []StartStreamCall

	// Sessions records every auto-created session, in creation order.
	Sessions []*Session
}

// StartStream records the call and returns the configured or a fresh Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Config: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Session is a mock implementation of stt.Session. Tests drive the event
// stream via Emit and inspect received audio via AudioChunks.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// FinishErr, if non-nil, is returned by Finish.
	FinishErr error

	// AudioChunks records every chunk passed to SendAudio, in order.
	AudioChunks [][]byte

	// FinishCalls is the number of times Finish was called.
	FinishCalls int

	events chan stt.Event
	done   chan struct{}
	once   sync.Once
}

// NewSession creates a mock session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events: make(chan stt.Event, 64),
		done:   make(chan struct{}),
	}
}

// Emit places an event on the session's event stream. It is a no-op after
// Close.
func (s *Session) Emit(ev stt.Event) {
	select {
	case <-s.done:
	case s.events <- ev:
	}
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.AudioChunks = append(s.AudioChunks, cp)
	return nil
}

// Events returns the scripted event stream.
func (s *Session) Events() <-chan stt.Event { return s.events }

// Finish records the call.
func (s *Session) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishCalls++
	return s.FinishErr
}

// Close emits EventClosed and closes the event channel. Safe to call more
// than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		select {
		case s.events <- stt.Event{Kind: stt.EventClosed}:
		default:
		}
		close(s.done)
		close(s.events)
	})
	return nil
}
