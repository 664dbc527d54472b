// Package voice runs interactive teaching sessions over one WebSocket
// connection each. A session couples three concurrent loops: the client
// frame reader, the STT event reader, and at most one in-flight TTS
// streaming job. Barge-in (the user speaking over the tutor) cancels the
// active TTS job and notifies the client.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aulalabs/aula/internal/observe"
	"github.com/aulalabs/aula/internal/orchestrator"
	"github.com/aulalabs/aula/internal/store"
	"github.com/aulalabs/aula/pkg/provider/stt"
	"github.com/aulalabs/aula/pkg/provider/tts"
)

// State is the session's position in the teaching loop.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateTeaching
	StateListening
	StateAnswering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateTeaching:
		return "teaching"
	case StateListening:
		return "listening"
	case StateAnswering:
		return "answering"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CourseReader provides the course outline for teaching sessions.
// *store.Store implements it.
type CourseReader interface {
	GetCourseTree(ctx context.Context, courseID string) (store.CourseTree, error)
}

// conn is the transport a session talks through. Production wraps a
// *websocket.Conn; tests substitute an in-memory pipe.
type conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// wsAdapter adapts *websocket.Conn to the conn interface.
type wsAdapter struct{ ws *websocket.Conn }

func (a wsAdapter) Read(ctx context.Context) ([]byte, error) {
	_, data, err := a.ws.Read(ctx)
	return data, err
}

func (a wsAdapter) Write(ctx context.Context, data []byte) error {
	return a.ws.Write(ctx, websocket.MessageText, data)
}

func (a wsAdapter) Close() error {
	return a.ws.Close(websocket.StatusNormalClosure, "session ended")
}

// Config carries the voice surface's tunables.
type Config struct {
	// KeepAliveInterval is how long LISTENING may stay silent before a
	// keep-alive frame is sent.
	KeepAliveInterval time.Duration

	// IdleTimeout closes the session after this much total inactivity.
	IdleTimeout time.Duration

	// Language is the default recognition and reply language.
	Language string

	// Voice selects the TTS voice for all spoken output.
	Voice tts.Voice

	// SampleRate is the inbound PCM16 sample rate in Hz.
	SampleRate int
}

// Controller builds one session per accepted WebSocket connection.
type Controller struct {
	sttProvider stt.Provider
	ttsProvider tts.Provider
	orch        *orchestrator.Orchestrator
	courses     CourseReader
	metrics     *observe.Metrics
	logger      *slog.Logger
	cfg         Config
}

// NewController wires the voice surface. courses may be nil when no teaching
// content is served; start_class then reports an error frame.
func NewController(sttP stt.Provider, ttsP tts.Provider, orch *orchestrator.Orchestrator, courses CourseReader, cfg Config, opts ...ControllerOption) (*Controller, error) {
	if sttP == nil || ttsP == nil {
		return nil, fmt.Errorf("voice: stt and tts providers must not be nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("voice: orchestrator must not be nil")
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	c := &Controller{
		sttProvider: sttP,
		ttsProvider: ttsP,
		orch:        orch,
		courses:     courses,
		metrics:     observe.DefaultMetrics(),
		logger:      slog.Default(),
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics overrides the default metrics sink.
func WithMetrics(m *observe.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// HandleConn runs one voice session to completion over ws. It blocks until
// the client disconnects, the session idles out, or ctx is cancelled.
func (c *Controller) HandleConn(ctx context.Context, ws *websocket.Conn, userID, courseID string) error {
	return c.run(ctx, wsAdapter{ws: ws}, userID, courseID)
}

func (c *Controller) run(ctx context.Context, transport conn, userID, courseID string) error {
	sttSession, err := c.sttProvider.StartStream(ctx, stt.StreamConfig{
		SampleRate: c.cfg.SampleRate,
		Channels:   1,
		Language:   c.cfg.Language,
	})
	if err != nil {
		return fmt.Errorf("voice: start stt stream: %w", err)
	}

	s := &session{
		ctrl:         c,
		conn:         transport,
		clientID:     uuid.NewString(),
		stt:          sttSession,
		userID:       userID,
		courseID:     courseID,
		language:     c.cfg.Language,
		out:          make(chan Outbound, 64),
		lastActivity: time.Now(),
		state:        StateInitializing,
	}
	c.metrics.ActiveVoiceSessions.Add(ctx, 1)
	defer c.metrics.ActiveVoiceSessions.Add(context.WithoutCancel(ctx), -1)

	return s.run(ctx)
}

// session is the per-connection state machine. One logical task per
// connection; the sub-loops coordinate through the mutex-guarded fields and
// one cancellation handle per TTS job.
type session struct {
	ctrl     *Controller
	conn     conn
	clientID string
	stt      stt.Session

	userID    string
	courseID  string
	sessionID string

	// ctx spans the session's loops; send unblocks on its cancellation.
	ctx context.Context

	// out serializes every frame through the single writer loop, which is
	// what guarantees text-before-audio ordering per answer.
	out chan Outbound

	mu           sync.Mutex
	state        State
	language     string
	userSpeaking bool
	speakCancel  context.CancelFunc
	lastActivity time.Time
	teaching     *teachingState
	chunksSent   int
	interrupts   int

	// turnMu serializes answer turns so at most one TTS job is in flight.
	// Turns run off the reader loops so barge-in events keep flowing while
	// audio streams.
	turnMu sync.Mutex
	tasks  sync.WaitGroup
}

// async runs one answer turn in the background. Turns serialize on turnMu;
// the event loops stay free to observe barge-in while a turn speaks.
func (s *session) async(fn func()) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.turnMu.Lock()
		defer s.turnMu.Unlock()
		fn()
	}()
}

func (s *session) run(ctx context.Context) error {
	defer s.stt.Close()
	defer s.conn.Close()

	g, ctx := errgroup.WithContext(ctx)
	s.ctx = ctx
	g.Go(func() error { return s.writeLoop(ctx) })
	g.Go(func() error { return s.readLoop(ctx) })
	g.Go(func() error { return s.sttLoop(ctx) })
	g.Go(func() error { return s.timerLoop(ctx) })

	s.setState(StateListening)
	s.send(Outbound{Type: outConnectionReady})

	err := g.Wait()
	s.tasks.Wait()
	s.setState(StateClosed)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// send enqueues one frame for the writer loop. When the queue is full the
// caller blocks until the client drains or the session ends: a slow client
// slows the producing turn down rather than losing frames mid-answer.
func (s *session) send(f Outbound) {
	select {
	case s.out <- f:
	case <-s.ctx.Done():
	}
}

// trySend enqueues a best-effort frame, dropping it when the queue is full.
// Only keep-alives go through here; a client too backed up to take a pong
// does not need one.
func (s *session) trySend(f Outbound) {
	select {
	case s.out <- f:
	default:
		s.ctrl.logger.Debug("voice: outbound queue full, dropping frame",
			"client_id", s.clientID, "frame_type", f.Type)
	}
}

// writeLoop is the only goroutine that touches the socket for writes.
func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.out:
			data, err := json.Marshal(f.stamp(s.clientID, time.Now()))
			if err != nil {
				s.ctrl.logger.Error("voice: marshal frame", "error", err)
				continue
			}
			if err := s.conn.Write(ctx, data); err != nil {
				return fmt.Errorf("voice: write frame: %w", err)
			}
		}
	}
}

// readLoop parses client frames and dispatches them.
func (s *session) readLoop(ctx context.Context) error {
	for {
		data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("voice: read frame: %w", err)
		}
		s.touch()

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.send(Outbound{Type: outError, Error: "malformed frame"})
			continue
		}
		s.dispatch(ctx, in)
	}
}

// sttLoop consumes recognition events. Barge-in lives here: a speech start
// during active TTS cancels the job and notifies the client.
func (s *session) sttLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.stt.Events():
			if !ok {
				return fmt.Errorf("voice: stt event stream ended")
			}
			switch ev.Kind {
			case stt.EventSpeechStarted:
				s.onSpeechStarted()
			case stt.EventPartial:
				s.ctrl.logger.Debug("voice: partial", "client_id", s.clientID, "text", ev.Text)
			case stt.EventFinal:
				text := ev.Text
				s.async(func() { s.onFinalTranscript(ctx, text) })
			case stt.EventUtteranceEnd:
				s.touch()
			case stt.EventClosed:
				return fmt.Errorf("voice: stt stream closed")
			}
		}
	}
}

// timerLoop sends keep-alives during silence and ends the session after the
// idle timeout.
func (s *session) timerLoop(ctx context.Context) error {
	interval := s.ctrl.cfg.KeepAliveInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			idle := time.Since(s.activityTime())
			if idle >= s.ctrl.cfg.IdleTimeout {
				s.ctrl.logger.Info("voice: closing idle session", "client_id", s.clientID, "idle", idle)
				return fmt.Errorf("voice: idle timeout")
			}
			if idle >= interval {
				s.trySend(Outbound{Type: outPong})
			}
		}
	}
}

// onSpeechStarted handles barge-in.
func (s *session) onSpeechStarted() {
	s.mu.Lock()
	s.userSpeaking = true
	cancel := s.speakCancel
	s.speakCancel = nil
	if cancel != nil {
		s.interrupts++
	}
	s.state = StateListening
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.ctrl.metrics.BargeIns.Add(context.Background(), 1)
		s.send(Outbound{Type: outUserInterruptDetected})
	}
}

// onFinalTranscript answers one finalized user utterance.
func (s *session) onFinalTranscript(ctx context.Context, text string) {
	s.mu.Lock()
	s.userSpeaking = false
	s.state = StateAnswering
	s.lastActivity = time.Now()
	lang := s.language
	s.mu.Unlock()

	s.send(Outbound{Type: outUserQuestion, Text: text})

	ans, err := s.ctrl.orch.Ask(ctx, orchestrator.AskRequest{
		Query:       text,
		UserID:      s.userID,
		SessionID:   s.sessionID,
		Language:    lang,
		CourseID:    s.courseID,
		MessageType: store.MessageVoice,
		Agent:       "tutor",
	})
	if err != nil {
		s.ctrl.logger.Error("voice: answer failed", "client_id", s.clientID, "error", err)
		s.send(Outbound{Type: outError, Error: "could not answer, please try again"})
		s.setState(StateListening)
		return
	}
	s.rememberSession(ans.SessionID)

	// Text frame goes out before the first audio chunk of the same answer.
	s.send(Outbound{Type: outAgentResponse, Text: ans.Text, Agent: "tutor"})
	s.speak(ctx, ans.Text, outAudioChunk, outAudioComplete)

	s.mu.Lock()
	if s.teaching != nil {
		s.state = StateTeaching
	} else {
		s.state = StateListening
	}
	s.mu.Unlock()
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) activityTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *session) rememberSession(id string) {
	s.mu.Lock()
	if s.sessionID == "" {
		s.sessionID = id
	}
	s.mu.Unlock()
}
