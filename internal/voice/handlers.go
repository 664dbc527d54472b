package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/aulalabs/aula/internal/orchestrator"
	"github.com/aulalabs/aula/internal/store"
	"github.com/aulalabs/aula/pkg/provider/stt"
)

// transcribeTimeout bounds one-shot transcription requests.
const transcribeTimeout = 15 * time.Second

// dispatch routes one inbound frame. Handlers that generate or speak run as
// background turns so the read loop keeps draining audio frames while the
// tutor talks.
func (s *session) dispatch(ctx context.Context, in Inbound) {
	switch in.Type {
	case inPing:
		s.send(Outbound{Type: outPong})

	case inSetLanguage:
		if in.Language != "" {
			s.mu.Lock()
			s.language = in.Language
			s.mu.Unlock()
		}

	case inChatWithAudio:
		s.async(func() { s.handleChatWithAudio(ctx, in) })

	case inSTTAudioChunk:
		s.handleAudioChunk(in.Audio)

	case inStartClass, inInteractiveTeaching:
		s.async(func() { s.startTeaching(ctx, in) })

	case inContinueTeaching:
		s.async(func() { s.continueTeaching(ctx) })

	case inEndTeaching:
		s.endTeaching()

	case inAudioOnly:
		s.async(func() { s.handleAudioOnly(ctx, in.Text) })

	case inTranscribeAudio:
		s.async(func() { s.handleTranscribe(ctx, in) })

	case inGetMetrics:
		s.mu.Lock()
		chunks, interrupts := s.chunksSent, s.interrupts
		s.mu.Unlock()
		s.send(Outbound{Type: outMetrics, AudioChunksSent: chunks, Interrupts: interrupts})

	default:
		s.send(Outbound{Type: outError, Error: fmt.Sprintf("unknown message type %q", in.Type)})
	}
}

// handleChatWithAudio answers a typed question with both text and audio.
func (s *session) handleChatWithAudio(ctx context.Context, in Inbound) {
	if strings.TrimSpace(in.Message) == "" {
		s.send(Outbound{Type: outError, Error: "message must not be empty"})
		return
	}
	userID := in.UserID
	if userID == "" {
		userID = s.userID
	}
	courseID := in.CourseID
	if courseID == "" {
		courseID = s.courseID
	}
	lang := in.Language
	if lang == "" {
		s.mu.Lock()
		lang = s.language
		s.mu.Unlock()
	}

	s.send(Outbound{Type: outProcessingStarted})

	ans, err := s.ctrl.orch.Ask(ctx, orchestrator.AskRequest{
		Query:       in.Message,
		UserID:      userID,
		SessionID:   s.sessionID,
		Language:    lang,
		CourseID:    courseID,
		MessageType: store.MessageVoice,
		Agent:       "tutor",
	})
	if err != nil {
		s.send(Outbound{Type: outError, Error: "could not answer, please try again"})
		return
	}
	s.rememberSession(ans.SessionID)

	s.send(Outbound{Type: outTextResponse, Text: ans.Text})
	s.send(Outbound{Type: outAudioGenerationStarted})
	s.speak(ctx, ans.Text, outAudioChunk, outAudioGenerationComplete)
}

// handleAudioChunk feeds one base64 PCM16 chunk into the STT stream.
func (s *session) handleAudioChunk(b64 string) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		s.send(Outbound{Type: outError, Error: "invalid base64 audio"})
		return
	}
	if len(raw) == 0 {
		return
	}
	if err := s.stt.SendAudio(raw); err != nil {
		s.ctrl.logger.Warn("voice: stt send failed", "client_id", s.clientID, "error", err)
	}
}

// handleAudioOnly synthesizes the given text with no LLM involved.
func (s *session) handleAudioOnly(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		s.send(Outbound{Type: outError, Error: "text must not be empty"})
		return
	}
	s.send(Outbound{Type: outAudioGenerationStarted})
	s.speak(ctx, text, outAudioChunk, outAudioGenerationComplete)
}

// handleTranscribe runs a one-shot transcription through a short-lived STT
// session.
func (s *session) handleTranscribe(ctx context.Context, in Inbound) {
	raw, err := base64.StdEncoding.DecodeString(in.AudioData)
	if err != nil || len(raw) == 0 {
		s.send(Outbound{Type: outError, Error: "invalid base64 audio"})
		return
	}
	lang := in.Language
	if lang == "" {
		s.mu.Lock()
		lang = s.language
		s.mu.Unlock()
	}

	text, err := s.transcribeOnce(ctx, raw, lang)
	if err != nil {
		s.ctrl.logger.Warn("voice: one-shot transcription failed", "client_id", s.clientID, "error", err)
		s.send(Outbound{Type: outError, Error: "transcription failed"})
		return
	}
	s.send(Outbound{Type: outTextResponse, Text: text})
}

func (s *session) transcribeOnce(ctx context.Context, pcm []byte, language string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	sess, err := s.ctrl.sttProvider.StartStream(ctx, stt.StreamConfig{
		SampleRate: s.ctrl.cfg.SampleRate,
		Channels:   1,
		Language:   language,
	})
	if err != nil {
		return "", fmt.Errorf("start stream: %w", err)
	}
	defer sess.Close()

	if err := sess.SendAudio(pcm); err != nil {
		return "", fmt.Errorf("send audio: %w", err)
	}
	if err := sess.Finish(); err != nil {
		return "", fmt.Errorf("finish: %w", err)
	}

	var parts []string
	for {
		select {
		case <-ctx.Done():
			return strings.Join(parts, " "), ctx.Err()
		case ev, ok := <-sess.Events():
			if !ok {
				return strings.Join(parts, " "), nil
			}
			switch ev.Kind {
			case stt.EventFinal:
				parts = append(parts, ev.Text)
			case stt.EventUtteranceEnd, stt.EventClosed:
				if len(parts) > 0 {
					return strings.Join(parts, " "), nil
				}
				if ev.Kind == stt.EventClosed {
					return "", fmt.Errorf("stream closed without transcript")
				}
			}
		}
	}
}
