package voice

import (
	"context"
	"encoding/base64"
	"time"
)

// speak streams one TTS job to the client as chunkType frames followed by a
// doneType frame. It registers a cancellation handle so a barge-in can stop
// the job mid-stream; an interrupted job ends silently, without the done
// frame, because the client flushes its buffer on user_interrupt_detected.
func (s *session) speak(ctx context.Context, text, chunkType, doneType string) {
	s.mu.Lock()
	if s.userSpeaking {
		// New TTS jobs stay suppressed until the next final transcript.
		s.mu.Unlock()
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	s.speakCancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		if s.speakCancel != nil {
			s.speakCancel = nil
		}
		s.mu.Unlock()
	}()

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audio, err := s.ctrl.ttsProvider.SynthesizeStream(sctx, textCh, s.ctrl.cfg.Voice)
	if err != nil {
		s.ctrl.logger.Error("voice: synthesis failed", "client_id", s.clientID, "error", err)
		s.send(Outbound{Type: outError, Error: "audio generation failed"})
		return
	}

	start := time.Now()
	var (
		n          int
		totalBytes int
		firstChunk float64
	)
	for chunk := range audio {
		if n == 0 {
			firstChunk = time.Since(start).Seconds()
			s.ctrl.metrics.TTSFirstChunk.Record(sctx, firstChunk)
		}
		s.send(Outbound{
			Type:         chunkType,
			ChunkID:      n,
			AudioData:    base64.StdEncoding.EncodeToString(chunk),
			Size:         len(chunk),
			IsFirstChunk: n == 0,
		})
		n++
		totalBytes += len(chunk)
	}

	s.mu.Lock()
	s.chunksSent += n
	s.mu.Unlock()

	if sctx.Err() != nil {
		// Cancelled mid-stream by a barge-in.
		return
	}
	s.send(Outbound{
		Type:              doneType,
		TotalChunks:       n,
		TotalSize:         totalBytes,
		FirstChunkLatency: firstChunk,
	})
}
