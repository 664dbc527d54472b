package deepgram

import (
	"strings"
	"testing"

	"github.com/aulalabs/aula/pkg/provider/stt"
)

func TestNew(t *testing.T) {
	t.Run("empty api key", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty apiKey, got nil")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		p, err := New("key")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if p.model != defaultModel {
			t.Errorf("model = %q, want %q", p.model, defaultModel)
		}
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
	})

	t.Run("options", func(t *testing.T) {
		p, err := New("key", WithModel("base"), WithLanguage("en-IN"), WithSampleRate(8000))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if p.model != "base" || p.language != "en-IN" || p.sampleRate != 8000 {
			t.Errorf("options not applied: %+v", p)
		}
	})
}

func TestBuildURL(t *testing.T) {
	p, err := New("key", WithModel("nova-3"), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-IN"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	for _, want := range []string{
		"model=nova-3",
		"language=en-IN",
		"interim_results=true",
		"vad_events=true",
		"utterance_end_ms=1000",
		"encoding=linear16",
		"sample_rate=16000",
		"channels=1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("buildURL missing %q in %q", want, got)
		}
	}
}

func TestBuildURLDefaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if !strings.Contains(got, "language=en") {
		t.Errorf("expected provider default language in %q", got)
	}
	if !strings.Contains(got, "sample_rate=16000") {
		t.Errorf("expected provider default sample rate in %q", got)
	}
}

func TestParseMessage(t *testing.T) {
	s := &session{language: "en", done: make(chan struct{})}

	tests := []struct {
		name     string
		raw      string
		wantOK   bool
		wantKind stt.EventKind
		wantText string
	}{
		{
			name:     "speech started",
			raw:      `{"type":"SpeechStarted","timestamp":1.23}`,
			wantOK:   true,
			wantKind: stt.EventSpeechStarted,
		},
		{
			name:     "utterance end",
			raw:      `{"type":"UtteranceEnd","last_word_end":2.5}`,
			wantOK:   true,
			wantKind: stt.EventUtteranceEnd,
		},
		{
			name:     "interim result",
			raw:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"what is","confidence":0.7}]}}`,
			wantOK:   true,
			wantKind: stt.EventPartial,
			wantText: "what is",
		},
		{
			name:     "final result",
			raw:      `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"what is a derivative","confidence":0.95}]}}`,
			wantOK:   true,
			wantKind: stt.EventFinal,
			wantText: "what is a derivative",
		},
		{
			name:   "noise final suppressed",
			raw:    `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"um","confidence":0.4}]}}`,
			wantOK: false,
		},
		{
			name:   "empty transcript ignored",
			raw:    `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
			wantOK: false,
		},
		{
			name:   "no alternatives ignored",
			raw:    `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
			wantOK: false,
		},
		{
			name:   "metadata ignored",
			raw:    `{"type":"Metadata","request_id":"abc"}`,
			wantOK: false,
		},
		{
			name:   "invalid json ignored",
			raw:    `{not json`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := s.parseMessage([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("parseMessage ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", ev.Kind, tt.wantKind)
			}
			if ev.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", ev.Text, tt.wantText)
			}
		})
	}
}

func TestParseMessageNoiseStillPartial(t *testing.T) {
	// Interim noise passes through: suppression only applies to finals so
	// barge-in detection stays responsive.
	s := &session{language: "en", done: make(chan struct{})}
	ev, ok := s.parseMessage([]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"um","confidence":0.4}]}}`))
	if !ok {
		t.Fatal("expected partial to be emitted")
	}
	if ev.Kind != stt.EventPartial {
		t.Errorf("Kind = %v, want partial", ev.Kind)
	}
}
