package tts_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aulalabs/aula/pkg/provider/tts"
	"github.com/aulalabs/aula/pkg/provider/tts/mock"
)

// sendText feeds the given fragments and closes the channel.
func sendText(fragments ...string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

// collect drains an audio channel into one buffer, with a safety timeout.
func collect(t *testing.T, audio <-chan []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-audio:
			if !ok {
				return buf.Bytes()
			}
			buf.Write(chunk)
		case <-timeout:
			t.Fatal("timed out draining audio channel")
		}
	}
}

func TestNewChainRequiresProviders(t *testing.T) {
	if _, err := tts.NewChain(nil); err == nil {
		t.Fatal("expected error for empty provider list, got nil")
	}
}

func TestChainPrimarySucceeds(t *testing.T) {
	primary := &mock.Provider{NameValue: "primary", Chunks: [][]byte{{1, 2}, {3, 4}}}
	fallback := &mock.Provider{NameValue: "fallback", Chunks: [][]byte{{9}}}

	chain, err := tts.NewChain([]tts.Provider{primary, fallback})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	audio, err := chain.SynthesizeStream(context.Background(), sendText("hello world."), tts.Voice{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	got := collect(t, audio)
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("audio = %v, want primary chunks", got)
	}
	if fallback.Calls != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.Calls)
	}
}

func TestChainFallsBackOnStartError(t *testing.T) {
	primary := &mock.Provider{NameValue: "primary", StartErr: errors.New("quota exceeded")}
	fallback := &mock.Provider{NameValue: "fallback", Chunks: [][]byte{{7, 8}}}

	chain, err := tts.NewChain([]tts.Provider{primary, fallback})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	audio, err := chain.SynthesizeStream(context.Background(), sendText("a sentence.", "another."), tts.Voice{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	got := collect(t, audio)
	if !bytes.Equal(got, []byte{7, 8}) {
		t.Errorf("audio = %v, want fallback chunks", got)
	}

	// The fallback must receive every fragment even though the primary
	// attempt consumed the feed first.
	texts := fallback.ReceivedTexts()
	if len(texts) != 2 || texts[0] != "a sentence." || texts[1] != "another." {
		t.Errorf("fallback texts = %v, want both fragments replayed", texts)
	}
}

func TestChainFallsBackOnEmptyStream(t *testing.T) {
	primary := &mock.Provider{NameValue: "primary"} // closes without chunks
	fallback := &mock.Provider{NameValue: "fallback", Chunks: [][]byte{{5}}}

	chain, err := tts.NewChain([]tts.Provider{primary, fallback})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	audio, err := chain.SynthesizeStream(context.Background(), sendText("text."), tts.Voice{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	got := collect(t, audio)
	if !bytes.Equal(got, []byte{5}) {
		t.Errorf("audio = %v, want fallback chunk", got)
	}
}

func TestChainFirstChunkTimeout(t *testing.T) {
	primary := &mock.Provider{
		NameValue:  "slow",
		Chunks:     [][]byte{{1}},
		ChunkDelay: 500 * time.Millisecond,
	}
	fallback := &mock.Provider{NameValue: "fast", Chunks: [][]byte{{2}}}

	chain, err := tts.NewChain(
		[]tts.Provider{primary, fallback},
		tts.WithFirstChunkTimeout(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	audio, err := chain.SynthesizeStream(context.Background(), sendText("text."), tts.Voice{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	got := collect(t, audio)
	if !bytes.Equal(got, []byte{2}) {
		t.Errorf("audio = %v, want fast provider chunk", got)
	}
}

func TestChainAllProvidersFail(t *testing.T) {
	p1 := &mock.Provider{NameValue: "a", StartErr: errors.New("down")}
	p2 := &mock.Provider{NameValue: "b", StartErr: errors.New("down")}

	chain, err := tts.NewChain([]tts.Provider{p1, p2})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	audio, err := chain.SynthesizeStream(context.Background(), sendText("text."), tts.Voice{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	if got := collect(t, audio); len(got) != 0 {
		t.Errorf("audio = %v, want empty stream", got)
	}
}

func TestChainCancellation(t *testing.T) {
	primary := &mock.Provider{
		NameValue:       "primary",
		Chunks:          [][]byte{{1}, {2}, {3}},
		ChunkDelay:      20 * time.Millisecond,
		EmitBeforeDrain: true,
	}

	chain, err := tts.NewChain([]tts.Provider{primary})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	text := make(chan string) // held open, as during live synthesis
	defer close(text)

	audio, err := chain.SynthesizeStream(ctx, text, tts.Voice{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	// Take the first chunk then cancel, as barge-in does.
	select {
	case <-audio:
	case <-time.After(5 * time.Second):
		t.Fatal("no first chunk")
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-audio:
			if !ok {
				return // channel closed promptly after cancellation
			}
		case <-deadline:
			t.Fatal("audio channel not closed after cancellation")
		}
	}
}
