// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint. Unlike the ElevenLabs provider it is single-shot: the full text
// is collected before one synthesis request is issued. It exists as the
// fallback rung of the synthesis chain, where robustness matters more than
// first-chunk latency.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/aulalabs/aula/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelTTS1

// DefaultVoice is used when the requested voice has no OpenAI mapping.
const DefaultVoice = "alloy"

// readChunkSize is the size of audio chunks forwarded from the HTTP response.
const readChunkSize = 4096

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI audio speech API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider. If model is empty, DefaultModel
// is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "openai" }

// SynthesizeStream implements tts.Provider. It drains the text channel,
// issues one speech request for the joined text, and streams the PCM
// response body in chunks. The audio channel is closed when the response is
// exhausted or ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	audioCh := make(chan []byte, 64)

	go func() {
		defer close(audioCh)

		var parts []string
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					p.synthesize(ctx, strings.Join(parts, " "), voice, audioCh)
					return
				}
				if fragment != "" {
					parts = append(parts, fragment)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// synthesize issues the speech request and forwards the PCM body to out.
func (p *Provider) synthesize(ctx context.Context, text string, voice tts.Voice, out chan<- []byte) {
	if strings.TrimSpace(text) == "" {
		return
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          text,
		Voice:          mapVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return
	}
	defer resp.Body.Close()

	for {
		buf := make([]byte, readChunkSize)
		n, err := resp.Body.Read(buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			// io.EOF is the normal end of the body; transport errors also
			// end the stream, which the chain detects as an early close.
			return
		}
	}
}

// mapVoice translates a provider-neutral voice to an OpenAI voice name.
// Unknown IDs fall back to DefaultVoice so the chain rung never fails on a
// voice configured for another provider.
func mapVoice(voice tts.Voice) oai.AudioSpeechNewParamsVoice {
	switch strings.ToLower(voice.ID) {
	case "alloy", "ash", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer":
		return oai.AudioSpeechNewParamsVoice(strings.ToLower(voice.ID))
	default:
		return oai.AudioSpeechNewParamsVoice(DefaultVoice)
	}
}
