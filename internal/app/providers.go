package app

import (
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/aulalabs/aula/internal/config"
	"github.com/aulalabs/aula/internal/resilience"
	"github.com/aulalabs/aula/pkg/provider/embeddings"
	embopenai "github.com/aulalabs/aula/pkg/provider/embeddings/openai"
	"github.com/aulalabs/aula/pkg/provider/llm"
	"github.com/aulalabs/aula/pkg/provider/llm/anyllm"
	llmopenai "github.com/aulalabs/aula/pkg/provider/llm/openai"
	"github.com/aulalabs/aula/pkg/provider/stt"
	"github.com/aulalabs/aula/pkg/provider/stt/deepgram"
	"github.com/aulalabs/aula/pkg/provider/tts"
	"github.com/aulalabs/aula/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/aulalabs/aula/pkg/provider/tts/openai"
)

// buildLLM constructs one completion provider. "openai" uses the native SDK
// provider; every other name goes through the any-llm-go bridge.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "":
		return nil, fmt.Errorf("app: llm provider name must not be empty")
	case "openai":
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

// buildLLMStack builds both model roles, the role selector, and the
// failover group the orchestrator answers with. The fast model is the
// primary; when a distinct standard model is configured it serves as the
// fallback.
func buildLLMStack(cfg config.LLMConfig) (*llm.Selector, *resilience.Group[llm.Provider], error) {
	standard, err := buildLLM(cfg.Standard)
	if err != nil {
		return nil, nil, fmt.Errorf("app: standard llm: %w", err)
	}

	fast, fastName := standard, cfg.Standard.Name
	if cfg.Fast.Name != "" {
		if fast, err = buildLLM(cfg.Fast); err != nil {
			return nil, nil, fmt.Errorf("app: fast llm: %w", err)
		}
		fastName = cfg.Fast.Name
	}

	sel, err := llm.NewSelector(fast, standard)
	if err != nil {
		return nil, nil, fmt.Errorf("app: llm selector: %w", err)
	}

	group := resilience.NewGroup[llm.Provider](fastName, fast, resilience.BreakerConfig{Name: "llm"})
	if fast != standard {
		group.Add(cfg.Standard.Name, standard)
	}
	return sel, group, nil
}

func buildEmbedder(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []embopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(entry.BaseURL))
		}
		return embopenai.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("app: unsupported embeddings provider %q", entry.Name)
	}
}

func buildSTT(entry config.ProviderEntry, language string) (stt.Provider, error) {
	switch entry.Name {
	case "deepgram":
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if language != "" {
			opts = append(opts, deepgram.WithLanguage(language))
		}
		return deepgram.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("app: unsupported stt provider %q", entry.Name)
	}
}

func buildTTSProvider(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "elevenlabs":
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	case "openai":
		return ttsopenai.New(entry.APIKey, entry.Model)
	default:
		return nil, fmt.Errorf("app: unsupported tts provider %q", entry.Name)
	}
}

// buildTTS assembles the synthesis chain: the primary streaming provider,
// optionally backed by a fallback that takes over when the primary delivers
// no audio in time.
func buildTTS(cfg config.TTSConfig) (tts.Provider, error) {
	primary, err := buildTTSProvider(cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("app: primary tts: %w", err)
	}
	providers := []tts.Provider{primary}

	if cfg.Fallback.Name != "" {
		fallback, err := buildTTSProvider(cfg.Fallback)
		if err != nil {
			return nil, fmt.Errorf("app: fallback tts: %w", err)
		}
		providers = append(providers, fallback)
	}

	var opts []tts.ChainOption
	if d := cfg.FirstChunkTimeout.Duration(); d > 0 {
		opts = append(opts, tts.WithFirstChunkTimeout(d))
	}
	return tts.NewChain(providers, opts...)
}
