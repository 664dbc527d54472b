package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "mistral", "groq"},
	"stt":        {"deepgram"},
	"tts":        {"elevenlabs", "openai"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path, expands ${VAR} environment
// references, and returns a validated [Config].
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals. Environment expansion is the caller's concern.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tunables with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Database.EmbeddingDimensions <= 0 {
		cfg.Database.EmbeddingDimensions = 1536
	}
	if cfg.Router.CourseThreshold <= 0 {
		cfg.Router.CourseThreshold = 0.6
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.PreK <= 0 {
		cfg.Retrieval.PreK = 10
	}
	if cfg.Voice.KeepAliveInterval <= 0 {
		cfg.Voice.KeepAliveInterval = Duration(30 * time.Second)
	}
	if cfg.Voice.IdleTimeout <= 0 {
		cfg.Voice.IdleTimeout = Duration(5 * time.Minute)
	}
	if cfg.Jobs.Concurrency <= 0 {
		cfg.Jobs.Concurrency = 1
	}
	if cfg.Jobs.TasksPerWorker <= 0 {
		cfg.Jobs.TasksPerWorker = 20
	}
	if cfg.Jobs.SoftTimeLimit <= 0 {
		cfg.Jobs.SoftTimeLimit = Duration(50 * time.Minute)
	}
	if cfg.Jobs.HardTimeLimit <= 0 {
		cfg.Jobs.HardTimeLimit = Duration(60 * time.Minute)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Standard.Name)
	validateProviderName("llm", cfg.Providers.LLM.Fast.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Primary.Name)
	validateProviderName("tts", cfg.Providers.TTS.Fallback.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Standard.Name == "" {
		errs = append(errs, errors.New("providers.llm.standard is required"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings is required"))
	}
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}
	if cfg.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}

	if cfg.Providers.TTS.Primary.Name != "" && cfg.Providers.TTS.VoiceID == "" {
		errs = append(errs, errors.New("providers.tts.voice_id is required when a TTS provider is configured"))
	}
	if cfg.Providers.STT.Name == "" && cfg.Providers.TTS.Primary.Name != "" {
		slog.Warn("providers.tts is configured but providers.stt is not; the voice surface will be disabled")
	}

	if cfg.Router.CourseThreshold >= 1 {
		errs = append(errs, fmt.Errorf("router.course_threshold %.2f is out of range (0, 1)", cfg.Router.CourseThreshold))
	}
	if cfg.Retrieval.PreK < cfg.Retrieval.TopK {
		errs = append(errs, fmt.Errorf("retrieval.pre_k %d must be >= retrieval.top_k %d", cfg.Retrieval.PreK, cfg.Retrieval.TopK))
	}
	if cfg.Jobs.HardTimeLimit < cfg.Jobs.SoftTimeLimit {
		errs = append(errs, fmt.Errorf("jobs.hard_time_limit %s must be >= jobs.soft_time_limit %s", cfg.Jobs.HardTimeLimit, cfg.Jobs.SoftTimeLimit))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
