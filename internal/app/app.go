// Package app wires configuration into the running services: the provider
// stack, the stores, the chat orchestrator, the voice controller, the job
// broker, and the HTTP surface over all of them.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/aulalabs/aula/internal/config"
	"github.com/aulalabs/aula/internal/ingest"
	"github.com/aulalabs/aula/internal/jobs"
	"github.com/aulalabs/aula/internal/observe"
	"github.com/aulalabs/aula/internal/orchestrator"
	"github.com/aulalabs/aula/internal/retrieval"
	"github.com/aulalabs/aula/internal/router"
	"github.com/aulalabs/aula/internal/store"
	"github.com/aulalabs/aula/internal/vectorstore"
	"github.com/aulalabs/aula/internal/voice"
	"github.com/aulalabs/aula/pkg/provider/llm"
	"github.com/aulalabs/aula/pkg/provider/tts"
)

// App holds every constructed service. Both the server and the worker build
// one; the worker simply ignores the surfaces it does not serve.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observe.Metrics

	Store        *store.Store
	Chunks       *vectorstore.PostgresStore
	Redis        *redis.Client
	Broker       *jobs.RedisBroker
	Selector     *llm.Selector
	Orchestrator *orchestrator.Orchestrator
	Router       *router.Router

	// Voice is nil when no STT or TTS provider is configured.
	Voice *voice.Controller

	Ingest *ingest.Pipeline
}

// New connects to the backends and wires the full service graph.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("app: redis ping: %w", err)
	}

	st, err := store.New(ctx, cfg.Database.PostgresDSN, rdb)
	if err != nil {
		return nil, fmt.Errorf("app: session store: %w", err)
	}

	chunks, err := vectorstore.NewPostgresStore(ctx, cfg.Database.PostgresDSN, cfg.Database.EmbeddingDimensions)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: vector store: %w", err)
	}

	embedder, err := buildEmbedder(cfg.Providers.Embeddings)
	if err != nil {
		st.Close()
		chunks.Close()
		return nil, err
	}

	rt := router.New(embedder,
		router.WithThreshold(cfg.Router.CourseThreshold),
		router.WithLogger(logger),
	)
	if err := rt.Warm(ctx); err != nil {
		// The router degrades to keyword classification; startup proceeds.
		logger.Warn("router warm-up failed", "error", err)
	}

	var retrOpts []retrieval.Option
	if cfg.Retrieval.TopK > 0 {
		retrOpts = append(retrOpts, retrieval.WithTopK(cfg.Retrieval.TopK))
	}
	if cfg.Retrieval.PreK > 0 {
		retrOpts = append(retrOpts, retrieval.WithPreK(cfg.Retrieval.PreK))
	}
	retriever, err := retrieval.New(embedder, chunks, retrOpts...)
	if err != nil {
		st.Close()
		chunks.Close()
		return nil, err
	}

	sel, group, err := buildLLMStack(cfg.Providers.LLM)
	if err != nil {
		st.Close()
		chunks.Close()
		return nil, err
	}

	orch, err := orchestrator.New(rt, retriever, group, st,
		orchestrator.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		chunks.Close()
		return nil, err
	}

	a := &App{
		Config:       cfg,
		Logger:       logger,
		Metrics:      observe.DefaultMetrics(),
		Store:        st,
		Chunks:       chunks,
		Redis:        rdb,
		Broker:       jobs.NewRedisBroker(rdb),
		Selector:     sel,
		Orchestrator: orch,
		Router:       rt,
		Ingest: ingest.New(sel.For(llm.RoleStandard), embedder, chunks, st,
			ingest.WithLogger(logger)),
	}

	if cfg.Providers.STT.Name != "" && cfg.Providers.TTS.Primary.Name != "" {
		if a.Voice, err = buildVoice(cfg, orch, st, logger); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func buildVoice(cfg *config.Config, orch *orchestrator.Orchestrator, st *store.Store, logger *slog.Logger) (*voice.Controller, error) {
	sttP, err := buildSTT(cfg.Providers.STT, cfg.Voice.Language)
	if err != nil {
		return nil, err
	}
	ttsP, err := buildTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, err
	}
	return voice.NewController(sttP, ttsP, orch, st, voice.Config{
		KeepAliveInterval: cfg.Voice.KeepAliveInterval.Duration(),
		IdleTimeout:       cfg.Voice.IdleTimeout.Duration(),
		Language:          cfg.Voice.Language,
		Voice: tts.Voice{
			ID:       cfg.Providers.TTS.VoiceID,
			Provider: cfg.Providers.TTS.Primary.Name,
		},
	}, voice.WithLogger(logger))
}

// NewWorkerPool builds the background worker over the app's broker with the
// ingestion handler registered.
func (a *App) NewWorkerPool() (*jobs.WorkerPool, error) {
	pool, err := jobs.NewWorkerPool(a.Broker, jobs.PoolConfig{
		Concurrency:    a.Config.Jobs.Concurrency,
		TasksPerWorker: a.Config.Jobs.TasksPerWorker,
		SoftLimit:      a.Config.Jobs.SoftTimeLimit.Duration(),
		HardLimit:      a.Config.Jobs.HardTimeLimit.Duration(),
	}, jobs.WithPoolLogger(a.Logger))
	if err != nil {
		return nil, err
	}
	if err := pool.Register(ingest.NewHandler(a.Ingest)); err != nil {
		return nil, err
	}
	return pool, nil
}

// Close releases the backend connections. Safe to call on a partially
// constructed App.
func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Chunks != nil {
		a.Chunks.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
