package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aulalabs/aula/internal/observe"
)

// ProgressFunc reports handler progress in [0, 100] with a human message.
type ProgressFunc func(progress int, message string)

// Handler executes tasks of one type.
type Handler interface {
	// Type is the task type this handler serves.
	Type() string

	// Run executes the task. report may be called at any cadence; the
	// final result is returned, not reported.
	Run(ctx context.Context, t Task, report ProgressFunc) (json.RawMessage, error)
}

const (
	// DefaultTasksPerWorker recycles a worker after this many tasks.
	DefaultTasksPerWorker = 20

	// DefaultSoftLimit logs a warning when a task runs this long.
	DefaultSoftLimit = 50 * time.Minute

	// DefaultHardLimit cancels the task outright.
	DefaultHardLimit = 60 * time.Minute

	// maxAttempts is the total tries per task: the first run plus one retry.
	maxAttempts = 2
)

// PoolConfig tunes a [WorkerPool].
type PoolConfig struct {
	// Concurrency is the number of concurrent worker loops. Each handles
	// one task at a time.
	Concurrency int

	// Queues are drained in priority order. Empty means all known queues.
	Queues []string

	// TasksPerWorker recycles a worker loop after this many tasks.
	TasksPerWorker int

	// SoftLimit and HardLimit bound one task's execution.
	SoftLimit time.Duration
	HardLimit time.Duration
}

// WorkerPool pulls tasks from a [Broker] and dispatches them to registered
// handlers. Construct with [NewWorkerPool], register handlers, then Run.
type WorkerPool struct {
	broker   Broker
	handlers map[string]Handler
	cfg      PoolConfig
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPoolLogger overrides the default logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *WorkerPool) { p.logger = l }
}

// WithPoolMetrics overrides the default metrics sink.
func WithPoolMetrics(m *observe.Metrics) PoolOption {
	return func(p *WorkerPool) { p.metrics = m }
}

// NewWorkerPool builds a pool over broker.
func NewWorkerPool(broker Broker, cfg PoolConfig, opts ...PoolOption) (*WorkerPool, error) {
	if broker == nil {
		return nil, fmt.Errorf("jobs: broker must not be nil")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TasksPerWorker <= 0 {
		cfg.TasksPerWorker = DefaultTasksPerWorker
	}
	if cfg.SoftLimit <= 0 {
		cfg.SoftLimit = DefaultSoftLimit
	}
	if cfg.HardLimit <= 0 {
		cfg.HardLimit = DefaultHardLimit
	}
	if cfg.HardLimit < cfg.SoftLimit {
		return nil, fmt.Errorf("jobs: hard limit %v below soft limit %v", cfg.HardLimit, cfg.SoftLimit)
	}
	p := &WorkerPool{
		broker:   broker,
		handlers: make(map[string]Handler),
		cfg:      cfg,
		metrics:  observe.DefaultMetrics(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Register adds a handler. Registering two handlers for one type is a
// programming error.
func (p *WorkerPool) Register(h Handler) error {
	if _, dup := p.handlers[h.Type()]; dup {
		return fmt.Errorf("jobs: duplicate handler for type %q", h.Type())
	}
	p.handlers[h.Type()] = h
	return nil
}

// Run blocks, processing tasks until ctx is cancelled.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := i
		g.Go(func() error {
			for ctx.Err() == nil {
				p.workerLife(ctx, workerID)
			}
			return ctx.Err()
		})
	}
	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// workerLife processes up to TasksPerWorker tasks, then returns so the loop
// starts fresh. Mirrors process recycling: per-task allocations and any
// handler-level caches are dropped on a known cadence.
func (p *WorkerPool) workerLife(ctx context.Context, workerID int) {
	for n := 0; n < p.cfg.TasksPerWorker; n++ {
		task, err := p.broker.Dequeue(ctx, p.cfg.Queues)
		if err != nil {
			return
		}
		p.execute(ctx, task)
	}
	p.logger.Info("recycling worker", "worker", workerID, "tasks_handled", p.cfg.TasksPerWorker)
}

// execute runs one task under the soft/hard limits and records the outcome.
func (p *WorkerPool) execute(ctx context.Context, task Task) {
	handler, ok := p.handlers[task.Type]
	if !ok {
		p.fail(ctx, task, fmt.Sprintf("no handler for task type %q", task.Type))
		return
	}

	task.Attempts++
	p.setStatus(ctx, task.ID, Status{State: StateStarted, Progress: 0, Message: "started"})

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.HardLimit)
	defer cancel()

	softTimer := time.AfterFunc(p.cfg.SoftLimit, func() {
		p.logger.Warn("task exceeded soft time limit", "task_id", task.ID, "type", task.Type, "soft_limit", p.cfg.SoftLimit)
	})
	defer softTimer.Stop()

	report := func(progress int, message string) {
		p.setStatus(ctx, task.ID, Status{State: StateStarted, Progress: progress, Message: message})
	}

	start := time.Now()
	result, err := handler.Run(runCtx, task, report)
	elapsed := time.Since(start)

	if err != nil {
		if task.Attempts < maxAttempts && ctx.Err() == nil {
			p.retry(ctx, task, err)
			return
		}
		p.logger.Error("task failed", "task_id", task.ID, "type", task.Type, "attempts", task.Attempts, "error", err)
		p.fail(ctx, task, err.Error())
		p.metrics.RecordJob(ctx, task.Type, "failure", elapsed.Seconds())
		return
	}

	p.setStatus(ctx, task.ID, Status{State: StateSuccess, Progress: 100, Message: "done", Result: result})
	p.metrics.RecordJob(ctx, task.Type, "success", elapsed.Seconds())
	p.logger.Info("task completed", "task_id", task.ID, "type", task.Type, "duration", elapsed)
}

// retry re-enqueues the task with a small submission-time penalty as jitter.
func (p *WorkerPool) retry(ctx context.Context, task Task, cause error) {
	p.logger.Warn("task attempt failed, retrying", "task_id", task.ID, "type", task.Type, "attempt", task.Attempts, "error", cause)
	p.setStatus(ctx, task.ID, Status{State: StateRetry, Message: cause.Error()})

	task.SubmittedAt = time.Now().UTC().Add(time.Duration(rand.Intn(5000)) * time.Millisecond)
	if _, err := p.broker.Submit(ctx, task); err != nil {
		p.logger.Error("requeue failed", "task_id", task.ID, "error", err)
		p.fail(ctx, task, cause.Error())
	}
}

func (p *WorkerPool) fail(ctx context.Context, task Task, msg string) {
	p.setStatus(ctx, task.ID, Status{State: StateFailure, Error: msg})
}

func (p *WorkerPool) setStatus(ctx context.Context, taskID string, st Status) {
	// Status writes survive a cancelled run context; losing the final state
	// would strand the task in "started" forever.
	if err := p.broker.SetStatus(context.WithoutCancel(ctx), taskID, st); err != nil {
		p.logger.Warn("status update failed", "task_id", taskID, "state", st.State, "error", err)
	}
}
