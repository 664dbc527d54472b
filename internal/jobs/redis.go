package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aulalabs/aula/internal/observe"
)

const (
	// queueKeyFmt is the sorted set holding pending task IDs per queue.
	queueKeyFmt = "aula:queue:%s"

	// taskKeyFmt is the hash holding one task's record and status.
	taskKeyFmt = "aula:task:%s"

	// fieldTask and fieldStatus are the hash fields.
	fieldTask   = "task"
	fieldStatus = "status"

	// pollInterval is how often an idle Dequeue re-checks its queues.
	pollInterval = 500 * time.Millisecond

	// doneTTL keeps finished task records queryable for a week.
	doneTTL = 7 * 24 * time.Hour
)

// RedisBroker implements [Broker] on Redis: a ZSET per queue ordered by
// [score], and one hash per task.
type RedisBroker struct {
	rdb     *redis.Client
	metrics *observe.Metrics
	logger  *slog.Logger
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker wraps the given client. The client is owned by the caller.
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{
		rdb:     rdb,
		metrics: observe.DefaultMetrics(),
		logger:  slog.Default(),
	}
}

// Submit implements [Broker].
func (b *RedisBroker) Submit(ctx context.Context, t Task) (string, error) {
	if t.Type == "" {
		return "", fmt.Errorf("jobs: task type must not be empty")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Queue == "" {
		t.Queue = QueuePDFProcessing
	}
	t.Priority = clampPriority(t.Priority)
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = time.Now().UTC()
	}

	taskJSON, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("jobs: marshal task: %w", err)
	}
	statusJSON, err := json.Marshal(Status{State: StatePending})
	if err != nil {
		return "", fmt.Errorf("jobs: marshal status: %w", err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, taskKey(t.ID), fieldTask, taskJSON)
	if t.Attempts == 0 {
		// A requeued retry keeps its "retry" status until the next attempt
		// starts; only fresh submissions begin as pending.
		pipe.HSet(ctx, taskKey(t.ID), fieldStatus, statusJSON)
	}
	pipe.Persist(ctx, taskKey(t.ID))
	pipe.ZAdd(ctx, queueKey(t.Queue), redis.Z{Score: score(t.Priority, t.SubmittedAt), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("jobs: submit: %w", err)
	}

	b.metrics.QueueDepth.Add(ctx, 1)
	b.logger.Debug("task submitted", "task_id", t.ID, "queue", t.Queue, "type", t.Type, "priority", t.Priority)
	return t.ID, nil
}

// Dequeue implements [Broker]. Queues are drained in the given order; within
// a queue the lowest score (highest priority, oldest) pops first.
func (b *RedisBroker) Dequeue(ctx context.Context, queues []string) (Task, error) {
	if len(queues) == 0 {
		queues = []string{QueuePDFProcessing, QueueQuizGeneration}
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for _, q := range queues {
			task, ok, err := b.tryPop(ctx, q)
			if err != nil {
				return Task{}, err
			}
			if ok {
				return task, nil
			}
		}
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// tryPop pops one task from q, if any.
func (b *RedisBroker) tryPop(ctx context.Context, q string) (Task, bool, error) {
	members, err := b.rdb.ZPopMin(ctx, queueKey(q), 1).Result()
	if err != nil {
		return Task{}, false, fmt.Errorf("jobs: pop %s: %w", q, err)
	}
	if len(members) == 0 {
		return Task{}, false, nil
	}
	taskID, _ := members[0].Member.(string)
	b.metrics.QueueDepth.Add(ctx, -1)

	raw, err := b.rdb.HGet(ctx, taskKey(taskID), fieldTask).Result()
	if err != nil {
		return Task{}, false, fmt.Errorf("jobs: load task %s: %w", taskID, err)
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Task{}, false, fmt.Errorf("jobs: decode task %s: %w", taskID, err)
	}
	return t, true, nil
}

// SetStatus implements [Broker]. Terminal statuses start the retention TTL.
func (b *RedisBroker) SetStatus(ctx context.Context, taskID string, st Status) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("jobs: marshal status: %w", err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, taskKey(taskID), fieldStatus, raw)
	if st.terminal() {
		pipe.Expire(ctx, taskKey(taskID), doneTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobs: set status: %w", err)
	}
	return nil
}

// State implements [Broker].
func (b *RedisBroker) State(ctx context.Context, taskID string) (Status, error) {
	raw, err := b.rdb.HGet(ctx, taskKey(taskID), fieldStatus).Result()
	if err == redis.Nil {
		return Status{}, fmt.Errorf("jobs: task %q: %w", taskID, ErrTaskNotFound)
	}
	if err != nil {
		return Status{}, fmt.Errorf("jobs: get status: %w", err)
	}
	var st Status
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return Status{}, fmt.Errorf("jobs: decode status: %w", err)
	}
	return st, nil
}

func queueKey(q string) string { return fmt.Sprintf(queueKeyFmt, q) }
func taskKey(id string) string { return fmt.Sprintf(taskKeyFmt, id) }
