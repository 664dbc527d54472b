// Package mock provides an in-memory Broker for worker-pool and handler
// tests. It preserves the priority/age ordering of the Redis broker and
// records the full status history of every task.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aulalabs/aula/internal/jobs"
)

// Broker is an in-memory jobs.Broker. The zero value is ready to use.
type Broker struct {
	mu       sync.Mutex
	pending  map[string][]queued
	tasks    map[string]jobs.Task
	statuses map[string]jobs.Status

	// StatusLog records every SetStatus call per task, in order.
	StatusLog map[string][]jobs.Status

	// SubmitErr, when set, is returned by Submit.
	SubmitErr error
}

var _ jobs.Broker = (*Broker)(nil)

type queued struct {
	id    string
	score float64
}

// Submit implements jobs.Broker.
func (b *Broker) Submit(_ context.Context, t jobs.Task) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SubmitErr != nil {
		return "", b.SubmitErr
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Queue == "" {
		t.Queue = jobs.QueuePDFProcessing
	}
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = time.Now()
	}

	b.init()
	b.tasks[t.ID] = t
	if t.Attempts == 0 {
		b.recordStatus(t.ID, jobs.Status{State: jobs.StatePending})
	}
	q := b.pending[t.Queue]
	q = append(q, queued{id: t.ID, score: float64(jobs.MaxPriority-t.Priority)*1e13 + float64(t.SubmittedAt.UnixMilli())})
	sort.SliceStable(q, func(i, j int) bool { return q[i].score < q[j].score })
	b.pending[t.Queue] = q
	return t.ID, nil
}

// Dequeue implements jobs.Broker by polling.
func (b *Broker) Dequeue(ctx context.Context, queues []string) (jobs.Task, error) {
	if len(queues) == 0 {
		queues = []string{jobs.QueuePDFProcessing, jobs.QueueQuizGeneration}
	}
	for {
		b.mu.Lock()
		for _, qn := range queues {
			q := b.pending[qn]
			if len(q) == 0 {
				continue
			}
			head := q[0]
			b.pending[qn] = q[1:]
			task := b.tasks[head.id]
			b.mu.Unlock()
			return task, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return jobs.Task{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// SetStatus implements jobs.Broker.
func (b *Broker) SetStatus(_ context.Context, taskID string, st jobs.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init()
	if _, ok := b.tasks[taskID]; !ok {
		return fmt.Errorf("mock: task %q: %w", taskID, jobs.ErrTaskNotFound)
	}
	b.recordStatus(taskID, st)
	return nil
}

// State implements jobs.Broker.
func (b *Broker) State(_ context.Context, taskID string) (jobs.Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.statuses[taskID]
	if !ok {
		return jobs.Status{}, fmt.Errorf("mock: task %q: %w", taskID, jobs.ErrTaskNotFound)
	}
	return st, nil
}

// History returns the recorded status transitions of a task.
func (b *Broker) History(taskID string) []jobs.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]jobs.Status, len(b.StatusLog[taskID]))
	copy(out, b.StatusLog[taskID])
	return out
}

func (b *Broker) init() {
	if b.pending == nil {
		b.pending = map[string][]queued{}
		b.tasks = map[string]jobs.Task{}
		b.statuses = map[string]jobs.Status{}
		b.StatusLog = map[string][]jobs.Status{}
	}
}

func (b *Broker) recordStatus(taskID string, st jobs.Status) {
	b.statuses[taskID] = st
	b.StatusLog[taskID] = append(b.StatusLog[taskID], st)
}
