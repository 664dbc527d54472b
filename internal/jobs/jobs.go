// Package jobs provides the background task queue: Redis-backed priority
// queues, observable task state, and a worker pool with process recycling
// and soft/hard time limits.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Queue names. PDF ingestion is the default queue.
const (
	QueuePDFProcessing  = "pdf_processing"
	QueueQuizGeneration = "quiz_generation"
)

// Priority bounds. Higher runs earlier.
const (
	MinPriority = 1
	MaxPriority = 10
)

// TaskState is the observable lifecycle of one task.
type TaskState string

const (
	StatePending TaskState = "pending"
	StateStarted TaskState = "started"
	StateSuccess TaskState = "success"
	StateFailure TaskState = "failure"
	StateRetry   TaskState = "retry"
)

// ErrTaskNotFound is returned by State for unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// Task is one unit of queued work. JobID is assigned by the submitter;
// ID is assigned by the queue on submission.
type Task struct {
	ID          string          `json:"task_id"`
	JobID       string          `json:"job_id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Priority    int             `json:"priority"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Status is the queryable state of a task.
type Status struct {
	State    TaskState       `json:"state"`
	Progress int             `json:"progress"`
	Message  string          `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// terminal reports whether no further transitions can occur.
func (s Status) terminal() bool {
	return s.State == StateSuccess || s.State == StateFailure
}

// Broker is the queue backend. The Redis implementation is [RedisBroker];
// tests substitute an in-memory one.
type Broker interface {
	// Submit enqueues the task and returns its queue-assigned ID. Submission
	// never blocks on queue depth.
	Submit(ctx context.Context, t Task) (string, error)

	// Dequeue pops the highest-priority, oldest task across the given
	// queues, blocking (by polling) until one is available or ctx ends.
	Dequeue(ctx context.Context, queues []string) (Task, error)

	// SetStatus records the task's observable state.
	SetStatus(ctx context.Context, taskID string, st Status) error

	// State returns the task's current status.
	State(ctx context.Context, taskID string) (Status, error)
}

// clampPriority forces p into [MinPriority, MaxPriority].
func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// score orders queue members: higher priority pops first, ties break oldest
// first. One priority step (1e13) outweighs any Unix-millisecond timestamp
// (~1.7e12), and the largest possible score stays well inside float64's
// exact-integer range.
func score(priority int, submittedAt time.Time) float64 {
	const priorityStride = 1e13
	return float64(MaxPriority-clampPriority(priority))*priorityStride + float64(submittedAt.UnixMilli())
}
