package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aulalabs/aula/internal/jobs"
	"github.com/aulalabs/aula/internal/jobs/mock"
)

// scriptedHandler runs fn with the 1-based run count, tracking invocations.
type scriptedHandler struct {
	typ string
	fn  func(ctx context.Context, run int, t jobs.Task, report jobs.ProgressFunc) (json.RawMessage, error)

	mu   sync.Mutex
	runs int
}

func (h *scriptedHandler) Type() string { return h.typ }

func (h *scriptedHandler) Run(ctx context.Context, t jobs.Task, report jobs.ProgressFunc) (json.RawMessage, error) {
	h.mu.Lock()
	h.runs++
	run := h.runs
	h.mu.Unlock()
	return h.fn(ctx, run, t, report)
}

func (h *scriptedHandler) runCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

// runUntilTerminal starts the pool, waits until every listed task reaches a
// terminal state, then stops the pool and returns the final statuses.
func runUntilTerminal(t *testing.T, pool *jobs.WorkerPool, broker *mock.Broker, taskIDs ...string) map[string]jobs.Status {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	final := make(map[string]jobs.Status, len(taskIDs))
	for len(final) < len(taskIDs) {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("tasks not terminal after 5s: have %d of %d", len(final), len(taskIDs))
		case <-time.After(5 * time.Millisecond):
		}
		for _, id := range taskIDs {
			if _, ok := final[id]; ok {
				continue
			}
			st, err := broker.State(context.Background(), id)
			if err != nil {
				continue
			}
			if st.State == jobs.StateSuccess || st.State == jobs.StateFailure {
				final[id] = st
			}
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v after cancel, want nil", err)
	}
	return final
}

func submit(t *testing.T, broker *mock.Broker, task jobs.Task) string {
	t.Helper()
	id, err := broker.Submit(context.Background(), task)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id
}

func TestHandlerSuccessWithProgress(t *testing.T) {
	broker := &mock.Broker{}
	handler := &scriptedHandler{
		typ: "pdf_processing",
		fn: func(_ context.Context, _ int, _ jobs.Task, report jobs.ProgressFunc) (json.RawMessage, error) {
			report(40, "extracting text")
			return json.RawMessage(`{"course_id":"c1"}`), nil
		},
	}
	pool, err := jobs.NewWorkerPool(broker, jobs.PoolConfig{Concurrency: 1})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	if err := pool.Register(handler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	id := submit(t, broker, jobs.Task{Type: "pdf_processing", Priority: 5})
	final := runUntilTerminal(t, pool, broker, id)

	st := final[id]
	if st.State != jobs.StateSuccess {
		t.Fatalf("state = %s, want success (error %q)", st.State, st.Error)
	}
	if st.Progress != 100 {
		t.Errorf("progress = %d, want 100", st.Progress)
	}
	if string(st.Result) != `{"course_id":"c1"}` {
		t.Errorf("result = %s", st.Result)
	}

	var sawProgress bool
	for _, s := range broker.History(id) {
		if s.State == jobs.StateStarted && s.Progress == 40 && s.Message == "extracting text" {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Errorf("progress report not recorded: %+v", broker.History(id))
	}
}

func TestRetryThenSuccess(t *testing.T) {
	broker := &mock.Broker{}
	handler := &scriptedHandler{
		typ: "pdf_processing",
		fn: func(_ context.Context, run int, _ jobs.Task, _ jobs.ProgressFunc) (json.RawMessage, error) {
			if run == 1 {
				return nil, errors.New("transient extraction error")
			}
			return json.RawMessage(`"ok"`), nil
		},
	}
	pool, _ := jobs.NewWorkerPool(broker, jobs.PoolConfig{Concurrency: 1})
	pool.Register(handler)

	id := submit(t, broker, jobs.Task{Type: "pdf_processing"})
	final := runUntilTerminal(t, pool, broker, id)

	if st := final[id]; st.State != jobs.StateSuccess {
		t.Fatalf("state = %s, want success (error %q)", st.State, st.Error)
	}
	if got := handler.runCount(); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}

	var sawRetry bool
	for _, s := range broker.History(id) {
		if s.State == jobs.StateRetry {
			sawRetry = true
			if !strings.Contains(s.Message, "transient extraction error") {
				t.Errorf("retry message = %q", s.Message)
			}
		}
	}
	if !sawRetry {
		t.Errorf("no retry status recorded: %+v", broker.History(id))
	}
}

func TestFailureAfterRetryExhausted(t *testing.T) {
	broker := &mock.Broker{}
	handler := &scriptedHandler{
		typ: "pdf_processing",
		fn: func(_ context.Context, _ int, _ jobs.Task, _ jobs.ProgressFunc) (json.RawMessage, error) {
			return nil, errors.New("corrupt document")
		},
	}
	pool, _ := jobs.NewWorkerPool(broker, jobs.PoolConfig{Concurrency: 1})
	pool.Register(handler)

	id := submit(t, broker, jobs.Task{Type: "pdf_processing"})
	final := runUntilTerminal(t, pool, broker, id)

	st := final[id]
	if st.State != jobs.StateFailure {
		t.Fatalf("state = %s, want failure", st.State)
	}
	if !strings.Contains(st.Error, "corrupt document") {
		t.Errorf("error = %q", st.Error)
	}
	if got := handler.runCount(); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}
}

func TestUnknownTaskTypeFails(t *testing.T) {
	broker := &mock.Broker{}
	pool, _ := jobs.NewWorkerPool(broker, jobs.PoolConfig{Concurrency: 1})

	id := submit(t, broker, jobs.Task{Type: "quiz_generation"})
	final := runUntilTerminal(t, pool, broker, id)

	st := final[id]
	if st.State != jobs.StateFailure {
		t.Fatalf("state = %s, want failure", st.State)
	}
	if !strings.Contains(st.Error, "no handler") {
		t.Errorf("error = %q, want mention of missing handler", st.Error)
	}
}

func TestHardLimitCancelsTask(t *testing.T) {
	broker := &mock.Broker{}
	handler := &scriptedHandler{
		typ: "pdf_processing",
		fn: func(ctx context.Context, _ int, _ jobs.Task, _ jobs.ProgressFunc) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	pool, err := jobs.NewWorkerPool(broker, jobs.PoolConfig{
		Concurrency: 1,
		SoftLimit:   10 * time.Millisecond,
		HardLimit:   25 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	pool.Register(handler)

	id := submit(t, broker, jobs.Task{Type: "pdf_processing"})
	final := runUntilTerminal(t, pool, broker, id)

	st := final[id]
	if st.State != jobs.StateFailure {
		t.Fatalf("state = %s, want failure", st.State)
	}
	if !strings.Contains(st.Error, context.DeadlineExceeded.Error()) {
		t.Errorf("error = %q, want deadline exceeded", st.Error)
	}
	// First attempt times out, retries once, times out again.
	if got := handler.runCount(); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}
}

func TestWorkerRecyclingKeepsProcessing(t *testing.T) {
	broker := &mock.Broker{}
	handler := &scriptedHandler{
		typ: "pdf_processing",
		fn: func(_ context.Context, _ int, _ jobs.Task, _ jobs.ProgressFunc) (json.RawMessage, error) {
			return json.RawMessage(`"ok"`), nil
		},
	}
	pool, _ := jobs.NewWorkerPool(broker, jobs.PoolConfig{Concurrency: 1, TasksPerWorker: 1})
	pool.Register(handler)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, submit(t, broker, jobs.Task{Type: "pdf_processing"}))
	}
	final := runUntilTerminal(t, pool, broker, ids...)

	for _, id := range ids {
		if st := final[id]; st.State != jobs.StateSuccess {
			t.Errorf("task %s state = %s, want success", id, st.State)
		}
	}
}

func TestPriorityOrderAcrossTasks(t *testing.T) {
	broker := &mock.Broker{}

	var mu sync.Mutex
	var order []string
	handler := &scriptedHandler{
		typ: "pdf_processing",
		fn: func(_ context.Context, _ int, task jobs.Task, _ jobs.ProgressFunc) (json.RawMessage, error) {
			mu.Lock()
			order = append(order, task.JobID)
			mu.Unlock()
			return json.RawMessage(`"ok"`), nil
		},
	}
	pool, _ := jobs.NewWorkerPool(broker, jobs.PoolConfig{Concurrency: 1})
	pool.Register(handler)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i, tk := range []jobs.Task{
		{JobID: "low", Type: "pdf_processing", Priority: 2},
		{JobID: "high", Type: "pdf_processing", Priority: 9},
		{JobID: "mid", Type: "pdf_processing", Priority: 5},
	} {
		tk.SubmittedAt = base.Add(time.Duration(i) * time.Second)
		ids = append(ids, submit(t, broker, tk))
	}
	runUntilTerminal(t, pool, broker, ids...)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "mid", "low"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("execution order = %v, want %v", order, want)
	}
}

func TestRegisterDuplicateHandler(t *testing.T) {
	broker := &mock.Broker{}
	pool, _ := jobs.NewWorkerPool(broker, jobs.PoolConfig{})

	h := &scriptedHandler{typ: "pdf_processing", fn: nil}
	if err := pool.Register(h); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := pool.Register(h); err == nil {
		t.Fatal("second Register succeeded, want error")
	}
}

func TestNewWorkerPoolRejectsInvertedLimits(t *testing.T) {
	_, err := jobs.NewWorkerPool(&mock.Broker{}, jobs.PoolConfig{
		SoftLimit: time.Hour,
		HardLimit: time.Minute,
	})
	if err == nil {
		t.Fatal("want error for hard limit below soft limit")
	}
}

func TestNewWorkerPoolRequiresBroker(t *testing.T) {
	if _, err := jobs.NewWorkerPool(nil, jobs.PoolConfig{}); err == nil {
		t.Fatal("want error for nil broker")
	}
}
