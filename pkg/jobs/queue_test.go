package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	mu    sync.Mutex
	seen  []string
	gate  chan struct{}
	fails map[string]int
	done  chan string
}

func (h *countingHandler) handle(ctx context.Context, job Job) error {
	h.mu.Lock()
	h.seen = append(h.seen, job.ID)
	h.mu.Unlock()
	if h.gate != nil {
		<-h.gate
	}
	if h.fails != nil {
		h.mu.Lock()
		remaining := h.fails[job.ID]
		if remaining > 0 {
			h.fails[job.ID] = remaining - 1
			h.mu.Unlock()
			return fmt.Errorf("transient failure")
		}
		h.mu.Unlock()
	}
	if h.done != nil {
		h.done <- job.ID
	}
	return nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func TestQueueProcessesJobs(t *testing.T) {
	handler := &countingHandler{done: make(chan string, 8)}
	q := NewQueue("test", handler.handle, QueueConfig{Workers: 2, BufferSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "work"}))
	require.NoError(t, q.Enqueue(Job{ID: "job-2", Type: "work"}))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-handler.done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	require.True(t, seen["job-1"])
	require.True(t, seen["job-2"])
}

func TestQueueRejectsDuplicatePendingID(t *testing.T) {
	handler := &countingHandler{gate: make(chan struct{}), done: make(chan string, 8)}
	q := NewQueue("test", handler.handle, QueueConfig{Workers: 1, BufferSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "work"}))
	require.ErrorIs(t, q.Enqueue(Job{ID: "job-1", Type: "work"}), ErrDuplicate)

	close(handler.gate)
	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestQueueReleasesIDAfterCompletion(t *testing.T) {
	handler := &countingHandler{done: make(chan string, 8)}
	q := NewQueue("test", handler.handle, QueueConfig{Workers: 1, BufferSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "work"}))
	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}

	// The first run finished, so the ID is free again.
	require.Eventually(t, func() bool {
		return q.Enqueue(Job{ID: "job-1", Type: "work"}) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	handler := &countingHandler{
		fails: map[string]int{"job-1": 1},
		done:  make(chan string, 8),
	}
	q := NewQueue("test", handler.handle, QueueConfig{
		Workers:    1,
		BufferSize: 8,
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "work"}))
	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retry")
	}
	require.Equal(t, 2, handler.count())
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "job-1"}))
}
