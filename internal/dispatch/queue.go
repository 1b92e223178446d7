package dispatch

import (
	"context"
	"errors"
	"time"
)

// ErrQueueEmpty is returned by Claim when no task id became available
// within the timeout.
var ErrQueueEmpty = errors.New("dispatch: queue empty")

// Queue hands admitted task ids to the worker pool. Enqueue happens once per
// task at submission; Claim removes an id for exactly one worker. Ack
// releases any claim bookkeeping once the run has been finalized.
type Queue interface {
	Enqueue(ctx context.Context, taskID string) error
	Claim(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, taskID string) error
}

// MemoryQueue is a single-process queue backed by a buffered channel. It is
// the default when no Redis URL is configured, and what tests use.
type MemoryQueue struct {
	ch chan string
}

// NewMemoryQueue creates an in-memory queue holding up to size pending ids.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, taskID string) error {
	select {
	case q.ch <- taskID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Claim(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case id := <-q.ch:
		return id, nil
	case <-timer.C:
		return "", ErrQueueEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Ack(context.Context, string) error { return nil }

var _ Queue = (*MemoryQueue)(nil)
