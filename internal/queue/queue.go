// Package queue is the bounded handoff between the telemetry side and the
// publisher. The capacity bound is the only backpressure: producers never
// wait longer than they ask to.
package queue

import (
	"context"
	"time"
)

// DefaultCapacity matches the agent's historical backlog limit for
// one-per-second samples.
const DefaultCapacity = 10

// Queue is a fixed-capacity FIFO safe for concurrent use.
type Queue[T any] struct {
	items chan T
}

// New returns a queue holding at most capacity items. Non-positive
// capacities fall back to DefaultCapacity.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{items: make(chan T, capacity)}
}

// TryEnqueue adds v if there is room and reports whether it did.
func (q *Queue[T]) TryEnqueue(v T) bool {
	select {
	case q.items <- v:
		return true
	default:
		return false
	}
}

// EnqueueWithin waits at most d for room. It gives up early if ctx ends.
func (q *Queue[T]) EnqueueWithin(ctx context.Context, v T, d time.Duration) bool {
	if q.TryEnqueue(v) {
		return true
	}
	if d <= 0 {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case q.items <- v:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Dequeue blocks until an item is available or ctx is done.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	select {
	case v := <-q.items:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (q *Queue[T]) Len() int { return len(q.items) }

func (q *Queue[T]) Cap() int { return cap(q.items) }
