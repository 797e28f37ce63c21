// Package queue provides a bounded blocking FIFO used between the capture
// loop and the per-channel streaming workers.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push and Pop once the queue has been closed
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO with one producer and one consumer. Push blocks
// while the queue is full and Pop blocks while it is empty.
type Queue[T any] struct {
	items     chan T
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a queue holding at most capacity items
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
	}
}

// Push appends an item, blocking while the queue is full
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	// Check closed first so a closed queue never accepts items even if
	// there is room in the buffer.
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the oldest item, blocking while the queue is empty. After
// Close, Pop hands out the items still buffered and then returns ErrClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	select {
	case item := <-q.items:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.items:
			return item, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryPop removes the oldest buffered item without blocking. It reports
// false when nothing is buffered, closed or not.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Close marks the queue closed and wakes any blocked Push or Pop. Safe to
// call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Closed reports whether Close has been called
func (q *Queue[T]) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the queue is closed
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}
