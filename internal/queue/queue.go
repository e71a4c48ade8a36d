// Package queue provides the unbounded FIFO shared by the pool workers.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Put and Get once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded, thread-safe FIFO.
//
// Put never blocks. Get blocks until an item is available, the queue is
// closed or the context is done. A closed queue cannot be reopened.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Put appends v to the back of the queue.
func (q *Queue[T]) Put(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.items = append(q.items, v)
	q.notify()

	return nil
}

// TryGet removes the front item without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	v := q.items[0]
	// release the reference held by the backing array
	q.items[0] = zero
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
		// the signal coalesces, so pass it on to the next waiter
		q.notify()
	}

	return v, true
}

// Get removes the front item, waiting for one if the queue is empty.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		if v, ok := q.TryGet(); ok {
			return v, nil
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed, wakes every waiter and returns the items
// that were never taken. Subsequent calls return nil.
func (q *Queue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	leftovers := q.items
	q.items = nil
	close(q.signal)

	return leftovers
}

// notify must be called with mu held.
func (q *Queue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
