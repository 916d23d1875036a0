package task

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close, and by Pop once a closed queue
// has been emptied.
var ErrClosed = errors.New("task: queue closed")

// compactThreshold bounds how many consumed slots may pile up at the front of
// the backing slice before it is copied down.
const compactThreshold = 1024

// Queue is an unbounded multi-producer multi-consumer FIFO.
//
// Push never blocks. Pop blocks until an item, Close, or context cancellation.
// Waiters are woken through a one-slot token channel: a producer drops a token
// after appending, and a consumer that leaves items behind passes the token
// on, so every item has a woken consumer and no wakeup can be lost between the
// emptiness check and the wait.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool

	ready chan struct{}
	done  chan struct{}
}

// NewQueue returns an empty open queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends v at the tail and wakes a waiter.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Pop removes and returns the head, blocking while the queue is empty.
// Items still queued at Close are handed out before ErrClosed is returned.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if q.size() > 0 {
			v := q.take()
			more := q.size() > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop removes the head without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size() == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// Len returns a snapshot of the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size()
}

// Close stops accepting items and releases blocked consumers. Idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// size and take require q.mu.
func (q *Queue[T]) size() int {
	return len(q.items) - q.head
}

func (q *Queue[T]) take() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v
}
