package eventbus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a receive on a closed, drained queue.
var ErrClosed = errors.New("eventbus: closed")

// queue is an unbounded FIFO with a single reader. push never blocks.
type queue[T any] struct {
	mu       sync.Mutex
	items    []T
	closed   bool
	ready    chan struct{} // cap 1, signalled on push
	done     chan struct{} // closed once by close/discard
	doneOnce sync.Once
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push appends v. It reports false when the queue no longer accepts items.
func (q *queue[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until an item is available, the queue is closed and drained, or
// ctx is done.
func (q *queue[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// close stops accepting items. Items already queued remain readable.
func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.doneOnce.Do(func() { close(q.done) })
}

// discard closes the queue and drops anything still queued.
func (q *queue[T]) discard() int {
	q.mu.Lock()
	q.closed = true
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()
	q.doneOnce.Do(func() { close(q.done) })
	return n
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
