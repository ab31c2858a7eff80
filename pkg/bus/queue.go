package bus

import (
	"context"
	"sync"
)

// queue is a bounded FIFO whose close never races with a pending send.
//
// Senders register under mu before blocking on the channel; close flips the
// closed flag, releases blocked senders through done, waits for them to leave
// and only then closes the channel so receivers can drain what is buffered.
type queue[T any] struct {
	ch   chan T
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	senders   sync.WaitGroup
	closeOnce sync.Once
}

func newQueue[T any](capacity int) *queue[T] {
	return &queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

func (q *queue[T]) send(ctx context.Context, value T) error {
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	case q.ch <- value:
		return nil
	}
}

func (q *queue[T]) receiver() <-chan T {
	return q.ch
}

func (q *queue[T]) pending() int {
	return len(q.ch)
}

func (q *queue[T]) close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.done)
		q.mu.Unlock()

		q.senders.Wait()
		close(q.ch)
	})
}
