// Package dispatch runs work off the primary goroutine and hands results back
// to it. The primary goroutine is whatever drains the MainLoop, usually the
// host's UI or event loop.
package dispatch

import (
	"context"
	"sync"
)

// MainLoop accepts callbacks to run on the primary goroutine
type MainLoop interface {
	Post(fn func())
}

// Inline runs posted callbacks immediately on the posting goroutine. Useful
// for hosts without an event loop and for tests.
type Inline struct{}

// Post runs fn now
func (Inline) Post(fn func()) { fn() }

// Queue is an unbounded FIFO of callbacks drained by the primary goroutine.
// Post never blocks.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	signal  chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Post enqueues fn
func (q *Queue) Post(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of callbacks waiting
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain runs every callback queued so far on the calling goroutine and
// returns how many ran. Callbacks posted while draining run on the next call.
func (q *Queue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Run drains the queue as callbacks arrive until ctx is done
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.Drain()
		select {
		case <-ctx.Done():
			q.Drain()
			return ctx.Err()
		case <-q.signal:
		}
	}
}
