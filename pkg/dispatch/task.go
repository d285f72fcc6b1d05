package dispatch

import (
	"context"
	"sync"
)

// Task is the handle of one unit of dispatched work. It completes exactly
// once, with the value the work returned (the zero value if it panicked).
type Task[T any] struct {
	done   chan struct{}
	once   sync.Once
	result T
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

// Completed returns a task that is already done with v
func Completed[T any](v T) *Task[T] {
	t := newTask[T]()
	t.complete(v)
	return t
}

func (t *Task[T]) complete(v T) {
	t.once.Do(func() {
		t.result = v
		close(t.done)
	})
}

// Done is closed when the task completes
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Result returns the value and whether the task has completed, without blocking
func (t *Task[T]) Result() (T, bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until the task completes or ctx is done
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
