// Package task runs a long operation in the background with progress
// reporting, cancellation and a typed result.
package task

import (
	"context"
	"sync"
)

const progressBuffer = 64

// Progress is a snapshot of how far a task has got. Err carries the failure
// of the item just processed, if any.
type Progress struct {
	Done  int
	Total int
	Item  string
	Err   error
}

// Reporter publishes progress. It never blocks; updates are dropped when the
// consumer falls behind.
type Reporter func(Progress)

type Task[T any] struct {
	cancel   context.CancelFunc
	progress chan Progress
	done     chan struct{}

	mu     sync.Mutex
	closed bool

	result T
	err    error
}

// Start runs fn on its own goroutine. The context passed to fn is cancelled
// by Cancel or when ctx ends.
func Start[T any](ctx context.Context, fn func(ctx context.Context, report Reporter) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task[T]{
		cancel:   cancel,
		progress: make(chan Progress, progressBuffer),
		done:     make(chan struct{}),
	}

	go func() {
		defer cancel()
		result, err := fn(ctx, t.report)

		t.mu.Lock()
		t.result = result
		t.err = err
		t.closed = true
		close(t.progress)
		t.mu.Unlock()

		close(t.done)
	}()

	return t
}

func (t *Task[T]) report(p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.progress <- p:
	default:
	}
}

// Progress is closed once the task has finished.
func (t *Task[T]) Progress() <-chan Progress {
	return t.progress
}

func (t *Task[T]) Cancel() {
	t.cancel()
}

func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its result.
func (t *Task[T]) Wait() (T, error) {
	<-t.done
	return t.result, t.err
}
