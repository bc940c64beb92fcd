// Package serial provides a FIFO asynchronous mutual-exclusion primitive.
//
// All action store mutations, flushes and exports of one test session are
// routed through one shared Executor, so queue integrity holds without
// explicit locks in the store itself.
package serial

import (
	"context"
	"sync"
)

// Executor runs submitted tasks to completion one at a time, in
// submission order, regardless of how many goroutines submit
// concurrently. The zero value is ready to use.
type Executor struct {
	mu   sync.Mutex
	tail chan struct{}
}

// Serie submits a task and blocks until it has run (or was skipped due
// to context cancellation). Tasks run in strict submission order.
//
// Cancelling the context while queued does not break the chain: the
// caller still waits for its predecessors, then skips the task and
// returns ctx.Err(). A task that has started is never interrupted by
// the executor; teardown must let the current task finish so a
// partially-sent queue is not lost.
func (e *Executor) Serie(ctx context.Context, task func(context.Context) error) error {
	done := make(chan struct{})

	e.mu.Lock()
	prev := e.tail
	e.tail = done
	e.mu.Unlock()

	defer close(done)

	if prev != nil {
		<-prev
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return task(ctx)
}

// Run is the result-returning form of Serie.
func Run[T any](e *Executor, ctx context.Context, task func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Serie(ctx, func(ctx context.Context) error {
		var taskErr error
		out, taskErr = task(ctx)
		return taskErr
	})
	return out, err
}
