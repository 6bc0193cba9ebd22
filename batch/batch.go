/*
Package batch turns a lazy sequence of asynchronous tasks into a lazy
sequence of their results, admitting at most a fixed number of tasks in
flight at once.

Tasks are admitted in input order, results are delivered in completion
order. When the operator is saturated, a freed slot is handed straight
to the next incoming task: one admission pairs with one consumption.
*/
package batch

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrMaxConcurrent is returned by Each if the concurrency bound is not
// positive. It is reported before any task is started.
var ErrMaxConcurrent = errors.New("batch: max concurrent must be positive")

type (
	// Task is a single asynchronous operation with an identity. The
	// identity travels unchanged into the task's Result.
	Task[T any] struct {
		ID string
		Do func(context.Context) (T, error)
	}

	// Result is the completion event of one task. Err carries the
	// task's own failure, if any. A failed task never affects the
	// results of its siblings.
	Result[T any] struct {
		ID    string
		Value T
		Err   error
	}
)

// Each starts tasks received from the input channel, keeping at most
// maxConcurrent of them in flight, and sends their results to the
// returned channel in the order tasks complete. The returned channel is
// closed once the input channel is closed and every admitted task has
// been delivered.
//
// A concurrency slot is held from the moment a task starts until its
// result has been received from the output channel. Once saturated, the
// operator admits the next task only after one completed result is
// consumed; the freed slot is immediately reused.
//
// Cancelling ctx stops admission of new tasks and is observed by tasks
// already in flight through their context argument; results that were
// not consumed before cancellation are dropped. Producers writing to
// the input channel must select on ctx themselves.
func Each[T any](ctx context.Context, tasks <-chan Task[T], maxConcurrent int) (<-chan Result[T], error) {
	if maxConcurrent <= 0 {
		return nil, ErrMaxConcurrent
	}

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	results := make(chan Result[T])
	go func() {
		defer close(results)
		var wg sync.WaitGroup
		for task := range tasks {
			if err := sem.Acquire(ctx, 1); err != nil {
				// context is done, stop admitting
				break
			}
			wg.Add(1)
			go func(t Task[T]) {
				defer wg.Done()
				defer sem.Release(1)
				value, err := t.Do(ctx)
				select {
				case results <- Result[T]{ID: t.ID, Value: value, Err: err}:
				case <-ctx.Done():
				}
			}(task)
		}
		wg.Wait()
	}()
	return results, nil
}

// Feed sends tasks to a fresh channel one by one and closes it after
// the last one, honouring ctx. It makes a slice usable as the lazy
// input of Each.
func Feed[T any](ctx context.Context, tasks []Task[T]) <-chan Task[T] {
	in := make(chan Task[T])
	go func() {
		defer close(in)
		for _, t := range tasks {
			select {
			case in <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	return in
}
