// Package dispatch runs a task's pipeline to its terminal state. Two
// interchangeable strategies sit behind one contract: Inline spawns a
// goroutine per task, Queue hands the pipeline to an external job queue
// and materializes the outcome lazily when Reconcile is called from the
// read path. Whichever side observes completion first performs the single
// terminal write; the store makes re-writing the same terminal state a
// no-op.
package dispatch

import (
	"context"

	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/task"
)

// Runner executes one pipeline run. Satisfied by *pipeline.Pipeline; tests
// inject fakes.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*task.Result, error)
}

// Dispatcher is the capability set shared by both execution strategies.
// Submit returns immediately; the task is already marked processing by the
// caller. Reconcile pulls a delegated job's terminal state into the task
// store and is a no-op for the inline strategy.
type Dispatcher interface {
	Submit(ctx context.Context, t *task.Task, in pipeline.Input) error
	Reconcile(ctx context.Context, t *task.Task) error
}
