package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/task"
)

// Inline runs each submitted task's pipeline in its own goroutine and
// writes the terminal state itself. Goroutines are unbounded; admission
// control is left to deployments that need it.
type Inline struct {
	store  task.Store
	runner Runner

	mu      sync.Mutex
	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewInline(store task.Store, runner Runner) *Inline {
	return &Inline{store: store, runner: runner, baseCtx: context.Background()}
}

var _ Dispatcher = (*Inline)(nil)

// SetBaseContext sets the context governing in-flight pipeline runs.
// Intended to be set at process startup and cancelled during shutdown.
func (d *Inline) SetBaseContext(ctx context.Context) {
	d.mu.Lock()
	d.baseCtx = ctx
	d.mu.Unlock()
}

func (d *Inline) Submit(_ context.Context, t *task.Task, in pipeline.Input) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.process(t.ID, in)
	}()
	return nil
}

// Reconcile has nothing to pull for inline tasks; the owning goroutine
// writes the terminal state.
func (d *Inline) Reconcile(context.Context, *task.Task) error { return nil }

func (d *Inline) process(taskID string, in pipeline.Input) {
	d.mu.Lock()
	runCtx := d.baseCtx
	d.mu.Unlock()

	res, err := d.runner.Run(runCtx, in)

	// terminal writes use a fresh context so a shutdown that cancelled the
	// run still records the failure
	writeCtx := context.Background()
	if err != nil {
		log.Warn().Str("task_id", taskID).Err(err).Msg("pipeline run failed")
		if uerr := d.store.UpdateStatus(writeCtx, taskID, task.StatusFailed, err.Error()); uerr != nil {
			log.Error().Str("task_id", taskID).Err(uerr).Msg("persist failed state failed")
		}
		return
	}
	if serr := d.store.SetResult(writeCtx, taskID, res); serr != nil {
		log.Error().Str("task_id", taskID).Err(serr).Msg("persist result failed")
		return
	}
	log.Info().Str("task_id", taskID).Int("pages", res.PagesProcessed).Msg("task completed")
}

// WaitAll blocks until all in-flight pipeline goroutines finish or the
// context is done. Returns true if everything drained in time.
func (d *Inline) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
