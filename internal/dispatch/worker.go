package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// NewOCRHandler returns the asynq handler that executes a delegated
// pipeline run. The result travels back through the queue's result
// storage; Reconcile on the API side materializes it into the task store.
func NewOCRHandler(runner Runner) asynq.HandlerFunc {
	return func(ctx context.Context, at *asynq.Task) error {
		var p jobPayload
		if err := json.Unmarshal(at.Payload(), &p); err != nil {
			return fmt.Errorf("decode job payload: %v: %w", err, asynq.SkipRetry)
		}
		log.Info().Str("task_id", p.TaskID).Str("upload", p.Input.UploadPath).Msg("worker picked up job")

		res, err := runner.Run(ctx, p.Input)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		b, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		if _, err := at.ResultWriter().Write(b); err != nil {
			return fmt.Errorf("write job result: %w", err)
		}
		return nil
	}
}
