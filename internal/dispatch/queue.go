package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/task"
)

// TypeOCRProcess is the queue task type for one document pipeline run.
const TypeOCRProcess = "ocr:process"

const defaultResultRetention = 24 * time.Hour

type jobPayload struct {
	TaskID string         `json:"task_id"`
	Input  pipeline.Input `json:"input"`
}

// jobEnqueuer and jobInspector are the slices of the asynq client and
// inspector the dispatcher needs; tests inject fakes behind them.
type jobEnqueuer interface {
	EnqueueContext(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type jobInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// Queue delegates pipeline runs to an asynq-backed worker fleet. Submit
// only enqueues and records the job id; the terminal state reaches the
// task store when a status or result read triggers Reconcile, so status
// may lag the true worker state until the next poll.
type Queue struct {
	client    jobEnqueuer
	inspector jobInspector
	store     task.Store
	queue     string
	retention time.Duration
}

func NewQueue(redisOpt asynq.RedisClientOpt, store task.Store, queueName string) *Queue {
	if queueName == "" {
		queueName = "default"
	}
	return &Queue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		store:     store,
		queue:     queueName,
		retention: defaultResultRetention,
	}
}

var _ Dispatcher = (*Queue)(nil)

func (d *Queue) Submit(ctx context.Context, t *task.Task, in pipeline.Input) error {
	payload, err := json.Marshal(jobPayload{TaskID: t.ID, Input: in})
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	// MaxRetry 0: a failed run archives immediately, no automatic retries
	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(TypeOCRProcess, payload),
		asynq.Queue(d.queue),
		asynq.MaxRetry(0),
		asynq.Retention(d.retention),
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	t.ExternalJobID = info.ID
	if err := d.store.SetExternalJobID(ctx, t.ID, info.ID); err != nil {
		return fmt.Errorf("record job id: %w", err)
	}
	log.Info().Str("task_id", t.ID).Str("job_id", info.ID).Msg("pipeline delegated to queue")
	return nil
}

// Reconcile queries the external job and, when it has finished, performs
// the task's terminal write. A still-pending job leaves the task
// untouched. The passed task is updated in place on a transition.
func (d *Queue) Reconcile(ctx context.Context, t *task.Task) error {
	if t.Status != task.StatusProcessing || t.ExternalJobID == "" {
		return nil
	}
	info, err := d.inspector.GetTaskInfo(d.queue, t.ExternalJobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return d.fail(ctx, t, "external job no longer exists")
		}
		return fmt.Errorf("poll job %s: %w", t.ExternalJobID, err)
	}

	switch info.State {
	case asynq.TaskStateCompleted:
		var res task.Result
		if err := json.Unmarshal(info.Result, &res); err != nil {
			return d.fail(ctx, t, "external job returned an invalid result")
		}
		if err := d.store.SetResult(ctx, t.ID, &res); err != nil {
			return fmt.Errorf("store delegated result: %w", err)
		}
		t.Status = task.StatusCompleted
		t.Error = ""
		log.Info().Str("task_id", t.ID).Int("pages", res.PagesProcessed).Msg("delegated task completed")
	case asynq.TaskStateArchived:
		msg := info.LastErr
		if msg == "" {
			msg = "external job failed"
		}
		return d.fail(ctx, t, msg)
	default:
		// pending, active, scheduled: not our turn yet
	}
	return nil
}

func (d *Queue) fail(ctx context.Context, t *task.Task, msg string) error {
	if err := d.store.UpdateStatus(ctx, t.ID, task.StatusFailed, msg); err != nil {
		return fmt.Errorf("store delegated failure: %w", err)
	}
	t.Status = task.StatusFailed
	t.Error = msg
	log.Warn().Str("task_id", t.ID).Str("error", msg).Msg("delegated task failed")
	return nil
}

func (d *Queue) Close() error {
	return d.client.Close()
}
