package task

import "context"

// Store abstracts persistence for task metadata and the result blob.
// Every status, error and result write is atomic as a unit: a reader never
// observes status=failed without its error, nor status=completed without a
// result. Implementations enforce the status state machine; callers cannot
// move a terminal task anywhere. Default implementation is the in-memory
// map, the Redis-backed store serves durable deployments behind the same
// interface.
type Store interface {
	// Create persists a new task record. The task arrives already in
	// status=processing (the ingest path marks it optimistically).
	Create(ctx context.Context, t *Task) error

	// Get returns the task or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// UpdateStatus moves the task to a terminal status. For StatusFailed a
	// non-empty errMsg is required and stored with it atomically.
	// StatusCompleted must go through SetResult instead.
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error

	// SetResult stores the result and flips status to completed in one
	// atomic write. Calling it again on an already completed task is a
	// no-op, so a late Reconcile cannot clobber a finished inline run.
	SetResult(ctx context.Context, id string, res *Result) error

	// Result returns the stored result, ErrNoResult when the task exists
	// without one, or ErrNotFound.
	Result(ctx context.Context, id string) (*Result, error)

	// SetExternalJobID records the delegated job id on the task.
	SetExternalJobID(ctx context.Context, id, jobID string) error

	// Delete removes metadata and result together; a subsequent Get
	// returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List returns the owner's tasks ordered by creation time descending.
	// An empty statusFilter matches all statuses.
	List(ctx context.Context, owner string, statusFilter Status) ([]*Task, error)
}
