package task

import "errors"

var (
	ErrNotFound          = errors.New("task not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrNotCompleted      = errors.New("task not completed yet")
	ErrNoResult          = errors.New("result not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrEmptyError        = errors.New("failed status requires an error message")
	ErrNilResult         = errors.New("completed status requires a result")
)
