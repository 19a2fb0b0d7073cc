package task

// ValidTransition reports whether a status change is legal. A task starts
// in processing and moves exactly once to completed or failed; terminal
// states never change again except through deletion.
func ValidTransition(from, to Status) bool {
	if from != StatusProcessing {
		return false
	}
	return to == StatusCompleted || to == StatusFailed
}

// CheckTransition validates a status write against the state machine.
// Rewriting the same terminal status with the same error payload is an
// idempotent no-op so that a late Reconcile cannot corrupt a task an
// inline run already finished. It returns (noop, error).
func CheckTransition(current *Task, to Status, errMsg string) (bool, error) {
	if current.Status == to && current.Error == errMsg {
		return true, nil
	}
	if !ValidTransition(current.Status, to) {
		return false, ErrInvalidTransition
	}
	if to == StatusFailed && errMsg == "" {
		return false, ErrEmptyError
	}
	if to == StatusCompleted && errMsg != "" {
		return false, ErrInvalidTransition
	}
	return false, nil
}
