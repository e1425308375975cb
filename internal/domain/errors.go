package domain

import "errors"

var (
	// ErrInvalidEvent indicates event schema violation.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrInvalidWindow indicates negative dedup window.
	ErrInvalidWindow = errors.New("invalid dedup window")
	// ErrMissingWindowConfig indicates neither event nor device supplies a dedup window.
	ErrMissingWindowConfig = errors.New("missing dedup window config")
	// ErrUnknownAction indicates no executor is registered for action name.
	ErrUnknownAction = errors.New("unknown action")
)

// ExecutorFailure reports action executor failure.
// Params: reason text and wrapped cause.
// Returns: per-action dispatch error.
type ExecutorFailure struct {
	Action string
	Reason string
	Err    error
}

// Error returns executor failure message.
// Params: none.
// Returns: action-qualified reason.
func (e *ExecutorFailure) Error() string {
	return "executor failure: " + e.Action + ": " + e.Reason
}

// Unwrap exposes executor cause.
// Params: none.
// Returns: wrapped error.
func (e *ExecutorFailure) Unwrap() error {
	return e.Err
}
