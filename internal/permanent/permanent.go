package permanent

import (
	"errors"
	"fmt"
)

// Error marks executor failures that must not be retried.
// Params: wrapped root cause.
// Returns: typed permanent error marker.
type Error struct {
	Err error
}

// Error returns wrapped error message.
func (e Error) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
func (e Error) Unwrap() error {
	return e.Err
}

// Mark wraps error with permanent marker.
// Params: source error.
// Returns: wrapped error or nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// Errorf formats a new permanent error.
func Errorf(format string, args ...any) error {
	return Error{Err: fmt.Errorf(format, args...)}
}

// Is reports whether error chain carries permanent marker.
// Params: candidate error.
// Returns: true when retry must stop.
func Is(err error) bool {
	if err == nil {
		return false
	}
	var marked Error
	return errors.As(err, &marked)
}

// HTTPStatus classifies non-2xx webhook status.
// Params: HTTP status code and response summary.
// Returns: permanent error for 4xx except 408/429, retryable error otherwise.
func HTTPStatus(code int, body string) error {
	err := fmt.Errorf("unexpected status %d: %s", code, body)
	if code >= 400 && code < 500 && code != 408 && code != 429 {
		return Mark(err)
	}
	return err
}
