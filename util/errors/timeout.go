package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TimeoutError represents a timeout during an operation on a target such as
// a webhook URL or an event id.
type TimeoutError struct {
	Operation string
	Target    string
	Err       error
}

// Error returns a human-readable error message.
func (e *TimeoutError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("timeout: %s on %s: %v", e.Operation, e.Target, e.Err)
	}
	return fmt.Sprintf("timeout: %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation, target string, err error) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Target:    target,
		Err:       err,
	}
}

// IsTimeout reports whether err is a timeout error. It checks for
// TimeoutError, context.DeadlineExceeded, and net.Error timeouts (which
// include http.Client.Timeout expiry).
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}

	return false
}
