package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks a retryable broker failure (network, timeout, 5xx, 429).
	ErrTransient = errors.New("transient broker failure")

	// ErrShutdown is returned for non-emergency intents while emergency
	// shutdown is active.
	ErrShutdown = errors.New("emergency shutdown active")

	// ErrInvalidFill is returned when the broker reports a fill that cannot
	// be applied (zero quantity, wrong side, more than requested).
	ErrInvalidFill = errors.New("invalid fill")
)

// RejectionError is a non-retryable refusal by the broker.
type RejectionError struct {
	Code   int
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("order rejected (%d): %s", e.Code, e.Reason)
	}
	return "order rejected: " + e.Reason
}

// Reject builds a RejectionError.
func Reject(code int, reason string) error {
	return &RejectionError{Code: code, Reason: reason}
}

// Transient wraps err as retryable.
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Classify maps a broker error onto a result kind. Only an explicit
// *RejectionError is non-retryable; network errors, timeouts and anything
// unrecognized count as transient and are capped by the attempt bound.
func Classify(err error) ResultKind {
	if err == nil {
		return KindFilled
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		return KindRejected
	}
	return KindTransientFailure
}
