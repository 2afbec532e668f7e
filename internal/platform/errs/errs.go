// Package errs holds the error taxonomy shared by the lifecycle components.
//
// Gate conditions (ErrReadinessNotMet, ErrTaskIdempotentSkip, ErrConcurrentModification)
// are absorbed by the component that detects them and never reach learner-facing callers.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrReadinessNotMet        = errors.New("readiness not met")
	ErrTaskIdempotentSkip     = errors.New("task already queued or running")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// GenerationError wraps a content synthesis failure.
type GenerationError struct {
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	if e == nil || e.Err == nil {
		return "generation failed"
	}
	if e.Retryable {
		return "generation failed (retryable): " + e.Err.Error()
	}
	return "generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &GenerationError{Retryable: true, Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &GenerationError{Retryable: false, Err: err}
}

// IsRetryable reports whether err carries a retryable GenerationError.
func IsRetryable(err error) bool {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

func NotFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
