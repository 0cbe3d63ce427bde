package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProcessingTimeout 超过软时限，终止且不重试
	ErrProcessingTimeout = errors.New("processing timeout")
	// ErrInterrupted means the worker is shutting down. The job is left
	// unacknowledged so the queue delivers it again.
	ErrInterrupted = errors.New("processing interrupted")
)

// TransientError is a step failure expected to succeed on retry.
type TransientError struct {
	Step string
	Err  error
}

func (e *TransientError) Error() string {
	if e.Step == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a step failure that retrying will not fix.
type FatalError struct {
	Step string
	Err  error
}

func (e *FatalError) Error() string {
	if e.Step == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func Transient(step string, err error) error {
	return &TransientError{Step: step, Err: err}
}

func Fatal(step string, err error) error {
	return &FatalError{Step: step, Err: err}
}

// Classify maps any error to *TransientError, *FatalError or
// ErrProcessingTimeout. Errors that say nothing about themselves are fatal.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProcessingTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ErrProcessingTimeout
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient
	}
	return &FatalError{Err: err}
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(Classify(err), &transient)
}
