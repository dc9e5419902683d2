package util

import (
	"errors"
	"fmt"
)

// ErrorCategory drives how the ingestion worker reacts to a failure.
type ErrorCategory string

const (
	// CategoryValidation marks malformed events; routed straight to dead-letter.
	CategoryValidation ErrorCategory = "VALIDATION"
	// CategoryTransient marks failures worth retrying with backoff.
	CategoryTransient ErrorCategory = "TRANSIENT"
	// CategoryConflict marks uniqueness races resolved inline by re-querying.
	CategoryConflict ErrorCategory = "CONFLICT"
	// CategoryInvalidTransition marks rejected state-machine moves; an expected
	// business occurrence, surfaced as a typed result rather than a crash.
	CategoryInvalidTransition ErrorCategory = "INVALID_TRANSITION"
	// CategoryFatal marks startup-time conditions the process must not run with.
	CategoryFatal ErrorCategory = "FATAL"
)

// PipelineError standardizes application errors across the pipeline.
type PipelineError struct {
	Category ErrorCategory
	Message  string
	Details  map[string]any
	Err      error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a non-retriable malformed-event error.
func NewValidationError(message string, details map[string]any) error {
	return &PipelineError{Category: CategoryValidation, Message: message, Details: details}
}

// NewTransientError wraps a failure that should be retried.
func NewTransientError(message string, err error) error {
	return &PipelineError{Category: CategoryTransient, Message: message, Err: err}
}

// NewConflictError wraps a uniqueness-constraint race.
func NewConflictError(message string, err error) error {
	return &PipelineError{Category: CategoryConflict, Message: message, Err: err}
}

// NewInvalidTransitionError reports a rejected ticket state change.
func NewInvalidTransitionError(from, to string) error {
	return &PipelineError{
		Category: CategoryInvalidTransition,
		Message:  fmt.Sprintf("invalid ticket transition %s -> %s", from, to),
		Details:  map[string]any{"from": from, "to": to},
	}
}

// NewFatalError wraps an unrecoverable startup condition.
func NewFatalError(message string, err error) error {
	return &PipelineError{Category: CategoryFatal, Message: message, Err: err}
}

// CategoryOf classifies an arbitrary error. Unknown errors are treated as
// transient so redelivery gets a chance before dead-lettering.
func CategoryOf(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryTransient
}

// IsRetriable reports whether the worker should attempt the event again.
func IsRetriable(err error) bool {
	return CategoryOf(err) == CategoryTransient
}

// IsInvalidTransition reports whether err is a rejected state-machine move.
func IsInvalidTransition(err error) bool {
	return CategoryOf(err) == CategoryInvalidTransition
}
