package core

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound          = errors.New("job not found")
	ErrMachineNotFound      = errors.New("machine not found")
	ErrDuplicateJob         = errors.New("job already exists")
	ErrDuplicateMachine     = errors.New("machine already exists")
	ErrJobOngoing           = errors.New("job is ongoing")
	ErrMachineDisabled      = errors.New("machine is disabled")
	ErrJobNotStarted        = errors.New("job has not been started")
	ErrInvalidField         = errors.New("invalid field")
	ErrUnauthorized         = errors.New("caller is not authorized")
	ErrInvalidTransition    = errors.New("invalid job status transition")
	ErrDeletionNotRequested = errors.New("job deletion has not been requested")
	ErrMachineNotEmpty      = errors.New("machine still holds jobs")
)

// InvalidFieldError reports a malformed value rejected at construction time.
type InvalidFieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidFieldError) Unwrap() error {
	return ErrInvalidField
}

func invalidField(field, value, reason string) error {
	return &InvalidFieldError{Field: field, Value: value, Reason: reason}
}
