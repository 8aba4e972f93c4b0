package appointment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrSchedulingConflict = errors.New("scheduling conflict")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrBookingInProgress  = errors.New("an overlapping booking is in progress, please retry")
)

// ValidationError rejects a malformed draft before any conflict check runs.
type ValidationError struct {
	Field   string
	Message string
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError carries every conflict found for a rejected booking.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	kinds := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		kinds = append(kinds, string(c.Kind))
	}
	return fmt.Sprintf("%s: %s", ErrSchedulingConflict, strings.Join(kinds, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrSchedulingConflict }

// TransitionError reports a lifecycle operation attempted from a status that forbids it.
type TransitionError struct {
	Op   string
	From AppointmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s an appointment that is %s", ErrInvalidTransition, e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
