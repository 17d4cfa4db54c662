package engine

import "errors"

var (
	// ErrNotFound is returned when a directly addressed record does not
	// exist. Subscribe never returns it for lists (they auto-create).
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEnrollment is returned when a subscription already has
	// an active enrollment in the sequence.
	ErrDuplicateEnrollment = errors.New("active enrollment already exists")
)

// ValidationError rejects malformed input before any store access.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}
