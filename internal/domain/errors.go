package domain

import "errors"

// ValidationError is a malformed-input error surfaced at the API boundary.
// Validation failures never reach the broker.
type ValidationError struct {
	Field  string
	Reason string
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// IsValidation reports whether err is (or wraps) a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	// ErrAlertResolved is returned on transitions attempted against a
	// resolved alert; resolved is terminal and a new alert must be created.
	ErrAlertResolved = errors.New("alert is resolved")

	// ErrAlertNotFound is returned by lookups for unknown alert ids.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrEventNotFound is returned by lookups for unknown event ids.
	ErrEventNotFound = errors.New("event not found")
)
