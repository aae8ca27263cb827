package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTime     = errors.New("invalid time of day")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidDay      = errors.New("invalid weekday")
	ErrInvalidOwner    = errors.New("invalid owner")
)

// ValidationError reports a rejected create request. It matches its sentinel
// with errors.Is.
type ValidationError struct {
	Field string
	Value string
	Err   error

	cause error
}

func invalid(field, value string, err error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Err: err}
}

func (e *ValidationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s %q: %v: %v", e.Field, e.Value, e.Err, e.cause)
	}
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err was caused by bad caller input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
