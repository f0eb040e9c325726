package survey

import (
	"errors"
	"fmt"
)

// Sentinel errors for request validation failures.
var (
	ErrInvalidBody    = errors.New("request body must be a JSON object")
	ErrMalformedField = errors.New("value is not numeric")
	ErrNonFinite      = errors.New("value is not a finite number")
)

// FieldError wraps a sentinel with the offending field.
type FieldError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s (value=%s)", e.Field, e.Wrapped, e.Value)
}

func (e *FieldError) Unwrap() error { return e.Wrapped }

// NewFieldError creates a FieldError.
func NewFieldError(field, value string, wrapped error) *FieldError {
	return &FieldError{Field: field, Value: value, Wrapped: wrapped}
}

// IsClientError reports whether err was caused by the request payload.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidBody) ||
		errors.Is(err, ErrMalformedField) ||
		errors.Is(err, ErrNonFinite)
}
