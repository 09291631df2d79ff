package customer

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrMissingField   = errors.New("missing required field")
	ErrMalformedInput = errors.New("malformed input")
)

// Error kind labels used for metrics and API error codes.
const (
	KindMissingField   = "missing_field"
	KindMalformedInput = "malformed_input"
	KindUnknown        = "unknown"
)

// MissingFieldError reports a required raw field that is absent or empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// MalformedInputError reports a field whose value cannot be parsed.
type MalformedInputError struct {
	Field string
	Value any
	Err   error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed value %v for field %q: %v", e.Value, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed value %v for field %q", e.Value, e.Field)
}

func (e *MalformedInputError) Unwrap() error { return ErrMalformedInput }

// ErrorKind maps a row error to its metric and API label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrMissingField):
		return KindMissingField
	case errors.Is(err, ErrMalformedInput):
		return KindMalformedInput
	default:
		return KindUnknown
	}
}
