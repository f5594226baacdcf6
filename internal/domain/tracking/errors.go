package tracking

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is matched by every input validation failure.
var ErrInvalidArgument = errors.New("invalid argument")

// ArgumentError describes which input was rejected and why.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

func invalid(field, reason string) error {
	return &ArgumentError{Field: field, Reason: reason}
}
