package errval

import (
	"errors"
	"fmt"
)

var (
	ErrInternal    = errors.New("internal server error")
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrAuth        = errors.New("unauthorized")
	ErrRateLimited = errors.New("too many requests")
	ErrDuplicateID = errors.New("duplicate task id")
	ErrProbe       = errors.New("uptime probe failed")
)

// ValidationError describes a single rejected field. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
