package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPeer = errors.New("invalid peer")
	ErrValidation  = errors.New("validation failed")
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not found")

	// errConversationRace is returned only when every resolve attempt lost
	// the insert race; callers see it as an internal failure.
	errConversationRace = errors.New("conversation creation kept conflicting")
)

// ValidationError describes which input was rejected and why. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
