package services

import (
	"errors"

	"github.com/johnwmail/quickbin/storage"
)

// Client-facing validation messages.
const (
	MsgMissingFields  = "Missing required fields"
	MsgTitleTooLong   = "Title too long"
	MsgContentTooLong = "Content too long"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("snippet not found")
	ErrInternal   = errors.New("internal error")

	// ErrUnavailable means the store could not serve the request in time.
	// Callers may retry.
	ErrUnavailable = storage.ErrUnavailable
)

// ValidationError reports bad caller input. Message is safe to show.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func validationFailed(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
