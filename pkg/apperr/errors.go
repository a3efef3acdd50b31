// Package apperr defines the error kinds used across the control plane
// (spec §7). Lifecycle and Store methods return these sentinels (or wrap
// them) instead of ad-hoc error strings so the API layer can map them to
// the HTTP status contract in a single place.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for an illegal state-machine transition or a
	// unique-key violation.
	ErrConflict = errors.New("conflict")

	// ErrTransient is returned for retryable I/O failures (hard ceiling
	// reached, connection reset, busy database).
	ErrTransient = errors.New("transient error")

	// ErrUnauthorized is returned when request credentials are missing or
	// invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when credentials are valid but insufficient.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited is returned when a caller has exceeded a rate limit.
	ErrRateLimited = errors.New("rate limited")

	// ErrFatal marks a programmer invariant violation. It should never
	// surface from a correctly-wired deployment.
	ErrFatal = errors.New("fatal invariant violation")
)

// ValidationError wraps a single field-level input validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

// NewValidation builds a *ValidationError.
func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Conflictf wraps ErrConflict with a formatted, entity-specific message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted, entity-specific message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Transientf wraps ErrTransient with a formatted, entity-specific message.
func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrTransient}, args...)...)
}
