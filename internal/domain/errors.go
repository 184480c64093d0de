package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey       = errors.New("missing api key")
	ErrInvalidAPIKey       = errors.New("invalid api key")
	ErrAuthNotConfigured   = errors.New("no api keys configured")
	ErrValidation          = errors.New("validation failed")
	ErrRequestInFlight     = errors.New("request with this idempotency key is in progress")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrCorruptRecord       = errors.New("stored record is corrupt")
)

// ValidationError names the offending request field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
