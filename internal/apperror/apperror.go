// Package apperror defines the closed set of error kinds the service can
// return. Lower layers construct them, and only the HTTP layer translates
// them into status codes.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrUpstream      = errors.New("upstream unavailable")
	ErrMisconfigured = errors.New("misconfigured")
)

type AppError struct {
	Err     error  // sentinel kind, matched with errors.Is
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error, kept for logs
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// UserNotFound is returned when a username has no resolvable upstream profile.
func UserNotFound(username string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("User %s not found", username),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Upstream reports a failed or malformed response from the social API.
// HTTP handlers map this to 502 Bad Gateway.
func Upstream(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: message,
		Cause:   cause,
	}
}

// Misconfigured reports a missing credential or setting. It is fatal for the
// request and never retried.
func Misconfigured(message string) *AppError {
	return &AppError{
		Err:     ErrMisconfigured,
		Message: message,
	}
}
