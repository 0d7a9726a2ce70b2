// Package apperror defines the error kinds shared by every layer.
//
// Services and repositories return these kinds; only the HTTP layer decides
// which status code each one becomes. Callers match kinds with errors.Is:
//
//	if errors.Is(err, apperror.ErrDuplicate) { ... }
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrDuplicate         = errors.New("duplicate identity")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidCode       = errors.New("invalid code")
	ErrExpired           = errors.New("expired")
	ErrLocked            = errors.New("locked")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUnavailable       = errors.New("service unavailable")
	ErrIdentityConflict  = errors.New("identity conflict")
	ErrForbidden         = errors.New("forbidden")
)

type AppError struct {
	Err     error          // one of the sentinel kinds above
	Message string         // Human-readable error message
	Field   string         // Optional: field causing the error
	Details []string       // Optional: itemised validation failures
	Extra   map[string]any // Optional: extra response fields (e.g. attemptsRemaining)
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// Missing is NotFound with a caller-chosen message, for things that are not
// addressed by an ID.
func Missing(message string) *AppError {
	return &AppError{Err: ErrNotFound, Message: message}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Details: []string{message},
	}
}

// Invalid bundles several validation failures into one error. The first
// message doubles as the summary.
func Invalid(details []string) *AppError {
	msg := "validation failed"
	if len(details) == 1 {
		msg = details[0]
	}
	return &AppError{
		Err:     ErrValidation,
		Message: msg,
		Details: details,
	}
}

// Duplicate reports that an identity (email, phone, OAuth id) is already
// owned by another account.
func Duplicate(field, message string) *AppError {
	return &AppError{
		Err:     ErrDuplicate,
		Message: message,
		Field:   field,
	}
}

func InvalidCredential(message string) *AppError {
	return &AppError{
		Err:     ErrInvalidCredential,
		Message: message,
	}
}

// InvalidCode reports a wrong OTP and how many attempts are left.
func InvalidCode(remaining int) *AppError {
	return &AppError{
		Err:     ErrInvalidCode,
		Message: fmt.Sprintf("invalid OTP, %d attempts remaining", remaining),
		Extra:   map[string]any{"attemptsRemaining": remaining},
	}
}

func Expired(message string) *AppError {
	return &AppError{
		Err:     ErrExpired,
		Message: message,
	}
}

func Locked(message string) *AppError {
	return &AppError{
		Err:     ErrLocked,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Unavailable wraps a failure to reach a backing collaborator (store, SMS
// provider). The cause is kept for logs but never shown to clients.
func Unavailable(message string, cause error) *AppError {
	err := ErrUnavailable
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrUnavailable, cause)
	}
	return &AppError{
		Err:     err,
		Message: message,
	}
}

func IdentityConflict(field, message string) *AppError {
	return &AppError{
		Err:     ErrIdentityConflict,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}
