package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/sakif/incubator/internal/apperror"
)

// Field names reported in apperror.AppError.Field when a UNIQUE constraint
// fails. They match the JSON names of model.User.
const (
	FieldEmail    = "email"
	FieldPhone    = "phoneNumber"
	FieldGoogleID = "googleId"
)

// Unreachable reports whether err means the store could not be reached at
// all, as opposed to a query that ran and failed.
func Unreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// database/sql does not export its "database is closed" error.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "connection refused")
}

// ConflictField maps a constraint or column name from a driver error message
// to one of the Field* constants. It returns "" when nothing matches.
func ConflictField(message string) string {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "google_id"):
		return FieldGoogleID
	case strings.Contains(msg, "phone_number"):
		return FieldPhone
	case strings.Contains(msg, "email"):
		return FieldEmail
	}
	return ""
}

// DuplicateMessage is the client-facing text for a conflict on field.
func DuplicateMessage(field string) string {
	switch field {
	case FieldEmail:
		return "email already registered"
	case FieldPhone:
		return "phone number already registered"
	case FieldGoogleID:
		return "Google account already registered"
	}
	return "account already exists"
}

// MissingIdentity is returned when a write would leave a user with no email,
// phone number or Google ID.
func MissingIdentity() error {
	return apperror.ValidationFailed("identity", "an email, phone number or Google account is required")
}
