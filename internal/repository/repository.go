// Package repository declares the credential-store contract.
//
// The store is an external collaborator: the service layer only sees this
// interface, and each backend (sqlite, postgres) translates its own driver
// errors into apperror kinds:
//
//   - no matching record        → apperror.ErrNotFound
//   - UNIQUE constraint violated → apperror.ErrDuplicate (Field names the column)
//   - store unreachable          → apperror.ErrUnavailable
//
// SIGN-IN WRITES ARE FILTERED UPDATES:
// The sign-in paths never write back a user they read earlier. Each one is a
// single UPDATE whose WHERE clause carries its preconditions (still active,
// Google ID still free) and which returns the row as stored. A write that
// lands between the service's lookup and its update is kept, and a
// precondition that no longer holds comes back as apperror.ErrNotFound.
package repository

import (
	"context"
	"time"

	"github.com/sakif/incubator/internal/model"
)

// GoogleLogin is the profile data written by a Google sign-in. Email must
// already be normalized and verified by Google, or empty.
type GoogleLogin struct {
	Subject string
	Email   string
	Name    string
	Photo   string
	At      time.Time
}

type UserRepository interface {
	// Create inserts a new user, filling in ID and timestamps.
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// GetByEmail expects an already-normalized email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByPhone(ctx context.Context, phone string) (*model.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	// Update writes every mutable field of the user identified by user.ID in
	// a single statement.
	Update(ctx context.Context, user *model.User) error
	// RecordLogin sets last_login for one user.
	RecordLogin(ctx context.Context, id string, at time.Time) error
	// MarkPhoneLogin marks the phone verified, stamps last_login and sets
	// name only if the stored one is empty. Matches active users only.
	MarkPhoneLogin(ctx context.Context, id string, at time.Time, name string) (*model.User, error)
	// LinkGoogle attaches g.Subject to the active user id while that user
	// still owns g.Email and holds no other Google ID. It marks the email
	// verified and fills an empty name or photo.
	LinkGoogle(ctx context.Context, id string, g GoogleLogin) (*model.User, error)
	// RefreshGoogleLogin updates the active user holding g.Subject: non-empty
	// name and photo replace the stored ones, a missing email is backfilled
	// and marked verified.
	RefreshGoogleLogin(ctx context.Context, g GoogleLogin) (*model.User, error)
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
