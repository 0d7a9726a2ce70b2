package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/sakif/incubator/internal/apperror"
	"github.com/sakif/incubator/internal/model"
	"github.com/sakif/incubator/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// Create inserts a new user.
//
// The ID is an xid (20 chars, URL-safe, sortable by creation time). Empty
// identity fields are written as NULL so the UNIQUE constraints stay sparse.
// If another request inserted the same email/phone/Google ID first, the
// constraint fires here and is reported as apperror.ErrDuplicate: the
// service's pre-check is only best-effort.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	if !user.HasIdentity() {
		return repository.MissingIdentity()
	}

	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = model.RoleUser
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+repository.UserColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		repository.NullString(user.Email),
		user.PasswordHash,
		repository.NullString(user.PhoneNumber),
		repository.NullString(user.GoogleID),
		user.Photo,
		user.EmailVerified,
		user.PhoneVerified,
		string(user.Role),
		user.IsActive,
		repository.NullTime(user.LastLogin),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return writeError("creating user", err)
	}

	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getBy(ctx, "id", id)
}

func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getBy(ctx, "email", email)
}

func (db *DB) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	return db.getBy(ctx, "phone_number", phone)
}

func (db *DB) GetByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	return db.getBy(ctx, "google_id", googleID)
}

// getBy looks a user up by one unique column. column is always one of the
// literals above, never user input.
func (db *DB) getBy(ctx context.Context, column, value string) (*model.User, error) {
	if value == "" {
		return nil, apperror.NotFound("user", value)
	}

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+repository.UserColumns+` FROM users WHERE `+column+` = ?`,
		value,
	)
	u, err := repository.ScanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, storeError(fmt.Sprintf("getting user by %s", column), err)
	}
	return u, nil
}

// Update writes every mutable column of the user in one statement.
//
// RowsAffected tells us whether the WHERE clause matched; zero rows means the
// user no longer exists.
func (db *DB) Update(ctx context.Context, user *model.User) error {
	if !user.HasIdentity() {
		return repository.MissingIdentity()
	}

	user.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET name = ?, email = ?, password_hash = ?, phone_number = ?, google_id = ?, photo = ?,
		     email_verified = ?, phone_verified = ?, role = ?, is_active = ?, last_login = ?, updated_at = ?
		 WHERE id = ?`,
		user.Name,
		repository.NullString(user.Email),
		user.PasswordHash,
		repository.NullString(user.PhoneNumber),
		repository.NullString(user.GoogleID),
		user.Photo,
		user.EmailVerified,
		user.PhoneVerified,
		string(user.Role),
		user.IsActive,
		repository.NullTime(user.LastLogin),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return writeError(fmt.Sprintf("updating user %s", user.ID), err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeError("checking rows affected", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", user.ID)
	}

	return nil
}

// RecordLogin stamps last_login without touching any other column.
func (db *DB) RecordLogin(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`,
		at, at, id,
	)
	if err != nil {
		return storeError(fmt.Sprintf("recording login for %s", id), err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeError("checking rows affected", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// MarkPhoneLogin records an OTP sign-in in one filtered UPDATE.
func (db *DB) MarkPhoneLogin(ctx context.Context, id string, at time.Time, name string) (*model.User, error) {
	at = at.UTC()
	return db.updateReturning(ctx, fmt.Sprintf("marking phone login for %s", id), id,
		`UPDATE users
		 SET phone_verified = 1,
		     name = CASE WHEN name = '' THEN ? ELSE name END,
		     last_login = ?, updated_at = ?
		 WHERE id = ? AND is_active = 1
		 RETURNING `+repository.UserColumns,
		name, at, at, id,
	)
}

// LinkGoogle attaches a Google ID to an existing email account. The WHERE
// clause re-checks what the caller saw: still active, still the owner of
// the email, no other Google ID.
func (db *DB) LinkGoogle(ctx context.Context, id string, g repository.GoogleLogin) (*model.User, error) {
	at := g.At.UTC()
	return db.updateReturning(ctx, fmt.Sprintf("linking google account to %s", id), id,
		`UPDATE users
		 SET google_id = ?, email_verified = 1,
		     name = CASE WHEN name = '' THEN ? ELSE name END,
		     photo = CASE WHEN photo = '' THEN ? ELSE photo END,
		     last_login = ?, updated_at = ?
		 WHERE id = ? AND is_active = 1 AND email = ?
		   AND (google_id IS NULL OR google_id = ?)
		 RETURNING `+repository.UserColumns,
		g.Subject, g.Name, g.Photo, at, at, id, g.Email, g.Subject,
	)
}

// RefreshGoogleLogin records a returning Google sign-in. The right-hand
// sides read the row as it was before this statement, so email_verified
// sees the old email.
func (db *DB) RefreshGoogleLogin(ctx context.Context, g repository.GoogleLogin) (*model.User, error) {
	at := g.At.UTC()
	return db.updateReturning(ctx, "refreshing google login", g.Subject,
		`UPDATE users
		 SET name = CASE WHEN ? <> '' THEN ? ELSE name END,
		     photo = CASE WHEN ? <> '' THEN ? ELSE photo END,
		     email = COALESCE(email, ?),
		     email_verified = CASE WHEN ? <> '' AND (email IS NULL OR email = ?) THEN 1 ELSE email_verified END,
		     last_login = ?, updated_at = ?
		 WHERE google_id = ? AND is_active = 1
		 RETURNING `+repository.UserColumns,
		g.Name, g.Name,
		g.Photo, g.Photo,
		repository.NullString(g.Email),
		g.Email, g.Email,
		at, at,
		g.Subject,
	)
}

// updateReturning runs an UPDATE ... RETURNING and scans the single row.
// No row means the WHERE clause filtered the user out.
func (db *DB) updateReturning(ctx context.Context, op, key, query string, args ...any) (*model.User, error) {
	if key == "" {
		return nil, apperror.NotFound("user", key)
	}
	u, err := repository.ScanUser(db.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, writeError(op, err)
	}
	return u, nil
}

// writeError translates an INSERT/UPDATE failure. A UNIQUE violation becomes
// apperror.ErrDuplicate with the offending field; a CHECK violation means
// the identity invariant was broken.
func writeError(op string, err error) error {
	if isUniqueViolation(err) {
		field := repository.ConflictField(err.Error())
		return apperror.Duplicate(field, repository.DuplicateMessage(field))
	}
	if isCheckViolation(err) {
		return repository.MissingIdentity()
	}
	return storeError(op, err)
}

// storeError wraps err with an operation prefix, marking it unavailable when
// the database itself could not be reached.
func storeError(op string, err error) error {
	if repository.Unreachable(err) {
		return apperror.Unavailable("credential store unavailable", fmt.Errorf("sqlite: %s: %w", op, err))
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isCheckViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_CHECK {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "check constraint failed")
}
