package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/xid"

	"github.com/sakif/incubator/internal/apperror"
	"github.com/sakif/incubator/internal/model"
	"github.com/sakif/incubator/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

// SQLSTATE codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	uniqueViolation = "23505"
	checkViolation  = "23514"

	identityCheck = "users_identity_check"
)

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

	query :=
		`INSERT INTO users (` + repository.UserColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := db.conn.ExecContext(ctx, query,
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

func (db *DB) getBy(ctx context.Context, column, value string) (*model.User, error) {
	if value == "" {
		return nil, apperror.NotFound("user", value)
	}

	query :=
		`SELECT ` + repository.UserColumns + ` FROM users
		 WHERE ` + column + ` = $1`

	user, err := repository.ScanUser(db.conn.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, storeError(fmt.Sprintf("getting user by %s", column), err)
	}
	return user, nil
}

func (db *DB) Update(ctx context.Context, user *model.User) error {
	if !user.HasIdentity() {
		return repository.MissingIdentity()
	}

	user.UpdatedAt = time.Now().UTC()

	query :=
		`UPDATE users
		 SET name = $1, email = $2, password_hash = $3, phone_number = $4, google_id = $5, photo = $6,
		     email_verified = $7, phone_verified = $8, role = $9, is_active = $10, last_login = $11, updated_at = $12
		 WHERE id = $13`

	result, err := db.conn.ExecContext(ctx, query,
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

	n, err := result.RowsAffected()
	if err != nil {
		return storeError("checking rows affected", err)
	}
	if n == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

func (db *DB) RecordLogin(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET last_login = $1, updated_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return storeError(fmt.Sprintf("recording login for %s", id), err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return storeError("checking rows affected", err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// MarkPhoneLogin records an OTP sign-in in one filtered UPDATE.
func (db *DB) MarkPhoneLogin(ctx context.Context, id string, at time.Time, name string) (*model.User, error) {
	query :=
		`UPDATE users
		 SET phone_verified = TRUE,
		     name = CASE WHEN name = '' THEN $1 ELSE name END,
		     last_login = $2, updated_at = $2
		 WHERE id = $3 AND is_active
		 RETURNING ` + repository.UserColumns

	return db.updateReturning(ctx, fmt.Sprintf("marking phone login for %s", id), id, query,
		name, at.UTC(), id)
}

// LinkGoogle attaches a Google ID to an existing email account, re-checking
// in the WHERE clause that the user is still active, still owns the email
// and holds no other Google ID.
func (db *DB) LinkGoogle(ctx context.Context, id string, g repository.GoogleLogin) (*model.User, error) {
	query :=
		`UPDATE users
		 SET google_id = $1, email_verified = TRUE,
		     name = CASE WHEN name = '' THEN $2 ELSE name END,
		     photo = CASE WHEN photo = '' THEN $3 ELSE photo END,
		     last_login = $4, updated_at = $4
		 WHERE id = $5 AND is_active AND email = $6
		   AND (google_id IS NULL OR google_id = $1)
		 RETURNING ` + repository.UserColumns

	return db.updateReturning(ctx, fmt.Sprintf("linking google account to %s", id), id, query,
		g.Subject, g.Name, g.Photo, g.At.UTC(), id, g.Email)
}

// RefreshGoogleLogin records a returning Google sign-in. SET expressions
// see the row before the update, so email_verified compares the old email.
func (db *DB) RefreshGoogleLogin(ctx context.Context, g repository.GoogleLogin) (*model.User, error) {
	query :=
		`UPDATE users
		 SET name = CASE WHEN $1::text <> '' THEN $1 ELSE name END,
		     photo = CASE WHEN $2::text <> '' THEN $2 ELSE photo END,
		     email = COALESCE(email, NULLIF($3::text, '')),
		     email_verified = CASE WHEN $3::text <> '' AND (email IS NULL OR email = $3) THEN TRUE ELSE email_verified END,
		     last_login = $4, updated_at = $4
		 WHERE google_id = $5 AND is_active
		 RETURNING ` + repository.UserColumns

	return db.updateReturning(ctx, "refreshing google login", g.Subject, query,
		g.Name, g.Photo, g.Email, g.At.UTC(), g.Subject)
}

func (db *DB) updateReturning(ctx context.Context, op, key, query string, args ...any) (*model.User, error) {
	if key == "" {
		return nil, apperror.NotFound("user", key)
	}
	user, err := repository.ScanUser(db.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, writeError(op, err)
	}
	return user, nil
}

// writeError maps constraint violations to apperror kinds. The constraint
// name (users_email_key etc.) identifies the conflicting field.
func writeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			field := repository.ConflictField(pgErr.ConstraintName)
			return apperror.Duplicate(field, repository.DuplicateMessage(field))
		case checkViolation:
			if pgErr.ConstraintName == identityCheck {
				return repository.MissingIdentity()
			}
		}
	}
	return storeError(op, err)
}

func storeError(op string, err error) error {
	if repository.Unreachable(err) {
		return apperror.Unavailable("credential store unavailable", fmt.Errorf("postgres: %s: %w", op, err))
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}
