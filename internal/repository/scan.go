package repository

import (
	"database/sql"
	"time"

	"github.com/sakif/incubator/internal/model"
)

// UserColumns is the column list every backend selects, in ScanUser order.
const UserColumns = `id, name, email, password_hash, phone_number, google_id, photo,
	email_verified, phone_verified, role, is_active, last_login, created_at, updated_at`

// Scanner is satisfied by both *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanUser reads one row selected with UserColumns. NULL identity columns
// come back as empty strings.
func ScanUser(row Scanner) (*model.User, error) {
	var (
		u                      model.User
		email, phone, googleID sql.NullString
		role                   string
		lastLogin              sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Name,
		&email,
		&u.PasswordHash,
		&phone,
		&googleID,
		&u.Photo,
		&u.EmailVerified,
		&u.PhoneVerified,
		&role,
		&u.IsActive,
		&lastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Email = email.String
	u.PhoneNumber = phone.String
	u.GoogleID = googleID.String
	u.Role = model.Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

// NullString maps "" to NULL so sparse UNIQUE columns never collide on an
// absent identity.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
