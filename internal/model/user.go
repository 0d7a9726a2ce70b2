// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// Role is a coarse authorization label. Admin-only routes compare it for
// equality.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents one platform account.
//
// A user is reachable through up to three channels: email (with or without a
// password), Google OAuth (GoogleID) and phone OTP (PhoneNumber). Each of the
// three is unique across accounts when present, and at least one of them must
// be present.
//
// WHY string AND NOT *string FOR OPTIONAL FIELDS?
// As with the rest of the codebase, the empty string is the zero value for
// "absent". The repositories store empty identity fields as SQL NULL so the
// UNIQUE constraints only apply to values that are actually set.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email,omitempty"`
	PasswordHash  string     `json:"-"` // never serialized
	PhoneNumber   string     `json:"phoneNumber,omitempty"`
	GoogleID      string     `json:"googleId,omitempty"`
	Photo         string     `json:"photo,omitempty"`
	EmailVerified bool       `json:"isEmailVerified"`
	PhoneVerified bool       `json:"isPhoneVerified"`
	Role          Role       `json:"role"`
	IsActive      bool       `json:"isActive"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// HasIdentity reports whether the user can be reached by at least one
// authentication channel.
func (u *User) HasIdentity() bool {
	return u.Email != "" || u.PhoneNumber != "" || u.GoogleID != ""
}

// HasPassword reports whether the account can log in with email + password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Public returns a copy safe to hand to clients. PasswordHash is already
// excluded from JSON; the copy also clears it so nothing downstream can leak
// it by accident (e.g. through %+v logging).
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.PasswordHash = ""
	return &c
}

// NormalizeEmail lower-cases and trims an email address. Every lookup and
// write of User.Email goes through this so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OAuthProfile is what an identity provider tells us about the person who
// just signed in. Subject is the provider's stable account ID.
type OAuthProfile struct {
	Subject string
	Email   string
	Name    string
	Photo   string
}
