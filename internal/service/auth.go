// Package service holds the identity-resolution rules.
//
// AuthService sits between the HTTP handlers and the stores:
//
//	handler ──▶ AuthService ──▶ UserRepository (users)
//	                        ├─▶ otp.Ledger     (phone codes)
//	                        ├─▶ sms.Sender     (delivery)
//	                        └─▶ TokenService / PasswordService
//
// Three credential paths (email + password, Google, phone OTP) converge on
// one User record and end the same way: a signed session token plus the
// public projection of the user. Nothing here knows about HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sakif/incubator/internal/apperror"
	"github.com/sakif/incubator/internal/auth"
	"github.com/sakif/incubator/internal/model"
	"github.com/sakif/incubator/internal/otp"
	"github.com/sakif/incubator/internal/repository"
	"github.com/sakif/incubator/internal/sms"
)

const (
	minPasswordLen = 6
	maxNameLen     = 100

	// DefaultPhonePattern accepts Indian mobile numbers in E.164 form.
	DefaultPhonePattern = `^\+91[6-9]\d{9}$`

	msgInvalidLogin = "invalid email or password"
	msgInactive     = "account is inactive"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	codePattern  = regexp.MustCompile(`^\d{6}$`)
)

// Options tunes AuthService. The zero value is usable.
type Options struct {
	// PhonePattern validates phone numbers for the OTP path.
	// Nil selects DefaultPhonePattern.
	PhonePattern *regexp.Regexp
	// AllowMockFallback lets RequestOTP succeed without SMS delivery, handing
	// the code back to the caller instead.
	AllowMockFallback bool
}

// AuthService implements registration, login and identity resolution.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	ledger    *otp.Ledger
	sender    sms.Sender
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthService wires the service. sender may be nil, in which case every
// OTP is a mock delivery.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	ledger *otp.Ledger,
	sender sms.Sender,
	opts Options,
	logger *slog.Logger,
) *AuthService {
	if opts.PhonePattern == nil {
		opts.PhonePattern = regexp.MustCompile(DefaultPhonePattern)
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		ledger:    ledger,
		sender:    sender,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// AuthResult is what every successful sign-in returns.
type AuthResult struct {
	Token     string
	User      *model.User // public projection, no password hash
	IsNewUser bool
}

// Register creates an email/password account and signs it in.
//
// All field problems are reported together in one validation error. The
// email pre-check only gives a friendlier error sooner; the store's UNIQUE
// constraint is what actually prevents two accounts with one email.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = model.NormalizeEmail(email)

	var details []string
	switch {
	case name == "":
		details = append(details, "name is required")
	case len([]rune(name)) > maxNameLen:
		details = append(details, fmt.Sprintf("name must be at most %d characters", maxNameLen))
	}
	if !emailPattern.MatchString(email) {
		details = append(details, "a valid email is required")
	}
	switch {
	case len(password) < minPasswordLen:
		details = append(details, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	case len(password) > auth.MaxPasswordBytes:
		details = append(details, fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes))
	}
	if len(details) > 0 {
		return nil, apperror.Invalid(details)
	}

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, apperror.Duplicate(repository.FieldEmail, repository.DuplicateMessage(repository.FieldEmail))
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service: hashing password: %w", err)
	}

	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID), slog.String("method", "password"))
	return s.issue(user, true)
}

// Login checks an email/password pair.
//
// Every failure (unknown email, account without a password, wrong password,
// inactive account) produces the same error. When the email is unknown a
// dummy bcrypt comparison still runs so timing does not leak which emails
// are registered.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = model.NormalizeEmail(email)

	var details []string
	if email == "" {
		details = append(details, "email is required")
	}
	if password == "" {
		details = append(details, "password is required")
	}
	if len(details) > 0 {
		return nil, apperror.Invalid(details)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.VerifyDummy(password)
			return nil, apperror.InvalidCredential(msgInvalidLogin)
		}
		return nil, err
	}

	if !user.HasPassword() {
		s.passwords.VerifyDummy(password)
		return nil, apperror.InvalidCredential(msgInvalidLogin)
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash is unusable",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.InvalidCredential(msgInvalidLogin)
	}
	if !user.IsActive {
		return nil, apperror.InvalidCredential(msgInvalidLogin)
	}

	now := s.now().UTC()
	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLogin = &now

	return s.issue(user, false)
}

// CurrentUser returns the public projection of the user with id.
func (s *AuthService) CurrentUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

func (s *AuthService) issue(user *model.User, isNew bool) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service: issuing token: %w", err)
	}
	return &AuthResult{Token: token, User: user.Public(), IsNewUser: isNew}, nil
}

// explainMiss turns a filtered sign-in update that matched no row into the
// reason the row was filtered out, by reading it again. googleID is the
// subject being linked, or "" when no Google ID is involved.
func (s *AuthService) explainMiss(ctx context.Context, id, googleID string, err error) error {
	if !errors.Is(err, apperror.ErrNotFound) {
		return oauthConflict(err)
	}
	current, gerr := s.users.GetUserByID(ctx, id)
	if gerr != nil {
		return gerr
	}
	if !current.IsActive {
		return apperror.InvalidCredential(msgInactive)
	}
	if googleID != "" && current.GoogleID != "" && current.GoogleID != googleID {
		return apperror.IdentityConflict(repository.FieldEmail, msgEmailOtherGoogle)
	}
	return err
}
