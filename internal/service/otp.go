package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/incubator/internal/apperror"
	"github.com/sakif/incubator/internal/model"
	"github.com/sakif/incubator/internal/otp"
	"github.com/sakif/incubator/internal/repository"
)

// Delivery methods reported by RequestOTP.
const (
	MethodSMS  = "sms"
	MethodMock = "mock"
)

const msgInvalidPhone = "a valid Indian mobile number is required (+91XXXXXXXXXX)"

// OTPDelivery describes how an issued code reached (or failed to reach) the
// user. Code is always set; the handler decides whether to expose it.
type OTPDelivery struct {
	Method    string
	Fallback  bool
	Code      string
	ExpiresAt time.Time
}

// RequestOTP issues a fresh code for phone and tries to deliver it.
//
// Delivery outcomes:
//   - sender configured, send ok          → Method "sms"
//   - sender configured, send failed      → Method "mock", Fallback true (if allowed)
//   - no sender configured                → Method "mock" (if allowed)
//
// When mock delivery is not allowed the code is discarded and the call fails
// with ErrUnavailable. Resending is just another RequestOTP: the new code
// replaces the old one.
func (s *AuthService) RequestOTP(ctx context.Context, phone string) (*OTPDelivery, error) {
	phone = strings.TrimSpace(phone)
	if !s.opts.PhonePattern.MatchString(phone) {
		return nil, apperror.ValidationFailed(repository.FieldPhone, msgInvalidPhone)
	}

	code, expiresAt, err := s.ledger.Issue(ctx, phone)
	if err != nil {
		return nil, err
	}
	d := &OTPDelivery{Method: MethodMock, Code: code, ExpiresAt: expiresAt}
	masked := otp.MaskPhone(phone)

	if s.sender == nil || !s.sender.Enabled() {
		if !s.opts.AllowMockFallback {
			s.discard(ctx, phone)
			return nil, apperror.Unavailable("SMS delivery is not configured", errors.New("service: no SMS sender"))
		}
		s.logger.Info("otp issued", slog.String("phone", masked), slog.String("method", MethodMock))
		return d, nil
	}

	if err := s.sender.SendOTP(ctx, phone, code); err != nil {
		if !s.opts.AllowMockFallback {
			s.discard(ctx, phone)
			s.logger.Error("otp delivery failed",
				slog.String("phone", masked),
				slog.String("error", err.Error()),
			)
			return nil, apperror.Unavailable("failed to send OTP, please try again later", err)
		}
		s.logger.Warn("otp delivery failed, falling back to mock",
			slog.String("phone", masked),
			slog.String("error", err.Error()),
		)
		d.Fallback = true
		return d, nil
	}

	d.Method = MethodSMS
	s.logger.Info("otp issued", slog.String("phone", masked), slog.String("method", MethodSMS))
	return d, nil
}

func (s *AuthService) discard(ctx context.Context, phone string) {
	if err := s.ledger.Discard(ctx, phone); err != nil {
		s.logger.Error("discarding undelivered otp", slog.String("error", err.Error()))
	}
}

// VerifyOTP checks code for phone and signs the phone's owner in, creating
// the user on first verification. name is optional and only used to fill in
// a missing display name.
func (s *AuthService) VerifyOTP(ctx context.Context, phone, code, name string) (*AuthResult, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)

	var details []string
	if !s.opts.PhonePattern.MatchString(phone) {
		details = append(details, msgInvalidPhone)
	}
	if !codePattern.MatchString(code) {
		details = append(details, "OTP must be 6 digits")
	}
	if len([]rune(name)) > maxNameLen {
		details = append(details, fmt.Sprintf("name must be at most %d characters", maxNameLen))
	}
	if len(details) > 0 {
		return nil, apperror.Invalid(details)
	}

	if err := s.ledger.Verify(ctx, phone, code); err != nil {
		return nil, err
	}

	user, err := s.users.GetByPhone(ctx, phone)
	switch {
	case err == nil:
		return s.phoneLogin(ctx, user, name, false)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, err
	}

	now := s.now().UTC()
	if name == "" {
		name = DefaultPhoneName(phone)
	}
	user = &model.User{
		Name:          name,
		PhoneNumber:   phone,
		PhoneVerified: true,
		Role:          model.RoleUser,
		IsActive:      true,
		LastLogin:     &now,
	}
	err = s.users.Create(ctx, user)
	if errors.Is(err, apperror.ErrDuplicate) {
		// A concurrent verification for the same phone created the user
		// between our lookup and insert. Sign into that one.
		winner, gerr := s.users.GetByPhone(ctx, phone)
		if gerr != nil {
			return nil, gerr
		}
		return s.phoneLogin(ctx, winner, name, false)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID), slog.String("method", "otp"))
	return s.issue(user, true)
}

func (s *AuthService) phoneLogin(ctx context.Context, user *model.User, name string, isNew bool) (*AuthResult, error) {
	if !user.IsActive {
		return nil, apperror.InvalidCredential(msgInactive)
	}
	if name == "" {
		name = DefaultPhoneName(user.PhoneNumber)
	}

	updated, err := s.users.MarkPhoneLogin(ctx, user.ID, s.now().UTC(), name)
	if err != nil {
		return nil, s.explainMiss(ctx, user.ID, "", err)
	}
	return s.issue(updated, isNew)
}

// DefaultPhoneName is the display name given to phone-only accounts:
// "User " plus the last four digits.
func DefaultPhoneName(phone string) string {
	if len(phone) < 4 {
		return "User"
	}
	return "User " + phone[len(phone)-4:]
}
