// GO TESTING BASICS:
// 1. Test files MUST end in _test.go
// 2. Same package as the code being tested (so we can access unexported stuff)
// 3. Run with: go test ./internal/apperror/ -v
package apperror

import (
	"errors"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("user", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("email", "email is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Duplicate wraps ErrDuplicate",
			err:       Duplicate("email", "email already registered"),
			target:    ErrDuplicate,
			wantMatch: true,
		},
		{
			name:      "InvalidCode wraps ErrInvalidCode",
			err:       InvalidCode(2),
			target:    ErrInvalidCode,
			wantMatch: true,
		},
		{
			name:      "Unavailable with cause still matches ErrUnavailable",
			err:       Unavailable("store down", errors.New("connection refused")),
			target:    ErrUnavailable,
			wantMatch: true,
		},
		{
			name:      "IdentityConflict wraps ErrIdentityConflict",
			err:       IdentityConflict("googleId", "Google account already registered"),
			target:    ErrIdentityConflict,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("user", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Expired does NOT match ErrLocked",
			err:       Expired("otp expired"),
			target:    ErrLocked,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("user", "abc123"),
			wantMessage: "user not found with id abc123",
		},
		{
			name:        "InvalidCode reports remaining attempts",
			err:         InvalidCode(2),
			wantMessage: "invalid OTP, 2 attempts remaining",
		},
		{
			name:        "Invalid with a single detail uses it as the message",
			err:         Invalid([]string{"password must be at least 6 characters"}),
			wantMessage: "password must be at least 6 characters",
		},
		{
			name:        "Invalid with several details summarises",
			err:         Invalid([]string{"name is required", "email is invalid"}),
			wantMessage: "validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("user", "abc123")
	if unwrapped := err.Unwrap(); unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Unavailable("credential store unavailable", cause)

	if !errors.Is(err, cause) {
		t.Error("Unavailable() should keep the underlying cause in the chain")
	}
	if err.Error() != "credential store unavailable" {
		t.Errorf("Error() = %q, want the client-facing message only", err.Error())
	}
}

func TestInvalidCodeExtra(t *testing.T) {
	err := InvalidCode(1)
	if got := err.Extra["attemptsRemaining"]; got != 1 {
		t.Errorf("Extra[attemptsRemaining] = %v, want 1", got)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("email", "invalid email format")

	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
	if len(err.Details) != 1 || err.Details[0] != "invalid email format" {
		t.Errorf("Details = %v, want [invalid email format]", err.Details)
	}
}
