package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-at-least-16-chars!!"

// newTestTokenService creates a TokenService with a fixed secret and a clock
// the test can move.
func newTestTokenService(t *testing.T, clock *time.Time) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret, "incubator", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	if clock != nil {
		ts.now = func() time.Time { return *clock }
	}
	return ts
}

func TestNewTokenService_Rejects(t *testing.T) {
	if _, err := NewTokenService("", "incubator", time.Hour); err == nil {
		t.Error("NewTokenService() should reject an empty secret")
	}
	if _, err := NewTokenService(testSecret, "incubator", 0); err == nil {
		t.Error("NewTokenService() should reject a zero lifetime")
	}
}

func TestGenerateValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t, nil)

	token, err := ts.Generate("user-123")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("token %q is not header.payload.signature", token)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got != "user-123" {
		t.Errorf("Validate() = %q, want %q", got, "user-123")
	}
}

func TestGenerate_Claims(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestTokenService(t, &now)

	token, err := ts.Generate("user-1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var c jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	if c.Issuer != "incubator" || c.Subject != "user-1" || c.ID == "" {
		t.Errorf("unexpected claims: %+v", c)
	}
	if got := c.ExpiresAt.Sub(c.IssuedAt.Time); got != time.Hour {
		t.Errorf("exp - iat = %v, want 1h", got)
	}
}

func TestGenerate_DistinctTokensSameSecond(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestTokenService(t, &now)

	a, _ := ts.Generate("user-1")
	b, _ := ts.Generate("user-1")
	if a == b {
		t.Error("two tokens issued in the same second should differ")
	}
}

func TestGenerate_EmptySubject(t *testing.T) {
	ts := newTestTokenService(t, nil)
	if _, err := ts.Generate(""); err == nil {
		t.Error("Generate(\"\") should fail")
	}
}

// A token is accepted just before exp and rejected as expired just after.
func TestValidate_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestTokenService(t, &now)

	token, err := ts.Generate("user-1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	now = now.Add(time.Hour - time.Second)
	if _, err := ts.Validate(token); err != nil {
		t.Fatalf("Validate() before expiry error = %v", err)
	}

	now = now.Add(2 * time.Second)
	_, err = ts.Validate(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Validate() after expiry error = %v, want ErrTokenExpired", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	ts := newTestTokenService(t, nil)
	good, _ := ts.Generate("user-1")

	other, err := NewTokenService("a-completely-different-secret!!", "incubator", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	foreignSig, _ := other.Generate("user-1")

	otherIssuer, _ := NewTokenService(testSecret, "someone-else", time.Hour)
	foreignIss, _ := otherIssuer.Generate("user-1")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "incubator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noneToken, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"tampered":     good[:len(good)-2] + "xx",
		"wrong secret": foreignSig,
		"wrong issuer": foreignIss,
		"alg none":     noneToken,
		"truncated":    strings.SplitN(good, ".", 2)[0],
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ts.Validate(token)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Validate() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
