package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/incubator/internal/apperror"
	"github.com/sakif/incubator/internal/auth"
	"github.com/sakif/incubator/internal/model"
	"github.com/sakif/incubator/internal/otp"
	"github.com/sakif/incubator/internal/repository"
)

// fakeUserRepo is an in-memory repository.UserRepository that enforces the
// same sparse uniqueness as the real stores.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int

	// blindLookups makes GetByEmail/GetByPhone report NotFound even when a
	// row exists, to simulate losing a race after the pre-check.
	blindLookups bool
	// err, when set, is returned by every method.
	err error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) conflict(u *model.User) error {
	for id, other := range f.users {
		if id == u.ID {
			continue
		}
		switch {
		case u.Email != "" && other.Email == u.Email:
			return apperror.Duplicate(repository.FieldEmail, repository.DuplicateMessage(repository.FieldEmail))
		case u.PhoneNumber != "" && other.PhoneNumber == u.PhoneNumber:
			return apperror.Duplicate(repository.FieldPhone, repository.DuplicateMessage(repository.FieldPhone))
		case u.GoogleID != "" && other.GoogleID == u.GoogleID:
			return apperror.Duplicate(repository.FieldGoogleID, repository.DuplicateMessage(repository.FieldGoogleID))
		}
	}
	return nil
}

func (f *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if !u.HasIdentity() {
		return repository.MissingIdentity()
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	if err := f.conflict(u); err != nil {
		return err
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	f.users[u.ID] = &stored
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, key string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	if f.blindLookups {
		return nil, apperror.NotFound("user", email)
	}
	return f.find(func(u *model.User) bool { return email != "" && u.Email == email }, email)
}

func (f *fakeUserRepo) GetByPhone(_ context.Context, phone string) (*model.User, error) {
	if f.blindLookups {
		f.blindLookups = false // only the first lookup loses the race
		return nil, apperror.NotFound("user", phone)
	}
	return f.find(func(u *model.User) bool { return phone != "" && u.PhoneNumber == phone }, phone)
}

func (f *fakeUserRepo) GetByGoogleID(_ context.Context, googleID string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return googleID != "" && u.GoogleID == googleID }, googleID)
}

func (f *fakeUserRepo) Update(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.users[u.ID]; !ok {
		return apperror.NotFound("user", u.ID)
	}
	if err := f.conflict(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now()
	stored := *u
	f.users[u.ID] = &stored
	return nil
}

func (f *fakeUserRepo) RecordLogin(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.LastLogin = &at
	return nil
}

func (f *fakeUserRepo) MarkPhoneLogin(_ context.Context, id string, at time.Time, name string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok || !u.IsActive {
		return nil, apperror.NotFound("user", id)
	}
	u.PhoneVerified = true
	if u.Name == "" {
		u.Name = name
	}
	u.LastLogin = &at
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) LinkGoogle(_ context.Context, id string, g repository.GoogleLogin) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok || !u.IsActive || u.Email != g.Email || (u.GoogleID != "" && u.GoogleID != g.Subject) {
		return nil, apperror.NotFound("user", id)
	}
	next := *u
	next.GoogleID = g.Subject
	if err := f.conflict(&next); err != nil {
		return nil, err
	}
	next.EmailVerified = true
	if next.Name == "" {
		next.Name = g.Name
	}
	if next.Photo == "" {
		next.Photo = g.Photo
	}
	at := g.At
	next.LastLogin = &at
	*u = next
	return &next, nil
}

func (f *fakeUserRepo) RefreshGoogleLogin(_ context.Context, g repository.GoogleLogin) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var u *model.User
	for _, candidate := range f.users {
		if g.Subject != "" && candidate.GoogleID == g.Subject && candidate.IsActive {
			u = candidate
		}
	}
	if u == nil {
		return nil, apperror.NotFound("user", g.Subject)
	}
	next := *u
	if g.Name != "" {
		next.Name = g.Name
	}
	if g.Photo != "" {
		next.Photo = g.Photo
	}
	if g.Email != "" && (u.Email == "" || u.Email == g.Email) {
		next.Email = g.Email
		next.EmailVerified = true
	}
	if err := f.conflict(&next); err != nil {
		return nil, err
	}
	at := g.At
	next.LastLogin = &at
	*u = next
	return &next, nil
}

func (f *fakeUserRepo) Ping(context.Context) error { return f.err }

// insert stores u directly, bypassing the service.
func (f *fakeUserRepo) insert(t *testing.T, u *model.User) *model.User {
	t.Helper()
	if err := f.Create(context.Background(), u); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return u
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// fakeSender records deliveries.
type fakeSender struct {
	enabled bool
	err     error
	sent    map[string]string // phone → last code
}

func (f *fakeSender) Enabled() bool { return f.enabled }

func (f *fakeSender) SendOTP(_ context.Context, phone, code string) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	f.sent[phone] = code
	return nil
}

type testEnv struct {
	svc       *AuthService
	users     *fakeUserRepo
	sender    *fakeSender
	tokens    *auth.TokenService
	passwords *auth.PasswordService
}

func newTestEnv(t *testing.T, opts Options, sender *fakeSender) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := auth.NewTokenService("service-test-secret-0123456789", "incubator", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	passwords := auth.NewPasswordServiceWithCost(bcrypt.MinCost)
	ledger := otp.NewLedger(otp.NewMemoryStore(), 5*time.Minute, 3, logger)
	users := newFakeUserRepo()

	var s = NewAuthService(users, tokens, passwords, ledger, nil, opts, logger)
	if sender != nil {
		s = NewAuthService(users, tokens, passwords, ledger, sender, opts, logger)
	}
	return &testEnv{svc: s, users: users, sender: sender, tokens: tokens, passwords: passwords}
}
