package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/incubator/internal/apperror"
	"github.com/sakif/incubator/internal/auth"
	"github.com/sakif/incubator/internal/model"
	"github.com/sakif/incubator/internal/otp"
	"github.com/sakif/incubator/internal/repository"
	sqliteRepo "github.com/sakif/incubator/internal/repository/sqlite"
)

// interleavingRepo runs a second writer right after the service's first
// identity lookup, i.e. between its read and its write.
type interleavingRepo struct {
	repository.UserRepository
	between func(seen *model.User)
}

func (r *interleavingRepo) fire(u *model.User) {
	if r.between != nil {
		hook := r.between
		r.between = nil
		hook(u)
	}
}

func (r *interleavingRepo) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	u, err := r.UserRepository.GetByPhone(ctx, phone)
	if err == nil {
		r.fire(u)
	}
	return u, err
}

func (r *interleavingRepo) GetByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	u, err := r.UserRepository.GetByGoogleID(ctx, googleID)
	if err == nil {
		r.fire(u)
	}
	return u, err
}

func (r *interleavingRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := r.UserRepository.GetByEmail(ctx, email)
	if err == nil {
		r.fire(u)
	}
	return u, err
}

// newSQLiteService wires the service to a real in-memory SQLite store.
func newSQLiteService(t *testing.T) (*AuthService, *sqliteRepo.DB, *interleavingRepo) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("service-test-secret-0123456789", "incubator", time.Hour)
	require.NoError(t, err)

	repo := &interleavingRepo{UserRepository: db}
	ledger := otp.NewLedger(otp.NewMemoryStore(), 5*time.Minute, 3, logger)
	svc := NewAuthService(repo, tokens, auth.NewPasswordServiceWithCost(bcrypt.MinCost), ledger, nil,
		Options{AllowMockFallback: true}, logger)
	return svc, db, repo
}

func TestPhoneLoginKeepsConcurrentGoogleLink(t *testing.T) {
	svc, db, repo := newSQLiteService(t)
	ctx := context.Background()

	seed := &model.User{PhoneNumber: testPhone, IsActive: true}
	require.NoError(t, db.Create(ctx, seed))

	repo.between = func(seen *model.User) {
		other := *seen
		other.GoogleID = "g-concurrent"
		other.Email = "linked@example.com"
		require.NoError(t, db.Update(ctx, &other))
	}

	d, err := svc.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
	res, err := svc.VerifyOTP(ctx, testPhone, d.Code, "")
	require.NoError(t, err)
	assert.Equal(t, "g-concurrent", res.User.GoogleID)

	stored, err := db.GetUserByID(ctx, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, "g-concurrent", stored.GoogleID)
	assert.Equal(t, "linked@example.com", stored.Email)
	assert.True(t, stored.PhoneVerified)
	assert.Equal(t, "User 3210", stored.Name)
	assert.NotNil(t, stored.LastLogin)
}

func TestPhoneLoginAfterConcurrentDeactivation(t *testing.T) {
	svc, db, repo := newSQLiteService(t)
	ctx := context.Background()

	seed := &model.User{PhoneNumber: testPhone, IsActive: true}
	require.NoError(t, db.Create(ctx, seed))

	repo.between = func(seen *model.User) {
		other := *seen
		other.IsActive = false
		require.NoError(t, db.Update(ctx, &other))
	}

	d, err := svc.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
	_, err = svc.VerifyOTP(ctx, testPhone, d.Code, "")
	require.ErrorIs(t, err, apperror.ErrInvalidCredential)

	stored, err := db.GetUserByID(ctx, seed.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Nil(t, stored.LastLogin)
}

func TestGoogleLoginKeepsConcurrentPhone(t *testing.T) {
	svc, db, repo := newSQLiteService(t)
	ctx := context.Background()

	seed := &model.User{Name: "Asha", Email: "asha@example.com", GoogleID: "g-1", IsActive: true}
	require.NoError(t, db.Create(ctx, seed))

	repo.between = func(seen *model.User) {
		other := *seen
		other.PhoneNumber = testPhone
		other.PhoneVerified = true
		require.NoError(t, db.Update(ctx, &other))
	}

	res, err := svc.ResolveOAuthIdentity(ctx, model.OAuthProfile{Subject: "g-1", Email: "asha@example.com", Name: "Asha K"})
	require.NoError(t, err)
	assert.Equal(t, testPhone, res.User.PhoneNumber)
	assert.Equal(t, "Asha K", res.User.Name)

	stored, err := db.GetUserByID(ctx, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, testPhone, stored.PhoneNumber)
	assert.True(t, stored.PhoneVerified)
}

func TestGoogleLinkLosesToConcurrentLink(t *testing.T) {
	svc, db, repo := newSQLiteService(t)
	ctx := context.Background()

	seed := &model.User{Name: "Ravi", Email: "ravi@example.com", PasswordHash: "hash", IsActive: true}
	require.NoError(t, db.Create(ctx, seed))

	repo.between = func(seen *model.User) {
		other := *seen
		other.GoogleID = "g-first"
		require.NoError(t, db.Update(ctx, &other))
	}

	_, err := svc.ResolveOAuthIdentity(ctx, model.OAuthProfile{Subject: "g-second", Email: "ravi@example.com"})
	require.ErrorIs(t, err, apperror.ErrIdentityConflict)

	stored, err := db.GetUserByID(ctx, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, "g-first", stored.GoogleID)
}
