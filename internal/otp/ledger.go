package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/sakif/incubator/internal/apperror"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 3
	// CodeLength digits, zero-padded: "000000" to "999999".
	CodeLength = 6
)

var codeSpace = big.NewInt(1_000_000)

// Client-facing messages for the terminal states.
const (
	MsgNoOTP   = "no OTP requested or it has expired"
	MsgExpired = "OTP has expired, please request a new one"
	MsgLocked  = "too many failed attempts, please request a new OTP"
)

// Ledger issues and verifies codes on top of a Store and sweeps expired
// records in the background.
type Ledger struct {
	store       Store
	ttl         time.Duration
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewLedger creates a Ledger. Zero ttl or maxAttempts select the defaults.
func NewLedger(store Store, ttl time.Duration, maxAttempts int, logger *slog.Logger) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Ledger{
		store:       store,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

// TTL is the lifetime of a freshly issued code.
func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

// Issue generates a code for phone, replacing any live one, and returns it
// with its expiry.
func (l *Ledger) Issue(ctx context.Context, phone string) (string, time.Time, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := l.now().Add(l.ttl)
	if err := l.store.Put(ctx, phone, Record{Code: code, ExpiresAt: expiresAt}); err != nil {
		return "", time.Time{}, fmt.Errorf("otp: storing code: %w", err)
	}
	return code, expiresAt, nil
}

// Discard drops the live code for phone, if any.
func (l *Ledger) Discard(ctx context.Context, phone string) error {
	if err := l.store.Delete(ctx, phone); err != nil {
		return fmt.Errorf("otp: deleting code: %w", err)
	}
	return nil
}

// Verify checks code against the live record for phone.
//
// It returns nil on a match and consumes the record. Otherwise the error is
// one of:
//   - apperror.ErrNotFound    nothing issued, or already consumed or swept
//   - apperror.ErrExpired     past ExpiresAt (record deleted)
//   - apperror.ErrLocked      attempts exhausted (record deleted)
//   - apperror.ErrInvalidCode wrong code; Extra["attemptsRemaining"] says how many are left
//
// The whole check runs inside Store.Update, so two concurrent wrong guesses
// both count.
func (l *Ledger) Verify(ctx context.Context, phone, code string) error {
	now := l.now()
	var result error

	err := l.store.Update(ctx, phone, func(rec Record, found bool) (Record, bool) {
		switch {
		case !found:
			result = apperror.Missing(MsgNoOTP)
			return rec, false
		case now.After(rec.ExpiresAt):
			result = apperror.Expired(MsgExpired)
			return rec, false
		case rec.Attempts >= l.maxAttempts:
			result = apperror.Locked(MsgLocked)
			return rec, false
		case subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1:
			rec.Attempts++
			result = apperror.InvalidCode(l.maxAttempts - rec.Attempts)
			return rec, true
		}
		result = nil
		return rec, false
	})
	if err != nil {
		return fmt.Errorf("otp: verifying code: %w", err)
	}

	if errors.Is(result, apperror.ErrLocked) {
		l.logger.Warn("otp locked after too many attempts", slog.String("phone", MaskPhone(phone)))
	}
	return result
}

// Sweep deletes expired records and returns how many went.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	n, err := l.store.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("otp: sweeping: %w", err)
	}
	return n, nil
}

// Start runs Sweep every interval until Stop is called. Calling it more
// than once has no effect.
func (l *Ledger) Start(interval time.Duration) {
	l.startOnce.Do(func() {
		l.logger.Info("starting otp sweeper", slog.Duration("interval", interval))
		l.wg.Add(1)
		go l.sweeper(interval)
	})
}

// Stop ends the sweeper and waits for it to exit. Safe to call without Start
// and more than once.
func (l *Ledger) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}

func (l *Ledger) sweeper(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			n, err := l.Sweep(context.Background())
			if err != nil {
				l.logger.Error("otp sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				l.logger.Debug("swept expired otps", slog.Int("count", n))
			}
		}
	}
}

// GenerateCode returns CodeLength uniformly random digits from crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("otp: generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// MaskPhone keeps the last four digits for logs: "+91******3210".
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	prefix := ""
	if phone[0] == '+' && len(phone) > 7 {
		prefix = phone[:3]
	}
	masked := make([]byte, len(phone)-len(prefix)-4)
	for i := range masked {
		masked[i] = '*'
	}
	return prefix + string(masked) + phone[len(phone)-4:]
}
