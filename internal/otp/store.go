// Package otp implements the one-time-password ledger for phone sign-in.
//
// STATE MACHINE (per phone number):
//
//	NONE ──Issue──▶ ISSUED ──Verify(match)──────────▶ VERIFIED (record deleted)
//	                  │  ├──Verify after ExpiresAt───▶ EXPIRED  (record deleted)
//	                  │  └──Verify with Attempts ≥ max▶ LOCKED  (record deleted)
//	                  └──Issue again──▶ ISSUED (record replaced, attempts reset)
//
// A wrong code increments Attempts and keeps the record. Every terminal
// transition deletes it, so a code can be used at most once.
package otp

import (
	"context"
	"sync"
	"time"
)

// Record is the live OTP for one phone number.
type Record struct {
	Code      string
	ExpiresAt time.Time
	Attempts  int
}

// Store persists OTP records keyed by phone number.
//
// Update is the only read-modify-write entry point: fn sees the current
// record (found=false when there is none) and returns the record to store
// and whether to keep it. Implementations run fn atomically with respect to
// other calls for the same phone.
type Store interface {
	Put(ctx context.Context, phone string, rec Record) error
	Delete(ctx context.Context, phone string) error
	Update(ctx context.Context, phone string, fn func(rec Record, found bool) (next Record, keep bool)) error
	// DeleteExpired removes every record whose ExpiresAt is before now and
	// reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore is a process-local Store. Records are lost on restart, which
// only forces affected users to request a new code.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Put(_ context.Context, phone string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[phone] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, phone)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, phone string, fn func(Record, bool) (Record, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found := s.records[phone]
	next, keep := fn(rec, found)
	if keep {
		s.records[phone] = next
	} else {
		delete(s.records, phone)
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for phone, rec := range s.records {
		if now.After(rec.ExpiresAt) {
			delete(s.records, phone)
			n++
		}
	}
	return n, nil
}

// Len is the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
