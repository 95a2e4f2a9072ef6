package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/uvensys/gatekeeper/lib/store"
)

// KeyPrefix namespaces challenge records in the shared backend store.
const KeyPrefix = "gatekeeper:challenge:"

// Store keeps the active challenge per principal, one logical record per key.
// The engine is the only writer. Backend-unavailable errors propagate to the
// caller; the store never retries.
type Store struct {
	db store.JSON[Challenge]

	// grace is how long a record stays readable in the backend past its own
	// ExpiresAt, so the expiry pass can still recover the artifact handle.
	// The backend TTL is a leak backstop, never the expiry authority.
	grace time.Duration

	now func() time.Time
}

// NewStore wraps backend with challenge encoding. now is the clock ExpiresAt
// values are relative to; nil means the wall clock.
func NewStore(backend store.Interface, grace time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}

	return &Store{
		db: store.JSON[Challenge]{
			Underlying: backend,
			Prefix:     KeyPrefix,
		},
		grace: grace,
		now:   now,
	}
}

// Upsert atomically replaces any existing challenge for the principal.
// Last-writer-wins is acceptable: issuance is serialized per principal by the
// session registry.
func (s *Store) Upsert(ctx context.Context, ch Challenge) error {
	ttl := ch.ExpiresAt.Sub(s.now()) + s.grace
	return s.db.Set(ctx, ch.PrincipalID, ch, ttl)
}

// Get returns the live challenge for the principal or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, principalID string) (Challenge, error) {
	return s.db.Get(ctx, principalID)
}

// Remove retires the principal's challenge record. Removing an absent record
// is success: expiry and answer paths race by design and the loser must see
// a clean no-op.
func (s *Store) Remove(ctx context.Context, principalID string) error {
	if err := s.db.Delete(ctx, principalID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	return nil
}


