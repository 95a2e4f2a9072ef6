package challenge

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uvensys/gatekeeper/lib/store"
	"github.com/uvensys/gatekeeper/lib/store/memory"
)

func testChallenge(principalID, secret string) Challenge {
	now := time.Now()
	return Challenge{
		ID:             uuid.NewString(),
		PrincipalID:    principalID,
		GuildID:        "g1",
		Secret:         secret,
		ArtifactHandle: "/tmp/" + secret + ".png",
		IssuedAt:       now,
		ExpiresAt:      now.Add(5 * time.Minute),
	}
}

func TestUpsertGetRoundTrip(t *testing.T) {
	s := NewStore(memory.New(t.Context()), time.Hour, nil)

	want := testChallenge(t.Name(), "abc123")
	if err := s.Upsert(t.Context(), want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(t.Context(), t.Name())
	if err != nil {
		t.Fatal(err)
	}

	if got.ID != want.ID || got.Secret != want.Secret || got.ArtifactHandle != want.ArtifactHandle || got.GuildID != want.GuildID {
		t.Errorf("record came back mangled: %+v", got)
	}

	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("wanted expiry %v, got: %v", want.ExpiresAt, got.ExpiresAt)
	}
}

func TestUpsertReplacesWholly(t *testing.T) {
	s := NewStore(memory.New(t.Context()), time.Hour, nil)

	first := testChallenge(t.Name(), "first1")
	if err := s.Upsert(t.Context(), first); err != nil {
		t.Fatal(err)
	}

	second := testChallenge(t.Name(), "second")
	if err := s.Upsert(t.Context(), second); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(t.Context(), t.Name())
	if err != nil {
		t.Fatal(err)
	}

	if got.Secret == first.Secret {
		t.Error("old secret still matches after replacement")
	}

	if got.Secret != second.Secret || got.ID != second.ID {
		t.Errorf("wanted the replacement record, got: %+v", got)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	s := NewStore(memory.New(t.Context()), time.Hour, nil)

	if err := s.Upsert(t.Context(), testChallenge(t.Name(), "abc123")); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(t.Context(), t.Name()); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(t.Context(), t.Name()); err != nil {
		t.Errorf("wanted removing an absent record to succeed, got: %v", err)
	}

	if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("wanted ErrNotFound after removal, got: %v", err)
	}
}

func TestExpiredHelpers(t *testing.T) {
	ch := testChallenge(t.Name(), "abc123")

	if ch.Expired(time.Now()) {
		t.Error("fresh challenge reports expired")
	}

	if !ch.Expired(ch.ExpiresAt.Add(time.Second)) {
		t.Error("stale challenge reports live")
	}

	if ch.Remaining(ch.ExpiresAt.Add(time.Hour)) != 0 {
		t.Error("remaining time went negative")
	}
}

func TestUpsertHonorsInjectedClock(t *testing.T) {
	// A pinned clock far from the wall clock must not shorten the backend
	// TTL: records live relative to the clock that minted ExpiresAt.
	pinned := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(memory.New(t.Context()), time.Hour, func() time.Time { return pinned })

	ch := testChallenge(t.Name(), "abc123")
	ch.IssuedAt = pinned
	ch.ExpiresAt = pinned.Add(5 * time.Minute)

	if err := s.Upsert(t.Context(), ch); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(t.Context(), t.Name())
	if err != nil {
		t.Fatalf("record vanished immediately after upsert: %v", err)
	}

	if got.Secret != ch.Secret {
		t.Errorf("record came back mangled: %+v", got)
	}
}


