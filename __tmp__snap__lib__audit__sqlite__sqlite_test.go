package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/uvensys/gatekeeper/lib/audit"
)

func TestAppendRecent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	first := audit.Outcome{
		PrincipalID:   "1",
		Username:      "alice",
		Discriminator: "0001",
		GuildID:       "100",
		GuildName:     "testers",
		VerifiedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	second := first
	second.PrincipalID = "2"
	second.Username = "bob"

	if err := l.Append(t.Context(), first); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(t.Context(), second); err != nil {
		t.Fatal(err)
	}

	got, err := l.Recent(t.Context(), 10)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("wanted 2 outcomes, got: %d", len(got))
	}

	// Newest first.
	if got[0].PrincipalID != "2" || got[1].PrincipalID != "1" {
		t.Errorf("wrong order: %+v", got)
	}

	if !got[1].VerifiedAt.Equal(first.VerifiedAt) {
		t.Errorf("timestamp mangled: wanted %v, got: %v", first.VerifiedAt, got[1].VerifiedAt)
	}
}

func TestRecentLimit(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	for range 5 {
		if err := l.Append(t.Context(), audit.Outcome{
			PrincipalID: "1", Username: "alice", Discriminator: "0001",
			GuildID: "100", GuildName: "testers", VerifiedAt: time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.Recent(t.Context(), 3)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 3 {
		t.Errorf("wanted 3 outcomes, got: %d", len(got))
	}
}


