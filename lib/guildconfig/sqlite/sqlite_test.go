package sqlite

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/uvensys/gatekeeper/lib/guildconfig"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "configs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestUpsertGet(t *testing.T) {
	s := openTestStore(t)

	want := guildconfig.GuildConfig{
		GuildID:         "100",
		VerifiedRoleIDs: []string{"200", "201"},
		PanelMessage:    "Click the button to verify.",
		TimerMinutes:    5,
	}

	if err := s.Upsert(t.Context(), want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(t.Context(), "100")
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("wanted %+v, got: %+v", want, got)
	}
}

func TestUpsertReplaces(t *testing.T) {
	s := openTestStore(t)

	first := guildconfig.GuildConfig{
		GuildID:         "100",
		VerifiedRoleIDs: []string{"200"},
		PanelMessage:    "first",
		TimerMinutes:    5,
	}
	if err := s.Upsert(t.Context(), first); err != nil {
		t.Fatal(err)
	}

	second := first
	second.VerifiedRoleIDs = []string{"300", "301"}
	second.TimerMinutes = 10
	if err := s.Upsert(t.Context(), second); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(t.Context(), "100")
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(got, second) {
		t.Errorf("wanted the replacement config %+v, got: %+v", second, got)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Get(t.Context(), "999"); !errors.Is(err, guildconfig.ErrNotFound) {
		t.Errorf("wanted ErrNotFound, got: %v", err)
	}
}

func TestUpsertRejectsInvalid(t *testing.T) {
	s := openTestStore(t)

	if err := s.Upsert(t.Context(), guildconfig.GuildConfig{GuildID: "100"}); err == nil {
		t.Error("wanted invalid config to be rejected, it was not")
	}
}


