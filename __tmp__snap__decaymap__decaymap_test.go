package decaymap

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	m := New[string, int]()

	m.Set("a", 1, time.Minute)

	got, ok := m.Get("a")
	if !ok {
		t.Fatal("wanted a to exist, it does not")
	}
	if got != 1 {
		t.Errorf("wanted 1, got: %d", got)
	}

	if _, ok := m.Get("b"); ok {
		t.Error("wanted b to not exist, it does")
	}
}

func TestDecay(t *testing.T) {
	m := New[string, string]()

	m.Set(t.Name(), "value", 10*time.Millisecond)
	time.Sleep(15 * time.Millisecond)

	if _, ok := m.Get(t.Name()); ok {
		t.Error("wanted entry to decay, it did not")
	}
}

func TestZeroTTLNeverDecays(t *testing.T) {
	m := New[string, string]()

	m.Set(t.Name(), "value", 0)
	time.Sleep(15 * time.Millisecond)

	if _, ok := m.Get(t.Name()); !ok {
		t.Error("wanted entry with zero ttl to survive, it did not")
	}
}

func TestDelete(t *testing.T) {
	m := New[string, int]()

	m.Set(t.Name(), 1, time.Minute)

	if !m.Delete(t.Name()) {
		t.Error("wanted Delete to report a live entry, it did not")
	}

	if m.Delete(t.Name()) {
		t.Error("wanted second Delete to report absence, it did not")
	}
}

func TestCleanup(t *testing.T) {
	m := New[string, int]()

	m.Set("live", 1, time.Minute)
	m.Set("dead", 2, 10*time.Millisecond)
	time.Sleep(15 * time.Millisecond)

	m.Cleanup()

	if m.Len() != 1 {
		t.Errorf("wanted 1 live entry after cleanup, got: %d", m.Len())
	}
}


