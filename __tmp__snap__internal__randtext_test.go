package internal

import (
	"strings"
	"testing"
)

func TestRandomText(t *testing.T) {
	seen := map[string]struct{}{}

	for range 32 {
		text, err := RandomText(6)
		if err != nil {
			t.Fatal(err)
		}

		if len(text) != 6 {
			t.Errorf("wanted 6 characters, got %d: %q", len(text), text)
		}

		for _, r := range text {
			if !strings.ContainsRune(secretAlphabet, r) {
				t.Errorf("character %q is not in the secret alphabet", r)
			}
		}

		seen[text] = struct{}{}
	}

	// 32 draws from 62^6 possibilities colliding down to one value means the
	// generator is broken.
	if len(seen) == 1 {
		t.Error("every generated secret was identical")
	}
}


