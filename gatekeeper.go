// Package gatekeeper contains the constants shared between the verification
// engine in lib and the daemon in cmd/gatekeeperd.
package gatekeeper

import "time"

// Version is the current version of gatekeeper. Set at build time.
var Version = "devel"

const (
	// DefaultSecretLength is the number of characters in a challenge secret.
	DefaultSecretLength = 6

	// DefaultPresentDelay is the wait between presentation retry attempts.
	DefaultPresentDelay = 2 * time.Second

	// DefaultPresentAttempts bounds presentation retries before the user is
	// offered a manual retry affordance.
	DefaultPresentAttempts = 5

	// StoreGrace is how long a challenge record outlives its own deadline in
	// the backing store. The record must stay readable after ExpiresAt so the
	// expiry pass can recover the artifact handle and delete the artifact;
	// the store TTL is only a backstop against leaks.
	StoreGrace = time.Hour
)
