// Package challenge defines the challenge record and its keyed storage.
package challenge

import "time"

// Challenge is the metadata about a single challenge issuance. There is at
// most one non-retired Challenge per principal at any time; it is only ever
// replaced whole, never partially updated.
type Challenge struct {
	ID             string    `json:"id"`             // UUID identifying the challenge
	PrincipalID    string    `json:"principalId"`    // The member being verified
	GuildID        string    `json:"guildId"`        // The guild the flow started in
	Secret         string    `json:"secret"`         // The expected answer
	ArtifactHandle string    `json:"artifactHandle"` // Where the rendered puzzle lives
	IssuedAt       time.Time `json:"issuedAt"`       // When the challenge was issued
	ExpiresAt      time.Time `json:"expiresAt"`      // When the challenge stops being answerable
}

// Expired reports whether the challenge can no longer be answered at now.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Remaining is the answerable time left at now, floored at zero.
func (c Challenge) Remaining(now time.Time) time.Duration {
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}


