// Package audit records successful verifications. The log is append-only:
// nothing in gatekeeper ever mutates or deletes an outcome.
package audit

import (
	"context"
	"sync"
	"time"
)

// Outcome is one successful verification.
type Outcome struct {
	PrincipalID   string    `json:"principalId"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	GuildID       string    `json:"guildId"`
	GuildName     string    `json:"guildName"`
	VerifiedAt    time.Time `json:"verifiedAt"`
}

// Log appends verification outcomes.
type Log interface {
	Append(ctx context.Context, outcome Outcome) error
}

// Memory is an in-process Log for tests and for deployments that do not keep
// an audit trail.
type Memory struct {
	outcomes []Outcome
	lock     sync.Mutex
}

func (m *Memory) Append(_ context.Context, outcome Outcome) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.outcomes = append(m.outcomes, outcome)
	return nil
}

// Outcomes copies the appended outcomes in insertion order.
func (m *Memory) Outcomes() []Outcome {
	m.lock.Lock()
	defer m.lock.Unlock()

	result := make([]Outcome, len(m.outcomes))
	copy(result, m.outcomes)
	return result
}
