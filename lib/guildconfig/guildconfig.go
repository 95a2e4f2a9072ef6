// Package guildconfig holds the per-guild verification settings.
package guildconfig

import (
	"context"
	"errors"
	"fmt"
)

const (
	// MaxRoles is how many roles a guild can grant on verification.
	MaxRoles = 5
)

var (
	// ErrNotFound is returned when no configuration exists for a guild. The
	// engine treats this as a hard precondition failure for every flow.
	ErrNotFound = errors.New("guildconfig: no configuration for guild")
)

// GuildConfig is one guild's verification settings. Read-only from the
// engine's perspective.
type GuildConfig struct {
	GuildID         string   `json:"guildId" yaml:"guildId"`
	VerifiedRoleIDs []string `json:"verifiedRoleIds" yaml:"verifiedRoleIds"`
	PanelMessage    string   `json:"panelMessage" yaml:"panelMessage"`
	TimerMinutes    int      `json:"timerMinutes" yaml:"timerMinutes"`
}

func (gc GuildConfig) Valid() error {
	var errs []error

	if gc.GuildID == "" {
		errs = append(errs, errors.New("guildconfig: guild id is required"))
	}

	if len(gc.VerifiedRoleIDs) == 0 {
		errs = append(errs, errors.New("guildconfig: at least one verified role is required"))
	}

	if len(gc.VerifiedRoleIDs) > MaxRoles {
		errs = append(errs, fmt.Errorf("guildconfig: at most %d verified roles are allowed, got %d", MaxRoles, len(gc.VerifiedRoleIDs)))
	}

	if gc.TimerMinutes <= 0 {
		errs = append(errs, fmt.Errorf("guildconfig: challenge timer %d must be positive", gc.TimerMinutes))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Source resolves a guild's settings. Get returns ErrNotFound when the guild
// has never been configured.
type Source interface {
	Get(ctx context.Context, guildID string) (GuildConfig, error)
}
