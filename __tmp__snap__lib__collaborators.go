package lib

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied reports that the chat platform refused an operation
	// outright. Permanent; never retried.
	ErrPermissionDenied = errors.New("gatekeeper: permission denied by platform")

	// ErrUpstreamUnavailable reports that the chat platform is temporarily
	// unavailable. Transient; retried per the presentation retry policy.
	ErrUpstreamUnavailable = errors.New("gatekeeper: platform temporarily unavailable")
)

// Action is something the principal can do with a presented challenge.
type Action string

const (
	ActionSubmitAnswer Action = "submit-answer"
	ActionRequestNew   Action = "request-new"
	ActionRetry        Action = "retry"
)

// Presentation is one outbound "show the puzzle" payload.
type Presentation struct {
	GuildID        string        `json:"guildId"`
	ArtifactHandle string        `json:"artifactHandle"`
	PanelMessage   string        `json:"panelMessage"`
	Remaining      time.Duration `json:"remaining"`
	Actions        []Action      `json:"actions"`
}

// MemberInfo is what the platform knows about a guild member, used to fill
// audit outcomes.
type MemberInfo struct {
	Username      string
	Discriminator string
	GuildName     string
}

// Directory answers questions about guild membership and roles.
type Directory interface {
	// IsMember reports whether the principal is still in the guild.
	IsMember(ctx context.Context, guildID, principalID string) (bool, error)

	// HasAnyRole reports whether the principal holds at least one of roleIDs.
	HasAnyRole(ctx context.Context, guildID, principalID string, roleIDs []string) (bool, error)

	// Describe resolves display identity for the audit log.
	Describe(ctx context.Context, guildID, principalID string) (MemberInfo, error)
}

// RoleGrantor adds roles to a verified principal. Grant is a single batch
// call for the whole role set; it fails with ErrPermissionDenied or
// ErrUpstreamUnavailable (wrapped).
type RoleGrantor interface {
	Grant(ctx context.Context, guildID, principalID string, roleIDs []string) error
}

// Presenter delivers a Presentation to the principal. Transient delivery
// failures are ErrUpstreamUnavailable (wrapped) and are retried by the
// engine.
type Presenter interface {
	Present(ctx context.Context, principalID string, p Presentation) error
}


