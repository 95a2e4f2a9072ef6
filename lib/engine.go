// Package lib implements the verification session engine: the per-principal
// state machine that issues a challenge, enforces its expiry, tolerates
// transient failures of the outbound presentation channel, prevents duplicate
// concurrent challenges, and performs the exactly-once success transition on
// a correct answer.
package lib

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/uvensys/gatekeeper"
	"github.com/uvensys/gatekeeper/internal"
	"github.com/uvensys/gatekeeper/lib/audit"
	"github.com/uvensys/gatekeeper/lib/challenge"
	"github.com/uvensys/gatekeeper/lib/expiry"
	"github.com/uvensys/gatekeeper/lib/guildconfig"
	"github.com/uvensys/gatekeeper/lib/render"
	"github.com/uvensys/gatekeeper/lib/retry"
	"github.com/uvensys/gatekeeper/lib/session"
	"github.com/uvensys/gatekeeper/lib/store"
)

// Options configures a new Engine. Store, Renderer, Configs, Directory and
// Roles are required; Presenter and Audit are optional.
type Options struct {
	Store     store.Interface
	Renderer  render.Renderer
	Configs   guildconfig.Source
	Directory Directory
	Roles     RoleGrantor
	Presenter Presenter
	Audit     audit.Log

	// SecretLength is the number of characters in challenge secrets.
	SecretLength int

	// PresentDelay is the wait between presentation retry attempts.
	PresentDelay time.Duration

	// PresentAttempts bounds presentation retries. Zero means unbounded,
	// which is almost never what a deployment wants.
	PresentAttempts int

	// StoreGrace is how long challenge records outlive their deadline in the
	// backing store so the expiry pass can recover artifact handles.
	StoreGrace time.Duration

	// Now overrides the engine's clock. Tests only.
	Now func() time.Time
}

func (o Options) valid() error {
	var errs []error

	if o.Store == nil {
		errs = append(errs, errors.New("lib: Options.Store is required"))
	}
	if o.Renderer == nil {
		errs = append(errs, errors.New("lib: Options.Renderer is required"))
	}
	if o.Configs == nil {
		errs = append(errs, errors.New("lib: Options.Configs is required"))
	}
	if o.Directory == nil {
		errs = append(errs, errors.New("lib: Options.Directory is required"))
	}
	if o.Roles == nil {
		errs = append(errs, errors.New("lib: Options.Roles is required"))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Engine drives verification flows. One Engine serves every principal; the
// session registry serializes issuance per principal.
type Engine struct {
	challenges *challenge.Store
	sessions   *session.Registry
	scheduler  *expiry.Scheduler
	renderer   render.Renderer
	configs    guildconfig.Source
	directory  Directory
	roles      RoleGrantor
	presenter  Presenter
	auditLog   audit.Log

	secretLength    int
	presentDelay    time.Duration
	presentAttempts int
	now             func() time.Time
}

func New(opts Options) (*Engine, error) {
	if err := opts.valid(); err != nil {
		return nil, err
	}

	if opts.SecretLength == 0 {
		opts.SecretLength = gatekeeper.DefaultSecretLength
	}
	if opts.PresentDelay == 0 {
		opts.PresentDelay = gatekeeper.DefaultPresentDelay
	}
	if opts.PresentAttempts == 0 {
		opts.PresentAttempts = gatekeeper.DefaultPresentAttempts
	}
	if opts.StoreGrace == 0 {
		opts.StoreGrace = gatekeeper.StoreGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		challenges:      challenge.NewStore(opts.Store, opts.StoreGrace, opts.Now),
		sessions:        session.NewRegistry(),
		scheduler:       expiry.NewScheduler(),
		renderer:        opts.Renderer,
		configs:         opts.Configs,
		directory:       opts.Directory,
		roles:           opts.Roles,
		presenter:       opts.Presenter,
		auditLog:        opts.Audit,
		secretLength:    opts.SecretLength,
		presentDelay:    opts.PresentDelay,
		presentAttempts: opts.PresentAttempts,
		now:             opts.Now,
	}, nil
}

// Close stops the expiry scheduler and waits for in-flight cleanup.
func (e *Engine) Close() {
	e.scheduler.Stop()
}

// OnStart handles the principal pressing the verify button. While an
// unexpired challenge is live for them, starting again re-presents the same
// puzzle instead of minting a new one.
func (e *Engine) OnStart(ctx context.Context, principalID, guildID string) Directive {
	lg := internal.GetFlowLogger(principalID, guildID)

	gc, err := e.configs.Get(ctx, guildID)
	if err != nil {
		if errors.Is(err, guildconfig.ErrNotFound) {
			return Directive{Kind: KindConfigMissing}
		}

		lg.Error("can't load guild config", "err", err)
		return Directive{Kind: KindFailed}
	}

	hasRole, err := e.directory.HasAnyRole(ctx, guildID, principalID, gc.VerifiedRoleIDs)
	if err != nil {
		lg.Error("can't check verified roles", "err", err)
		return Directive{Kind: KindFailed}
	}
	if hasRole {
		return Directive{Kind: KindAlreadyVerified}
	}

	// The marker serializes issuance only. It is released on every exit from
	// this call: holding it while waiting for the answer would deadlock the
	// principal against their own session.
	if !e.sessions.TryAcquire(principalID) {
		return Directive{Kind: KindAlreadyInProgress}
	}
	defer e.sessions.Release(principalID)

	if ch, err := e.challenges.Get(ctx, principalID); err == nil && !ch.Expired(e.now()) {
		return e.present(ctx, lg, gc, ch)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		lg.Error("can't read challenge record", "err", err)
		return Directive{Kind: KindFailed}
	}

	return e.issue(ctx, lg, gc, principalID, guildID)
}

// OnRequestNew handles the principal asking for a fresh puzzle while one is
// outstanding.
func (e *Engine) OnRequestNew(ctx context.Context, principalID string) Directive {
	ch, err := e.challenges.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Directive{Kind: KindExpired}
		}

		slog.Error("can't read challenge record", "principal_id", principalID, "err", err)
		return Directive{Kind: KindFailed}
	}

	lg := internal.GetFlowLogger(principalID, ch.GuildID)

	gc, err := e.configs.Get(ctx, ch.GuildID)
	if err != nil {
		if errors.Is(err, guildconfig.ErrNotFound) {
			return Directive{Kind: KindConfigMissing}
		}

		lg.Error("can't load guild config", "err", err)
		return Directive{Kind: KindFailed}
	}

	if !e.sessions.TryAcquire(principalID) {
		return Directive{Kind: KindAlreadyInProgress}
	}
	defer e.sessions.Release(principalID)

	if ch.Expired(e.now()) {
		if err := e.retire(ctx, lg, ch); err != nil {
			return Directive{Kind: KindFailed}
		}
		challengesExpired.Inc()
		return Directive{Kind: KindExpired}
	}

	// Replacement retires the old artifact; the record itself is replaced by
	// the upsert, never removed first.
	if err := e.renderer.DeleteArtifact(ctx, ch.ArtifactHandle); err != nil {
		lg.Error("can't delete replaced artifact", "handle", ch.ArtifactHandle, "err", err)
	}

	return e.issue(ctx, lg, gc, principalID, ch.GuildID)
}

// OnAnswer handles a submitted answer. Expiry racing this call is fine: both
// paths re-read the store and whoever removes the record first wins.
func (e *Engine) OnAnswer(ctx context.Context, principalID, submitted string) Directive {
	ch, err := e.challenges.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Absent covers both "never started" and "expired concurrently".
			return Directive{Kind: KindExpired}
		}

		slog.Error("can't read challenge record", "principal_id", principalID, "err", err)
		return Directive{Kind: KindFailed}
	}

	lg := internal.GetFlowLogger(principalID, ch.GuildID)

	gc, err := e.configs.Get(ctx, ch.GuildID)
	if err != nil {
		if errors.Is(err, guildconfig.ErrNotFound) {
			return Directive{Kind: KindConfigMissing}
		}

		lg.Error("can't load guild config", "err", err)
		return Directive{Kind: KindFailed}
	}

	if ch.Expired(e.now()) {
		if err := e.retire(ctx, lg, ch); err != nil {
			return Directive{Kind: KindFailed}
		}
		challengesExpired.Inc()
		return Directive{Kind: KindExpired}
	}

	// Exact, case-sensitive equality. Unlimited attempts until expiry.
	if submitted != ch.Secret {
		answersIncorrect.Inc()
		return Directive{Kind: KindIncorrect}
	}

	// Retire before granting: the success transition must be exactly-once
	// even if the grant below fails.
	if err := e.retire(ctx, lg, ch); err != nil {
		return Directive{Kind: KindFailed}
	}
	e.scheduler.Disarm(principalID)

	if err := e.roles.Grant(ctx, ch.GuildID, principalID, gc.VerifiedRoleIDs); err != nil {
		grantFailures.Inc()
		lg.Error("can't grant verified roles", "roles", gc.VerifiedRoleIDs, "err", err)
		return Directive{Kind: KindGrantFailed}
	}

	challengesSolved.Inc()
	e.appendAudit(ctx, lg, ch)

	return Directive{Kind: KindSuccess}
}

// OnRetry handles the explicit retry affordance after presentation retries
// were exhausted. It re-enters the Start flow for the principal's live
// challenge.
func (e *Engine) OnRetry(ctx context.Context, principalID string) Directive {
	ch, err := e.challenges.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Directive{Kind: KindExpired}
		}

		slog.Error("can't read challenge record", "principal_id", principalID, "err", err)
		return Directive{Kind: KindFailed}
	}

	return e.OnStart(ctx, principalID, ch.GuildID)
}

// issue mints a new challenge and presents it. Callers hold the session
// marker.
func (e *Engine) issue(ctx context.Context, lg *slog.Logger, gc guildconfig.GuildConfig, principalID, guildID string) Directive {
	secret, handle, err := e.renderer.Generate(ctx, e.secretLength)
	if err != nil {
		lg.Error("can't render challenge", "err", err)
		return Directive{Kind: KindFailed}
	}

	now := e.now()
	ch := challenge.Challenge{
		ID:             uuid.NewString(),
		PrincipalID:    principalID,
		GuildID:        guildID,
		Secret:         secret,
		ArtifactHandle: handle,
		IssuedAt:       now,
		ExpiresAt:      now.Add(time.Duration(gc.TimerMinutes) * time.Minute),
	}

	if err := e.challenges.Upsert(ctx, ch); err != nil {
		lg.Error("can't persist challenge", "err", err)
		// No partial challenge may survive a failed issuance.
		if err := e.renderer.DeleteArtifact(ctx, handle); err != nil {
			lg.Error("can't delete orphaned artifact", "handle", handle, "err", err)
		}
		return Directive{Kind: KindFailed}
	}

	e.scheduler.Arm(principalID, ch.ExpiresAt.Sub(now), func(ctx context.Context) {
		e.expire(ctx, principalID)
	})

	challengesIssued.Inc()
	lg.Info("challenge issued", "challenge_id", ch.ID, "expires_at", ch.ExpiresAt)

	return e.present(ctx, lg, gc, ch)
}

// present delivers the puzzle through the presenter, retrying transient
// upstream failures until the principal leaves, gets verified elsewhere, or
// the attempts run out.
func (e *Engine) present(ctx context.Context, lg *slog.Logger, gc guildconfig.GuildConfig, ch challenge.Challenge) Directive {
	remaining := ch.Remaining(e.now())
	directive := Directive{
		Kind:             KindPresent,
		ArtifactHandle:   ch.ArtifactHandle,
		RemainingMinutes: int(math.Ceil(remaining.Minutes())),
	}

	if e.presenter == nil {
		return directive
	}

	p := Presentation{
		GuildID:        ch.GuildID,
		ArtifactHandle: ch.ArtifactHandle,
		PanelMessage:   gc.PanelMessage,
		Remaining:      remaining,
		Actions:        []Action{ActionSubmitAnswer, ActionRequestNew},
	}

	_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.presenter.Present(ctx, ch.PrincipalID, p)
	}, retry.Options{
		MaxAttempts: e.presentAttempts,
		Delay:       e.presentDelay,
		Classify: func(err error) bool {
			return errors.Is(err, ErrUpstreamUnavailable)
		},
		Stop: e.stopPredicate(gc, ch),
	})

	switch {
	case err == nil:
		return directive
	case errors.Is(err, retry.ErrAborted):
		// Not a failure: the principal left or got verified elsewhere. The
		// flow ends with no further messages.
		presentationAborts.Inc()
		lg.Info("presentation abandoned", "err", err)
		return Directive{Kind: KindNone}
	case errors.Is(err, retry.ErrExhausted):
		presentationExhaustions.Inc()
		lg.Warn("presentation retries exhausted", "err", err)
		return Directive{Kind: KindUnavailable}
	default:
		lg.Error("can't present challenge", "err", err)
		return Directive{Kind: KindFailed}
	}
}

func (e *Engine) stopPredicate(gc guildconfig.GuildConfig, ch challenge.Challenge) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		isMember, err := e.directory.IsMember(ctx, ch.GuildID, ch.PrincipalID)
		if err != nil {
			return false, err
		}
		if !isMember {
			return true, nil
		}

		return e.directory.HasAnyRole(ctx, ch.GuildID, ch.PrincipalID, gc.VerifiedRoleIDs)
	}
}

// expire is the scheduled cleanup action. It re-reads authoritative store
// state: the challenge it was armed for can have been consumed, or replaced
// by a newer one whose deadline has not passed.
func (e *Engine) expire(ctx context.Context, principalID string) {
	ch, err := e.challenges.Get(ctx, principalID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("can't read challenge record during expiry", "principal_id", principalID, "err", err)
		}
		return
	}

	if !ch.Expired(e.now()) {
		return
	}

	lg := internal.GetFlowLogger(principalID, ch.GuildID)
	if err := e.retire(ctx, lg, ch); err != nil {
		return
	}

	challengesExpired.Inc()
	lg.Info("challenge expired", "challenge_id", ch.ID)
}

// retire deletes the artifact (best-effort, a leaked artifact is a bounded
// resource leak, not a correctness violation) and removes the record.
func (e *Engine) retire(ctx context.Context, lg *slog.Logger, ch challenge.Challenge) error {
	if err := e.renderer.DeleteArtifact(ctx, ch.ArtifactHandle); err != nil {
		lg.Error("can't delete challenge artifact", "handle", ch.ArtifactHandle, "err", err)
	}

	if err := e.challenges.Remove(ctx, ch.PrincipalID); err != nil {
		lg.Error("can't remove challenge record", "err", err)
		return err
	}

	return nil
}

func (e *Engine) appendAudit(ctx context.Context, lg *slog.Logger, ch challenge.Challenge) {
	if e.auditLog == nil {
		return
	}

	outcome := audit.Outcome{
		PrincipalID: ch.PrincipalID,
		GuildID:     ch.GuildID,
		VerifiedAt:  e.now(),
	}

	if info, err := e.directory.Describe(ctx, ch.GuildID, ch.PrincipalID); err != nil {
		lg.Warn("can't resolve member identity for audit", "err", err)
	} else {
		outcome.Username = info.Username
		outcome.Discriminator = info.Discriminator
		outcome.GuildName = info.GuildName
	}

	// Roles are already granted; a failed append must not fail the
	// verification. It is logged and counted instead.
	if err := e.auditLog.Append(ctx, outcome); err != nil {
		auditFailures.Inc()
		lg.Error("can't append verification outcome", "err", err)
	}
}
