package lib

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/uvensys/gatekeeper/lib/audit"
	"github.com/uvensys/gatekeeper/lib/guildconfig"
	"github.com/uvensys/gatekeeper/lib/store"
	"github.com/uvensys/gatekeeper/lib/store/memory"
)

const (
	testPrincipal = "principal-1"
	testGuild     = "guild-1"
)

type fakeRenderer struct {
	mu          sync.Mutex
	n           int
	secrets     []string
	live        map[string]bool
	deleted     []string
	generateErr error
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{live: map[string]bool{}}
}

func (f *fakeRenderer) Generate(_ context.Context, _ int) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.generateErr != nil {
		return "", "", f.generateErr
	}

	f.n++
	secret := fmt.Sprintf("secret%02d", f.n)
	handle := fmt.Sprintf("/artifacts/%d.png", f.n)
	f.secrets = append(f.secrets, secret)
	f.live[handle] = true

	return secret, handle, nil
}

func (f *fakeRenderer) DeleteArtifact(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.live, handle)
	f.deleted = append(f.deleted, handle)
	return nil
}

func (f *fakeRenderer) lastSecret() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.secrets[len(f.secrets)-1]
}

func (f *fakeRenderer) deletions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

type fakeDirectory struct {
	member  bool
	hasRole bool
	info    MemberInfo
	err     error
}

func (f *fakeDirectory) IsMember(context.Context, string, string) (bool, error) {
	return f.member, f.err
}

func (f *fakeDirectory) HasAnyRole(context.Context, string, string, []string) (bool, error) {
	return f.hasRole, f.err
}

func (f *fakeDirectory) Describe(context.Context, string, string) (MemberInfo, error) {
	return f.info, f.err
}

type fakeRoles struct {
	mu     sync.Mutex
	err    error
	grants [][]string
}

func (f *fakeRoles) Grant(_ context.Context, _, _ string, roleIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.grants = append(f.grants, roleIDs)
	return nil
}

func (f *fakeRoles) granted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grants)
}

type fakePresenter struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakePresenter) Present(context.Context, string, Presentation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("%w: 503", ErrUpstreamUnavailable)
	}

	return nil
}

type staticConfigs map[string]guildconfig.GuildConfig

func (s staticConfigs) Get(_ context.Context, guildID string) (guildconfig.GuildConfig, error) {
	gc, ok := s[guildID]
	if !ok {
		return guildconfig.GuildConfig{}, fmt.Errorf("%w: %q", guildconfig.ErrNotFound, guildID)
	}
	return gc, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	engine    *Engine
	backend   store.Interface
	renderer  *fakeRenderer
	directory *fakeDirectory
	roles     *fakeRoles
	presenter *fakePresenter
	auditLog  *audit.Memory
	clock     *testClock
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		backend:   memory.New(t.Context()),
		renderer:  newFakeRenderer(),
		directory: &fakeDirectory{member: true},
		roles:     &fakeRoles{},
		presenter: &fakePresenter{},
		auditLog:  &audit.Memory{},
		clock:     &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}

	opts := Options{
		Store:     h.backend,
		Renderer:  h.renderer,
		Configs: staticConfigs{
			testGuild: {
				GuildID:         testGuild,
				VerifiedRoleIDs: []string{"role-a", "role-b"},
				PanelMessage:    "Prove you are human.",
				TimerMinutes:    5,
			},
		},
		Directory:       h.directory,
		Roles:           h.roles,
		Presenter:       h.presenter,
		Audit:           h.auditLog,
		PresentDelay:    time.Millisecond,
		PresentAttempts: 3,
		Now:             h.clock.now,
	}

	if mutate != nil {
		mutate(&opts)
	}

	engine, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)

	h.engine = engine
	return h
}

// rawRecord reads the stored challenge bytes directly, bypassing the engine.
func (h *harness) rawRecord(t *testing.T) ([]byte, error) {
	t.Helper()
	return h.backend.Get(t.Context(), "gatekeeper:challenge:"+testPrincipal)
}

func TestRoundTrip(t *testing.T) {
	h := newHarness(t, nil)

	d := h.engine.OnStart(t.Context(), testPrincipal, testGuild)
	if d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}
	if d.RemainingMinutes != 5 {
		t.Errorf("wanted 5 remaining minutes, got: %d", d.RemainingMinutes)
	}

	d = h.engine.OnAnswer(t.Context(), testPrincipal, h.renderer.lastSecret())
	if d.Kind != KindSuccess {
		t.Fatalf("wanted success, got: %s", d.Kind)
	}

	if h.roles.granted() != 1 {
		t.Errorf("wanted 1 grant, got: %d", h.roles.granted())
	}

	if got := len(h.auditLog.Outcomes()); got != 1 {
		t.Errorf("wanted 1 audit outcome, got: %d", got)
	}

	// The record is retired; answering again cannot succeed twice.
	d = h.engine.OnAnswer(t.Context(), testPrincipal, h.renderer.lastSecret())
	if d.Kind != KindExpired {
		t.Errorf("wanted expired after success, got: %s", d.Kind)
	}

	if h.roles.granted() != 1 {
		t.Errorf("success transition ran twice: %d grants", h.roles.granted())
	}
}

func TestScenarioConfigMissing(t *testing.T) {
	h := newHarness(t, nil)

	d := h.engine.OnStart(t.Context(), testPrincipal, "unconfigured-guild")
	if d.Kind != KindConfigMissing {
		t.Fatalf("wanted configMissing, got: %s", d.Kind)
	}

	if _, err := h.rawRecord(t); !errors.Is(err, store.ErrNotFound) {
		t.Error("a challenge was written despite the missing config")
	}
}

func TestScenarioExpiredAnswer(t *testing.T) {
	h := newHarness(t, nil)

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}
	secret := h.renderer.lastSecret()

	h.clock.advance(6 * time.Minute)

	d := h.engine.OnAnswer(t.Context(), testPrincipal, secret)
	if d.Kind != KindExpired {
		t.Fatalf("wanted expired, got: %s", d.Kind)
	}

	if _, err := h.rawRecord(t); !errors.Is(err, store.ErrNotFound) {
		t.Error("the expired record is still in the store")
	}

	if h.renderer.deletions() != 1 {
		t.Errorf("wanted the expired artifact deleted, deletions: %d", h.renderer.deletions())
	}
}

func TestScenarioWrongAnswers(t *testing.T) {
	h := newHarness(t, nil)

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}

	before, err := h.rawRecord(t)
	if err != nil {
		t.Fatal(err)
	}

	for i := range 3 {
		if d := h.engine.OnAnswer(t.Context(), testPrincipal, "not-it"); d.Kind != KindIncorrect {
			t.Fatalf("attempt %d: wanted incorrect, got: %s", i+1, d.Kind)
		}
	}

	after, err := h.rawRecord(t)
	if err != nil {
		t.Fatal(err)
	}

	if string(before) != string(after) {
		t.Error("the challenge record changed across wrong answers")
	}
}

func TestScenarioRequestNew(t *testing.T) {
	h := newHarness(t, nil)

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}
	oldSecret := h.renderer.lastSecret()

	h.clock.advance(time.Minute)

	d := h.engine.OnRequestNew(t.Context(), testPrincipal)
	if d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}
	if d.RemainingMinutes != 5 {
		t.Errorf("wanted a freshly computed expiry of 5 minutes, got: %d", d.RemainingMinutes)
	}

	if h.renderer.deletions() != 1 {
		t.Errorf("wanted the old artifact deleted, deletions: %d", h.renderer.deletions())
	}

	newSecret := h.renderer.lastSecret()
	if newSecret == oldSecret {
		t.Error("request-new reused the old secret")
	}

	if d := h.engine.OnAnswer(t.Context(), testPrincipal, oldSecret); d.Kind != KindIncorrect {
		t.Errorf("wanted the old secret to stop matching, got: %s", d.Kind)
	}

	if d := h.engine.OnAnswer(t.Context(), testPrincipal, newSecret); d.Kind != KindSuccess {
		t.Errorf("wanted the new secret to verify, got: %s", d.Kind)
	}
}

func TestScenarioGrantFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.roles.err = fmt.Errorf("%w: missing manage roles", ErrPermissionDenied)

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}

	d := h.engine.OnAnswer(t.Context(), testPrincipal, h.renderer.lastSecret())
	if d.Kind != KindGrantFailed {
		t.Fatalf("wanted grantFailed, got: %s", d.Kind)
	}

	if got := len(h.auditLog.Outcomes()); got != 0 {
		t.Errorf("wanted no audit outcomes after a failed grant, got: %d", got)
	}

	// The challenge is retired, not re-issued: a correct answer was given.
	if _, err := h.rawRecord(t); !errors.Is(err, store.ErrNotFound) {
		t.Error("the challenge survived a failed grant")
	}
}

func TestStartIdempotentWhileLive(t *testing.T) {
	h := newHarness(t, nil)

	first := h.engine.OnStart(t.Context(), testPrincipal, testGuild)
	if first.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", first.Kind)
	}

	h.clock.advance(2 * time.Minute)

	second := h.engine.OnStart(t.Context(), testPrincipal, testGuild)
	if second.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", second.Kind)
	}

	if second.ArtifactHandle != first.ArtifactHandle {
		t.Error("a second start minted a new challenge while one was live")
	}

	if second.RemainingMinutes != 3 {
		t.Errorf("wanted 3 remaining minutes after 2 elapsed, got: %d", second.RemainingMinutes)
	}
}

func TestAlreadyVerified(t *testing.T) {
	h := newHarness(t, nil)
	h.directory.hasRole = true

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindAlreadyVerified {
		t.Errorf("wanted alreadyVerified, got: %s", d.Kind)
	}
}

func TestAlreadyInProgress(t *testing.T) {
	h := newHarness(t, nil)

	if !h.engine.sessions.TryAcquire(testPrincipal) {
		t.Fatal("could not acquire the session marker")
	}
	defer h.engine.sessions.Release(testPrincipal)

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindAlreadyInProgress {
		t.Errorf("wanted alreadyInProgress, got: %s", d.Kind)
	}
}

func TestMarkerReleasedAfterIssuance(t *testing.T) {
	h := newHarness(t, nil)

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}

	// The answer path must not be told a session is in progress.
	if h.engine.sessions.Len() != 0 {
		t.Error("the session marker is still held after issuance")
	}
}

func TestPresenterRetriesTransient(t *testing.T) {
	h := newHarness(t, nil)
	h.presenter.failures = 2

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindPresent {
		t.Fatalf("wanted present after retries, got: %s", d.Kind)
	}

	if h.presenter.calls != 3 {
		t.Errorf("wanted 3 presentation attempts, got: %d", h.presenter.calls)
	}
}

func TestPresenterExhaustion(t *testing.T) {
	h := newHarness(t, nil)
	h.presenter.failures = 100

	d := h.engine.OnStart(t.Context(), testPrincipal, testGuild)
	if d.Kind != KindUnavailable {
		t.Fatalf("wanted unavailable, got: %s", d.Kind)
	}

	// The challenge is persisted, so the retry affordance can re-present it.
	if d := h.engine.OnRetry(t.Context(), testPrincipal); d.Kind != KindUnavailable {
		t.Errorf("wanted retry to attempt presentation again, got: %s", d.Kind)
	}
}

func TestPresenterAbortsWhenPrincipalLeft(t *testing.T) {
	h := newHarness(t, nil)
	h.presenter.failures = 100

	// Config and role checks pass, then the principal leaves before the
	// first presentation attempt.
	h.directory.member = false

	d := h.engine.OnStart(t.Context(), testPrincipal, testGuild)
	if d.Kind != KindNone {
		t.Errorf("wanted the flow to end silently, got: %s", d.Kind)
	}

	if h.presenter.calls != 0 {
		t.Errorf("wanted no presentation attempts after the principal left, got: %d", h.presenter.calls)
	}
}

func TestOnRetryWithoutChallenge(t *testing.T) {
	h := newHarness(t, nil)

	if d := h.engine.OnRetry(t.Context(), testPrincipal); d.Kind != KindExpired {
		t.Errorf("wanted expired, got: %s", d.Kind)
	}
}

func TestOnRetryRepresents(t *testing.T) {
	h := newHarness(t, nil)
	h.presenter.failures = 3 // exhausts the first start

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindUnavailable {
		t.Fatalf("wanted unavailable, got: %s", d.Kind)
	}

	d := h.engine.OnRetry(t.Context(), testPrincipal)
	if d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}

	// Same challenge, not a new one.
	if d := h.engine.OnAnswer(t.Context(), testPrincipal, h.renderer.lastSecret()); d.Kind != KindSuccess {
		t.Errorf("wanted success, got: %s", d.Kind)
	}
}

func TestExpireIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}

	h.clock.advance(6 * time.Minute)

	h.engine.expire(t.Context(), testPrincipal)

	if _, err := h.rawRecord(t); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("the record survived the expiry firing")
	}
	if h.renderer.deletions() != 1 {
		t.Fatalf("wanted 1 artifact deletion, got: %d", h.renderer.deletions())
	}

	// A replayed firing is a no-op.
	h.engine.expire(t.Context(), testPrincipal)

	if h.renderer.deletions() != 1 {
		t.Errorf("the second firing deleted again: %d deletions", h.renderer.deletions())
	}
}

func TestExpireSkipsReplacedChallenge(t *testing.T) {
	h := newHarness(t, nil)

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}

	h.clock.advance(4 * time.Minute)

	// The principal asks for a fresh puzzle; the old timer's deadline passes
	// but the replacement is still live.
	if d := h.engine.OnRequestNew(t.Context(), testPrincipal); d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}

	h.clock.advance(2 * time.Minute) // old challenge's deadline is gone, new one has 3 min left

	h.engine.expire(t.Context(), testPrincipal)

	if _, err := h.rawRecord(t); err != nil {
		t.Error("the expiry firing removed a live replacement challenge")
	}
}

func TestRendererFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.renderer.generateErr = errors.New("canvas on fire")

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindFailed {
		t.Fatalf("wanted failed, got: %s", d.Kind)
	}

	if _, err := h.rawRecord(t); !errors.Is(err, store.ErrNotFound) {
		t.Error("a partial challenge was persisted after a renderer failure")
	}

	if h.engine.sessions.Len() != 0 {
		t.Error("the session marker leaked after a renderer failure")
	}
}

func TestAnswerWithoutChallenge(t *testing.T) {
	h := newHarness(t, nil)

	if d := h.engine.OnAnswer(t.Context(), testPrincipal, "anything"); d.Kind != KindExpired {
		t.Errorf("wanted expired, got: %s", d.Kind)
	}
}

func TestAuditCarriesIdentity(t *testing.T) {
	h := newHarness(t, nil)
	h.directory.info = MemberInfo{Username: "alice", Discriminator: "0001", GuildName: "testers"}

	if d := h.engine.OnStart(t.Context(), testPrincipal, testGuild); d.Kind != KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}

	if d := h.engine.OnAnswer(t.Context(), testPrincipal, h.renderer.lastSecret()); d.Kind != KindSuccess {
		t.Fatalf("wanted success, got: %s", d.Kind)
	}

	outcomes := h.auditLog.Outcomes()
	if len(outcomes) != 1 {
		t.Fatalf("wanted 1 outcome, got: %d", len(outcomes))
	}

	got := outcomes[0]
	if got.PrincipalID != testPrincipal || got.GuildID != testGuild || got.Username != "alice" || got.GuildName != "testers" {
		t.Errorf("outcome came back mangled: %+v", got)
	}
}


