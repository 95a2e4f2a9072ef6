package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	libgatekeeper "github.com/uvensys/gatekeeper/lib"
	"github.com/uvensys/gatekeeper/lib/audit"
	auditsqlite "github.com/uvensys/gatekeeper/lib/audit/sqlite"
	"github.com/uvensys/gatekeeper/lib/guildconfig"
	configsqlite "github.com/uvensys/gatekeeper/lib/guildconfig/sqlite"
	"github.com/uvensys/gatekeeper/lib/render"
	_ "github.com/uvensys/gatekeeper/lib/render/captcha"
	"github.com/uvensys/gatekeeper/lib/store/memory"
)

type stubDirectory struct{}

func (stubDirectory) IsMember(context.Context, string, string) (bool, error) { return true, nil }
func (stubDirectory) HasAnyRole(context.Context, string, string, []string) (bool, error) {
	return false, nil
}
func (stubDirectory) Describe(context.Context, string, string) (libgatekeeper.MemberInfo, error) {
	return libgatekeeper.MemberInfo{Username: "alice"}, nil
}

type stubRoles struct{}

func (stubRoles) Grant(context.Context, string, string, []string) error { return nil }

// testAPI spins up the daemon's JSON API against a real SQLite database.
// When fileManaged is true the server has no config writer, mirroring a
// deployment that loads guild configs from a YAML file.
func testAPI(t *testing.T, fileManaged bool) *httptest.Server {
	t.Helper()

	factory, ok := render.Get("captcha")
	if !ok {
		t.Fatal("captcha renderer is not registered")
	}

	renderer, err := factory.Build(t.Context(), json.RawMessage(fmt.Sprintf(`{"dir":%q}`, t.TempDir())))
	if err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(t.TempDir(), "gatekeeper.db")

	auditLog, err := auditsqlite.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { auditLog.Close() })

	configStore, err := configsqlite.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { configStore.Close() })

	if err := configStore.Upsert(t.Context(), guildconfig.GuildConfig{
		GuildID:         "g1",
		VerifiedRoleIDs: []string{"r1"},
		PanelMessage:    "Prove you are human.",
		TimerMinutes:    5,
	}); err != nil {
		t.Fatal(err)
	}

	engine, err := libgatekeeper.New(libgatekeeper.Options{
		Store:     memory.New(t.Context()),
		Renderer:  renderer,
		Configs:   configStore,
		Directory: stubDirectory{},
		Roles:     stubRoles{},
		Audit:     auditLog,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)

	var cfgWriter configWriter
	if !fileManaged {
		cfgWriter = configStore
	}

	srv := httptest.NewServer(newAPIServer(engine, auditLog, cfgWriter).handler())
	t.Cleanup(srv.Close)

	return srv
}

func postFlow(t *testing.T, srv *httptest.Server, path, body string) libgatekeeper.Directive {
	t.Helper()

	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s: unexpected status %d", path, resp.StatusCode)
	}

	var d libgatekeeper.Directive
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatal(err)
	}

	return d
}

func TestStartAndAnswerFlow(t *testing.T) {
	srv := testAPI(t, false)

	d := postFlow(t, srv, "/api/v1/start", `{"principal_id":"p1","guild_id":"g1"}`)
	if d.Kind != libgatekeeper.KindPresent {
		t.Fatalf("wanted present, got: %s", d.Kind)
	}
	if d.ArtifactHandle == "" {
		t.Error("wanted an artifact handle")
	}

	d = postFlow(t, srv, "/api/v1/answer", `{"principal_id":"p1","answer":"wrong"}`)
	if d.Kind != libgatekeeper.KindIncorrect {
		t.Errorf("wanted incorrect, got: %s", d.Kind)
	}
}

func TestAnswerWithoutStart(t *testing.T) {
	srv := testAPI(t, false)

	d := postFlow(t, srv, "/api/v1/answer", `{"principal_id":"p9","answer":"x"}`)
	if d.Kind != libgatekeeper.KindExpired {
		t.Errorf("wanted expired, got: %s", d.Kind)
	}
}

func TestStartUnknownGuild(t *testing.T) {
	srv := testAPI(t, false)

	d := postFlow(t, srv, "/api/v1/start", `{"principal_id":"p1","guild_id":"nope"}`)
	if d.Kind != libgatekeeper.KindConfigMissing {
		t.Errorf("wanted configMissing, got: %s", d.Kind)
	}
}

func TestRequestValidation(t *testing.T) {
	srv := testAPI(t, false)

	for _, tt := range []struct {
		name string
		path string
		body string
	}{
		{"not json", "/api/v1/start", "not json"},
		{"missing principal", "/api/v1/start", `{"guild_id":"g1"}`},
		{"missing guild", "/api/v1/start", `{"principal_id":"p1"}`},
		{"missing principal on answer", "/api/v1/answer", `{"answer":"x"}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("wanted 400, got: %d", resp.StatusCode)
			}
		})
	}
}

func TestUpsertConfig(t *testing.T) {
	srv := testAPI(t, false)

	body := `{"guildId":"g2","verifiedRoleIds":["r7"],"panelMessage":"Welcome.","timerMinutes":3}`
	resp, err := http.Post(srv.URL+"/api/v1/config", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("wanted 204, got: %d", resp.StatusCode)
	}

	// The freshly configured guild can run a flow immediately.
	d := postFlow(t, srv, "/api/v1/start", `{"principal_id":"p2","guild_id":"g2"}`)
	if d.Kind != libgatekeeper.KindPresent {
		t.Errorf("wanted present, got: %s", d.Kind)
	}
}

func TestUpsertConfigRejectsInvalid(t *testing.T) {
	srv := testAPI(t, false)

	for _, tt := range []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"no roles", `{"guildId":"g2","verifiedRoleIds":[],"timerMinutes":3}`},
		{"too many roles", `{"guildId":"g2","verifiedRoleIds":["1","2","3","4","5","6"],"timerMinutes":3}`},
		{"zero timer", `{"guildId":"g2","verifiedRoleIds":["r7"],"timerMinutes":0}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/config", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("wanted 400, got: %d", resp.StatusCode)
			}
		})
	}
}

func TestUpsertConfigFileManaged(t *testing.T) {
	srv := testAPI(t, true)

	body := `{"guildId":"g2","verifiedRoleIds":["r7"],"timerMinutes":3}`
	resp, err := http.Post(srv.URL+"/api/v1/config", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("wanted 409, got: %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := testAPI(t, false)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("wanted 200, got: %d", resp.StatusCode)
	}
}

func TestVerifications(t *testing.T) {
	srv := testAPI(t, false)

	resp, err := http.Get(srv.URL + "/api/v1/verifications?limit=10")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wanted 200, got: %d", resp.StatusCode)
	}

	var outcomes []audit.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcomes); err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 0 {
		t.Errorf("wanted an empty log, got: %d outcomes", len(outcomes))
	}
}


