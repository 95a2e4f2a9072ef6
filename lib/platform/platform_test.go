package platform

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/uvensys/gatekeeper/lib"
)

// fakeGateway is a minimal in-memory gateway API.
type fakeGateway struct {
	mu       sync.Mutex
	members  map[string]member // keyed by guildID/principalID
	guilds   map[string]guild
	granted  []string // roleIDs in grant order
	messages []message
	fail     int // respond with this status to every request when non-zero
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /guilds/{guild}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.fail != 0 {
			w.WriteHeader(g.fail)
			return
		}

		gu, ok := g.guilds[r.PathValue("guild")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(gu)
	})

	mux.HandleFunc("GET /guilds/{guild}/members/{principal}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.fail != 0 {
			w.WriteHeader(g.fail)
			return
		}

		m, ok := g.members[r.PathValue("guild")+"/"+r.PathValue("principal")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(m)
	})

	mux.HandleFunc("PUT /guilds/{guild}/members/{principal}/roles/{role}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.fail != 0 {
			w.WriteHeader(g.fail)
			return
		}

		g.granted = append(g.granted, r.PathValue("role"))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /users/{principal}/messages", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.fail != 0 {
			w.WriteHeader(g.fail)
			return
		}

		var msg message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		g.messages = append(g.messages, msg)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	})

	return mux
}

func testClient(t *testing.T, g *fakeGateway) *Client {
	t.Helper()

	srv := httptest.NewServer(g.handler())
	t.Cleanup(srv.Close)

	cli, err := New(Options{BaseURL: srv.URL, Token: "hunter2"})
	if err != nil {
		t.Fatal(err)
	}

	return cli
}

func TestNewValidation(t *testing.T) {
	for _, tt := range []struct {
		name string
		opts Options
	}{
		{"no base URL", Options{Token: "hunter2"}},
		{"no token", Options{BaseURL: "https://gateway.example.com"}},
		{"bad scheme", Options{BaseURL: "ftp://gateway.example.com", Token: "hunter2"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("wanted an error")
			}
		})
	}
}

func TestMembership(t *testing.T) {
	g := &fakeGateway{
		members: map[string]member{
			"g1/p1": {Username: "alice", Discriminator: "0001", RoleIDs: []string{"r1", "r2"}},
		},
		guilds: map[string]guild{"g1": {Name: "testers"}},
	}
	cli := testClient(t, g)

	ok, err := cli.IsMember(t.Context(), "g1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("wanted p1 to be a member")
	}

	ok, err = cli.IsMember(t.Context(), "g1", "p2")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("wanted p2 to not be a member")
	}
}

func TestHasAnyRole(t *testing.T) {
	g := &fakeGateway{
		members: map[string]member{
			"g1/p1": {RoleIDs: []string{"r1", "r2"}},
		},
	}
	cli := testClient(t, g)

	for _, tt := range []struct {
		name      string
		principal string
		roles     []string
		want      bool
	}{
		{"holds one of two", "p1", []string{"r2", "r9"}, true},
		{"holds none", "p1", []string{"r9"}, false},
		{"left the guild", "p2", []string{"r1"}, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cli.HasAnyRole(t.Context(), "g1", tt.principal, tt.roles)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("wanted %v, got: %v", tt.want, got)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	g := &fakeGateway{
		members: map[string]member{
			"g1/p1": {Username: "alice", Discriminator: "0001"},
		},
		guilds: map[string]guild{"g1": {Name: "testers"}},
	}
	cli := testClient(t, g)

	info, err := cli.Describe(t.Context(), "g1", "p1")
	if err != nil {
		t.Fatal(err)
	}

	want := lib.MemberInfo{Username: "alice", Discriminator: "0001", GuildName: "testers"}
	if info != want {
		t.Errorf("wanted %+v, got: %+v", want, info)
	}
}

func TestGrantBatch(t *testing.T) {
	g := &fakeGateway{}
	cli := testClient(t, g)

	if err := cli.Grant(t.Context(), "g1", "p1", []string{"r1", "r2", "r3"}); err != nil {
		t.Fatal(err)
	}

	if len(g.granted) != 3 {
		t.Errorf("wanted 3 grants, got: %d", len(g.granted))
	}
}

func TestGrantPermissionDenied(t *testing.T) {
	g := &fakeGateway{fail: http.StatusForbidden}
	cli := testClient(t, g)

	err := cli.Grant(t.Context(), "g1", "p1", []string{"r1"})
	if !errors.Is(err, lib.ErrPermissionDenied) {
		t.Errorf("wanted ErrPermissionDenied, got: %v", err)
	}
}

func TestPresent(t *testing.T) {
	g := &fakeGateway{}
	cli := testClient(t, g)

	err := cli.Present(t.Context(), "p1", lib.Presentation{
		GuildID:        "g1",
		ArtifactHandle: "/artifacts/abc.png",
		PanelMessage:   "Prove you are human.",
		Remaining:      5 * time.Minute,
		Actions:        []lib.Action{lib.ActionSubmitAnswer, lib.ActionRequestNew},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(g.messages) != 1 {
		t.Fatalf("wanted 1 message, got: %d", len(g.messages))
	}

	msg := g.messages[0]
	if msg.AttachmentURL != "/artifacts/abc.png" {
		t.Errorf("wrong attachment: %q", msg.AttachmentURL)
	}
	if len(msg.Actions) != 2 {
		t.Errorf("wanted 2 actions, got: %v", msg.Actions)
	}
}

func TestTransientStatusesAreUnavailable(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable} {
		g := &fakeGateway{fail: code}
		cli := testClient(t, g)

		err := cli.Present(t.Context(), "p1", lib.Presentation{})
		if !errors.Is(err, lib.ErrUpstreamUnavailable) {
			t.Errorf("status %d: wanted ErrUpstreamUnavailable, got: %v", code, err)
		}
	}
}


