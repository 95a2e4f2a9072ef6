package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	libgatekeeper "github.com/uvensys/gatekeeper/lib"
	auditsqlite "github.com/uvensys/gatekeeper/lib/audit/sqlite"
	"github.com/uvensys/gatekeeper/lib/guildconfig"
)

// configWriter stores guild settings. The sqlite config store satisfies it;
// when guild configs come from a YAML file there is no writer.
type configWriter interface {
	Upsert(ctx context.Context, gc guildconfig.GuildConfig) error
}

// apiServer exposes the engine's flow operations as a JSON API. Interaction
// handlers on the chat side translate button presses and modal submissions
// into these calls.
type apiServer struct {
	engine   *libgatekeeper.Engine
	auditLog *auditsqlite.Log
	configs  configWriter
}

func newAPIServer(engine *libgatekeeper.Engine, auditLog *auditsqlite.Log, configs configWriter) *apiServer {
	return &apiServer{engine: engine, auditLog: auditLog, configs: configs}
}

func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/start", s.start)
	mux.HandleFunc("POST /api/v1/answer", s.answer)
	mux.HandleFunc("POST /api/v1/new", s.requestNew)
	mux.HandleFunc("POST /api/v1/retry", s.retry)
	mux.HandleFunc("POST /api/v1/config", s.upsertConfig)
	mux.HandleFunc("GET /api/v1/verifications", s.verifications)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}

type flowRequest struct {
	PrincipalID string `json:"principal_id"`
	GuildID     string `json:"guild_id,omitempty"`
	Answer      string `json:"answer,omitempty"`
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request) (flowRequest, bool) {
	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}

	if req.PrincipalID == "" {
		http.Error(w, "principal_id is required", http.StatusBadRequest)
		return req, false
	}

	return req, true
}

func (s *apiServer) respond(w http.ResponseWriter, directive libgatekeeper.Directive) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(directive); err != nil {
		slog.Error("can't encode directive", "err", err)
	}
}

func (s *apiServer) start(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	if req.GuildID == "" {
		http.Error(w, "guild_id is required", http.StatusBadRequest)
		return
	}

	// Presentation retries can outlive the interaction that triggered them.
	s.respond(w, s.engine.OnStart(context.WithoutCancel(r.Context()), req.PrincipalID, req.GuildID))
}

func (s *apiServer) answer(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	s.respond(w, s.engine.OnAnswer(r.Context(), req.PrincipalID, req.Answer))
}

func (s *apiServer) requestNew(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	s.respond(w, s.engine.OnRequestNew(context.WithoutCancel(r.Context()), req.PrincipalID))
}

func (s *apiServer) retry(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	s.respond(w, s.engine.OnRetry(context.WithoutCancel(r.Context()), req.PrincipalID))
}

// upsertConfig is the admin surface for per-guild settings: which roles to
// grant, the panel message, the answer time limit.
func (s *apiServer) upsertConfig(w http.ResponseWriter, r *http.Request) {
	if s.configs == nil {
		http.Error(w, "guild configs are file-managed, edit the config file instead", http.StatusConflict)
		return
	}

	var gc guildconfig.GuildConfig
	if err := json.NewDecoder(r.Body).Decode(&gc); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := gc.Valid(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configs.Upsert(r.Context(), gc); err != nil {
		slog.Error("can't upsert guild config", "guild_id", gc.GuildID, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// verifications returns the most recent verification outcomes, newest first.
func (s *apiServer) verifications(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	outcomes, err := s.auditLog.Recent(r.Context(), n)
	if err != nil {
		slog.Error("can't read verification log", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(outcomes); err != nil {
		slog.Error("can't encode verification log", "err", err)
	}
}


