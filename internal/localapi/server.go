// Package localapi exposes the loopback-only status/command surface
// SPEC_FULL.md §6 adds: a small go-chi/chi-routed HTTP server giving
// the out-of-scope CLI/GUI shell (and any local operator tooling) a
// real endpoint instead of direct access to the orchestrator, per spec
// §9's "the UI and CLI each receive a small command interface."
// Grounded on the teacher's internal/httpapi/server.go router
// construction (chi.NewRouter(), route registration, respondJSON/
// respondError helpers) at a much smaller scope: no session manager,
// no websocket upgrade for remote traffic — that is
// internal/transport's job for the device's own session.
package localapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/nyx/internal/observability"
	"github.com/antoniostano/nyx/internal/orchestrator"
)

// Commander is the narrow capability the HTTP layer needs from the
// orchestrator: enqueue a Command and report readiness for /healthz.
type Commander interface {
	Dispatch(cmd orchestrator.Command)
	Ready() <-chan struct{}
}

// Server is the loopback status/command HTTP surface.
type Server struct {
	orch Commander
}

// New constructs a Server bound to orch.
func New(orch Commander) *Server {
	return &Server{orch: orch}
}

// Router builds the chi mux, mirroring the teacher's
// chi.NewRouter()/r.Get(...) construction style.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/commands/start-listening", s.handleCommand(orchestrator.CommandStartListening))
	r.Post("/v1/commands/stop-listening", s.handleCommand(orchestrator.CommandStopListening))
	r.Post("/v1/commands/toggle-chat-state", s.handleCommand(orchestrator.CommandToggleChatState))
	r.Post("/v1/commands/abort-speaking", s.handleAbort)
	r.Post("/v1/commands/shutdown", s.handleCommand(orchestrator.CommandShutdown))

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-s.orch.Ready():
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
	}
}

func (s *Server) handleCommand(kind orchestrator.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.orch.Dispatch(orchestrator.Command{Kind: kind})
		respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
	}
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req abortRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	reason := orchestrator.AbortUserInterruption
	if req.Reason == "wake_word_detected" {
		reason = orchestrator.AbortWakeWordDetected
	}
	s.orch.Dispatch(orchestrator.Command{Kind: orchestrator.CommandAbortSpeaking, AbortReason: reason})
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
