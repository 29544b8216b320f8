// Package server exposes the engine over HTTP and WebSocket.
//
// DESIGN: Transports are dumb relays. Every endpoint translates between
// wire framing (SSE frames, WebSocket messages, one buffered JSON body)
// and the orchestrator's event stream without adding behavior. Refusal and
// error text comes from the orchestrator already sanitized; the server
// never invents its own.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/orchestrator"
	"github.com/driveline/concierge/internal/session"
)

// Server is the HTTP front of the engine.
type Server struct {
	cfg   *config.Provider
	orch  *orchestrator.Orchestrator
	store session.Store
	http  *http.Server
}

// New builds the server and its routes.
func New(cfg *config.Provider, orch *orchestrator.Orchestrator, store session.Store) *Server {
	s := &Server{cfg: cfg, orch: orch, store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", s.handleTurn)
	mux.HandleFunc("GET /v1/turns/ws", s.handleTurnWS)
	mux.HandleFunc("POST /v1/book", s.handleBook)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversation)
	mux.HandleFunc("GET /health", s.handleHealth)

	snap := cfg.Snapshot()
	s.http = &http.Server{
		Addr:        fmt.Sprintf(":%d", snap.Server.Port),
		Handler:     mux,
		ReadTimeout: snap.Server.ReadTimeout.D(),
		// WriteTimeout stays off: turn streams are long-lived and flushed
		// incrementally. Per-call deadlines bound the work instead.
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("server: listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
