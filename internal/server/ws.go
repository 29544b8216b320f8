package server

// ============================================================================
// WebSocket turn transport
// ============================================================================
//
// One connection carries many turns for interactive clients: each inbound
// message is a turn request, each outbound message is one turn event. The
// in-flight lock still applies, so a client sending a second message before
// turn_complete gets a turn_in_flight error event back.

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/driveline/concierge/internal/orchestrator"
)

func (s *Server) handleTurnWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("server: websocket accept failed")
		return
	}
	defer conn.CloseNow()

	id := identity(r)
	meta := requestMeta(r)
	ctx := r.Context()

	for {
		var req turnRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			// Normal close or client gone either way.
			return
		}
		if req.Text == "" {
			s.writeWSEvent(ctx, conn, orchestrator.TurnEvent{
				Type:      orchestrator.EventError,
				SessionID: req.SessionID,
				ErrKind:   orchestrator.ErrValidation,
				Message:   "text is required",
			})
			continue
		}

		if !s.runTurnWS(ctx, conn, orchestrator.TurnInput{
			SessionID: req.SessionID,
			Identity:  id,
			Text:      req.Text,
			Meta:      meta,
		}) {
			return
		}
	}
}

// runTurnWS relays one turn; returns false when the connection is dead.
func (s *Server) runTurnWS(ctx context.Context, conn *websocket.Conn, input orchestrator.TurnInput) bool {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := s.orch.RunTurn(turnCtx, input)
	for ev := range events {
		if !s.writeWSEvent(turnCtx, conn, ev) {
			// Cancel so the orchestrator persists the partial turn and
			// stops dispatching, then drain the stream.
			cancel()
			for range events {
			}
			return false
		}
	}
	return true
}

func (s *Server) writeWSEvent(ctx context.Context, conn *websocket.Conn, ev orchestrator.TurnEvent) bool {
	if err := wsjson.Write(ctx, conn, ev); err != nil {
		log.Debug().Err(err).Msg("server: websocket write failed")
		return false
	}
	return true
}
