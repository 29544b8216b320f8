package server

// ============================================================================
// Turn endpoints
// ============================================================================

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/orchestrator"
	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/utils"
)

type turnRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// handleTurn is the primary turn endpoint. Default framing is SSE; callers
// that cannot consume incremental events pass ?stream=false and get one
// buffered response of the same shape.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !decodeBody(w, r, config.MaxRequestBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, orchestrator.ErrValidation, "text is required")
		return
	}

	input := orchestrator.TurnInput{
		SessionID: req.SessionID,
		Identity:  identity(r),
		Text:      req.Text,
		Meta:      requestMeta(r),
	}

	if r.URL.Query().Get("stream") == "false" {
		s.turnBuffered(w, r, input)
		return
	}
	s.turnSSE(w, r, input)
}

// turnSSE relays turn events as SSE frames, flushing each one as it lands.
func (s *Server) turnSSE(w http.ResponseWriter, r *http.Request, input orchestrator.TurnInput) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, orchestrator.ErrUpstream, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.orch.RunTurn(r.Context(), input) {
		frame, err := utils.MarshalNoEscape(ev)
		if err != nil {
			log.Error().Err(err).Msg("server: event encoding failed")
			return
		}
		if _, err := w.Write([]byte("event: " + string(ev.Type) + "\ndata: " + string(frame) + "\n\n")); err != nil {
			// Client went away; the orchestrator sees the context cancel
			// and persists the partial turn.
			return
		}
		flusher.Flush()
	}
}

type turnResponse struct {
	SessionID string           `json:"session_id"`
	Text      string           `json:"text"`
	Session   *session.Session `json:"session,omitempty"`
	Error     *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// turnBuffered drains the event stream and answers with one JSON body.
func (s *Server) turnBuffered(w http.ResponseWriter, r *http.Request, input orchestrator.TurnInput) {
	var resp turnResponse
	var text strings.Builder
	status := http.StatusOK

	for ev := range s.orch.RunTurn(r.Context(), input) {
		resp.SessionID = ev.SessionID
		switch ev.Type {
		case orchestrator.EventTextDelta:
			text.WriteString(ev.Text)
		case orchestrator.EventTurnComplete:
			resp.Session = ev.Session
		case orchestrator.EventError:
			resp.Error = &struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			}{Kind: string(ev.ErrKind), Message: ev.Message}
			status = errorStatus(ev.ErrKind)
		}
	}
	resp.Text = text.String()
	writeJSON(w, status, resp)
}

type bookRequest struct {
	SessionID string `json:"session_id"`
}

// handleBook confirms payment for an awaiting-payment session.
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !decodeBody(w, r, config.MaxRequestBodySize, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, orchestrator.ErrValidation, "session_id is required")
		return
	}

	sess, err := s.orch.ConfirmBooking(r.Context(), req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusNotFound, orchestrator.ErrValidation, "unknown session")
		case errors.Is(err, session.ErrTurnInFlight):
			writeError(w, http.StatusConflict, orchestrator.ErrTurnInFlight, "a turn is in flight for this session")
		default:
			writeError(w, http.StatusUnprocessableEntity, orchestrator.ErrValidation, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleConversation returns the full session record so a client can
// resume on a new connection.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, orchestrator.ErrValidation, "unknown session")
			return
		}
		log.Error().Err(err).Str("session_id", id).Msg("server: conversation load failed")
		writeError(w, http.StatusInternalServerError, orchestrator.ErrUpstream, "conversation load failed")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
