package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/driveline/concierge/internal/orchestrator"
	"github.com/driveline/concierge/internal/security"
	"github.com/driveline/concierge/internal/utils"
)

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := utils.MarshalNoEscape(v)
	if err != nil {
		log.Error().Err(err).Msg("server: response encoding failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, kind orchestrator.ErrorKind, message string) {
	var body errorBody
	body.Error.Kind = string(kind)
	body.Error.Message = message
	writeJSON(w, status, body)
}

// errorStatus maps the error taxonomy to HTTP status codes for the
// non-streaming endpoints. Streaming transports carry the kind in-band.
func errorStatus(kind orchestrator.ErrorKind) int {
	switch kind {
	case orchestrator.ErrSecurityBlocked:
		return http.StatusForbidden
	case orchestrator.ErrBudgetExceeded:
		return http.StatusPaymentRequired
	case orchestrator.ErrTurnInFlight:
		return http.StatusConflict
	case orchestrator.ErrSessionClosed, orchestrator.ErrValidation:
		return http.StatusUnprocessableEntity
	case orchestrator.ErrModelTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// identity resolves the caller identity for rate limiting and budgets:
// an explicit client ID header when present, the peer IP otherwise.
func identity(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-Id")); id != "" {
		return id
	}
	return clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestMeta(r *http.Request) security.RequestMeta {
	return security.RequestMeta{
		UserAgent: r.UserAgent(),
		ClientIP:  clientIP(r),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, orchestrator.ErrValidation, "malformed request body")
		return false
	}
	return true
}
