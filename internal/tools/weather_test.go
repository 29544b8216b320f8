package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/session"
)

func TestWeatherTool_FallsBackToSessionSlots(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/conditions", r.URL.Path)
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"summary":"sunny","high_temp_c":31.5,"low_temp_c":18,"rain_risk":0.05}`))
	}))
	defer srv.Close()

	tool := NewWeatherTool(config.ServiceConfig{Endpoint: srv.URL})
	loc := "Phoenix"
	sess := session.New("w1")
	sess.Slots = session.Slots{
		Location: &loc,
		Dates:    &session.DateRange{Start: "2026-09-04", End: "2026-09-07"},
	}

	out, change, err := tool.Invoke(context.Background(), json.RawMessage(`{}`), sess)
	require.NoError(t, err)
	assert.Nil(t, change, "a conditions lookup never touches the session")

	assert.Contains(t, gotQuery, "location=Phoenix")
	assert.Contains(t, gotQuery, "start=2026-09-04")
	assert.Equal(t, "Phoenix", gjson.Get(out, "location").String())
	assert.Equal(t, "sunny", gjson.Get(out, "summary").String())
	assert.Equal(t, 31.5, gjson.Get(out, "high_temp_c").Float())
	assert.Equal(t, 0.05, gjson.Get(out, "rain_risk").Float())
}

func TestWeatherTool_ArgsOverrideSlots(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"summary":"rain"}`))
	}))
	defer srv.Close()

	tool := NewWeatherTool(config.ServiceConfig{Endpoint: srv.URL})
	loc := "Phoenix"
	sess := session.New("w2")
	sess.Slots.Location = &loc

	_, _, err := tool.Invoke(context.Background(),
		json.RawMessage(`{"location":"Seattle","start":"2026-10-01"}`), sess)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "location=Seattle")
	assert.Contains(t, gotQuery, "start=2026-10-01")
}

func TestWeatherTool_RequiresLocation(t *testing.T) {
	tool := NewWeatherTool(config.ServiceConfig{Endpoint: "http://unused"})
	_, _, err := tool.Invoke(context.Background(), json.RawMessage(`{}`), session.New("w3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "location")
}

func TestWeatherTool_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	tool := NewWeatherTool(config.ServiceConfig{Endpoint: srv.URL})
	loc := "Phoenix"
	sess := session.New("w4")
	sess.Slots.Location = &loc

	_, _, err := tool.Invoke(context.Background(), json.RawMessage(`{}`), sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
