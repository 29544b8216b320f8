package inventory

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/intent"
)

func testQuery() intent.Query {
	return intent.Query{
		Location:       "Denver",
		Start:          "2026-09-04",
		End:            "2026-09-07",
		Category:       "suv",
		MaxPricePerDay: 80,
		RadiusKm:       25,
	}
}

func TestSearch_DecodesCandidates(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/vehicles/search", r.URL.Path)
		assert.Equal(t, "Bearer inv-key", r.Header.Get("Authorization"))
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"id":"v-1","make":"Subaru","model":"Outback","category":"suv","price_per_day":72.5,"deposit_amount":250,"location":"Denver","available_from":"2026-09-04","available_to":"2026-09-10"},
			{"id":"v-2","make":"Toyota","model":"RAV4","category":"suv","price_per_day":68,"deposit_amount":0,"location":"Denver"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(config.ServiceConfig{Endpoint: srv.URL, APIKey: "inv-key"})
	got, err := c.Search(context.Background(), testQuery())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "v-1", got[0].ID)
	assert.Equal(t, "Subaru", got[0].Make)
	assert.Equal(t, 72.5, got[0].PricePerDay)
	assert.Equal(t, 250.0, got[0].DepositAmount)
	assert.Equal(t, "2026-09-10", got[0].AvailableTo)
	assert.Zero(t, got[1].DepositAmount)

	assert.Equal(t, "Denver", gjson.GetBytes(gotBody, "location").String())
	assert.Equal(t, float64(80), gjson.GetBytes(gotBody, "max_price_per_day").Float())
	assert.Equal(t, int64(25), gjson.GetBytes(gotBody, "radius_km").Int())
}

func TestSearch_EmptyResultIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := NewClient(config.ServiceConfig{Endpoint: srv.URL})
	got, err := c.Search(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_MissingResultsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(config.ServiceConfig{Endpoint: srv.URL})
	_, err := c.Search(context.Background(), testQuery())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing results")
}

func TestSearch_UpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(config.ServiceConfig{Endpoint: srv.URL})
	_, err := c.Search(context.Background(), testQuery())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestSearch_RelaxedFieldsOmittedFromWire(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	q := testQuery()
	q.Category = ""
	q.MaxPricePerDay = 0

	c := NewClient(config.ServiceConfig{Endpoint: srv.URL})
	_, err := c.Search(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(gotBody, "category").Exists(), "relaxed filters stay off the wire")
	assert.False(t, gjson.GetBytes(gotBody, "max_price_per_day").Exists())
}
