package main

import (
	"net/http"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	app, _ := newTestApp(t)
	router := newTestRouter(t, app)

	rec := serve(router, newJSONRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequestIDIsEchoedOrGenerated(t *testing.T) {
	app, _ := newTestApp(t)
	router := newTestRouter(t, app)

	req := newJSONRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	rec := serve(router, req)
	assert.Equal(t, "trace-123", rec.Header().Get(requestIDHeader))

	rec = serve(router, newJSONRequest(http.MethodGet, "/healthz", nil))
	_, err := ulid.Parse(rec.Header().Get(requestIDHeader))
	assert.NoError(t, err)
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	app, _ := newTestApp(t)
	app.cfg.CORSAllowedOrigins = []string{"https://partner.example"}
	router := newTestRouter(t, app)

	for _, origin := range []string{"https://civic.example", "https://partner.example", devCORSOriginLocalhost} {
		req := newJSONRequest(http.MethodOptions, "/api/v1/issues", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := serve(router, req)
		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"), origin)
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"), origin)
	}

	req := newJSONRequest(http.MethodOptions, "/api/v1/issues", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(router, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSConfigDropsDevOriginsInProduction(t *testing.T) {
	app, _ := newTestApp(t)
	app.cfg.Env = "production"
	app.cfg.CORSAllowedOrigins = []string{"https://civic.example"}

	cfg := app.corsConfig()
	assert.Equal(t, []string{"https://civic.example"}, cfg.AllowOrigins)
}
