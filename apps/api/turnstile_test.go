package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnstileVerifierPostsForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "site-secret", r.PostForm.Get("secret"))
		assert.Equal(t, "203.0.113.7", r.PostForm.Get("remoteip"))
		success := r.PostForm.Get("response") == "good-token"
		w.Header().Set("Content-Type", "application/json")
		if success {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer server.Close()

	verifier := newTurnstileVerifier("site-secret")
	verifier.Endpoint = server.URL

	ok, err := verifier.Verify(context.Background(), "good-token", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifier.Verify(context.Background(), "bad-token", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTurnstileVerifierReportsUpstreamErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	verifier := newTurnstileVerifier("site-secret")
	verifier.Endpoint = server.URL
	_, err := verifier.Verify(context.Background(), "token", "")
	assert.ErrorContains(t, err, "turnstile status 502")
}

func TestVerifyBotToken(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	assert.NoError(t, app.verifyBotToken(ctx, "", ""), "no verifier configured")

	app.botVerifier = &stubBotVerifier{ok: true}
	assert.Error(t, app.verifyBotToken(ctx, "", ""))
	assert.NoError(t, app.verifyBotToken(ctx, "token", ""))

	app.botVerifier = &stubBotVerifier{err: assert.AnError}
	assert.Error(t, app.verifyBotToken(ctx, "token", ""))
}
