package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	ts := NewTokenService("jwt-secret")
	token, expiresAt, err := ts.Issue("ops")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), expiresAt, time.Minute)

	claims, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)

	_, err = NewTokenService("other").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenService("jwt-secret")
	expired.TokenDuration = -time.Minute
	old, _, err := expired.Issue("ops")
	require.NoError(t, err)
	_, err = ts.Validate(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	jobs := &fakeJobs{}
	s := NewServer(Options{JWTSecret: "jwt-secret"}, jobs, nil, zerolog.Nop())

	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/v1/fetch", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/fetch", nil)
	req.Header.Set("Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, do(t, s, req).Code)

	token, _, err := NewTokenService("jwt-secret").Issue("ops")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/fetch", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusAccepted, do(t, s, req).Code)
	assert.Equal(t, 1, jobs.fetch)

	// health stays open
	assert.Equal(t, http.StatusOK, do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}
