package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/tokenwarden/internal/adapter/driven/provider"
	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
)

func sessionCredential() *model.Credential {
	expiry := time.Now().Add(-time.Minute)
	return &model.Credential{
		ID:            "sess-1",
		Owner:         "alice",
		Provider:      model.ProviderSession,
		Kind:          model.KindSession,
		Secret:        "old-jwt",
		RefreshSecret: "old-refresh",
		ExpiresAt:     &expiry,
		Status:        model.StatusRefreshing,
	}
}

func newSessionServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *provider.SessionAdapter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := provider.NewSessionAdapter(provider.SessionConfig{BaseURL: srv.URL + "/auth/v1/", APIKey: "anon-key"}, provider.NewHTTPClient(5*time.Second))
	return srv, a
}

func TestSessionAdapter_RefreshSuccess(t *testing.T) {
	_, a := newSessionServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "old-refresh", body["refresh_token"])

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "new-jwt",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
			"user":          map[string]any{"id": "u-1", "email": "alice@example.com"},
		})
	})

	in := sessionCredential()
	out, err := a.Refresh(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, "new-jwt", out.Secret.Reveal())
	assert.Equal(t, "new-refresh", out.RefreshSecret.Reveal())
	assert.Equal(t, "alice@example.com", out.Metadata["email"])
	require.NotNil(t, out.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *out.ExpiresAt, 10*time.Second)
	assert.Equal(t, "old-jwt", in.Secret.Reveal())
	assert.Nil(t, in.Metadata)
}

func TestSessionAdapter_RefreshPrefersAbsoluteExpiry(t *testing.T) {
	expiresAt := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	_, a := newSessionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "new-jwt",
			"refresh_token": "new-refresh",
			"expires_in":    60,
			"expires_at":    expiresAt.Unix(),
		})
	})

	out, err := a.Refresh(context.Background(), sessionCredential())

	require.NoError(t, err)
	require.NotNil(t, out.ExpiresAt)
	assert.True(t, expiresAt.Equal(*out.ExpiresAt))
}

func TestSessionAdapter_RefreshFallsBackToTokenExpClaim(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	_, a := newSessionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": signed, "refresh_token": "new-refresh"})
	})

	out, err := a.Refresh(context.Background(), sessionCredential())

	require.NoError(t, err)
	require.NotNil(t, out.ExpiresAt)
	assert.True(t, exp.Equal(*out.ExpiresAt))
}

func TestSessionAdapter_RefreshWithoutAnyExpiry(t *testing.T) {
	_, a := newSessionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "opaque", "refresh_token": "new-refresh"})
	})

	out, err := a.Refresh(context.Background(), sessionCredential())

	require.NoError(t, err)
	assert.Nil(t, out.ExpiresAt)
}

func TestSessionAdapter_RefreshErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		kind   model.ErrorKind
	}{
		{"invalid refresh token", http.StatusBadRequest, map[string]any{"error": "invalid_grant"}, model.ErrKindInvalidCredential},
		{"unauthorized", http.StatusUnauthorized, map[string]any{"msg": "bad jwt"}, model.ErrKindInvalidCredential},
		{"rate limited", http.StatusTooManyRequests, map[string]any{}, model.ErrKindRateLimited},
		{"server error", http.StatusInternalServerError, map[string]any{}, model.ErrKindRefreshFailed},
		{"missing access token", http.StatusOK, map[string]any{"refresh_token": "x"}, model.ErrKindRefreshFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, a := newSessionServer(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := a.Refresh(context.Background(), sessionCredential())

			require.Error(t, err)
			assert.Equal(t, tt.kind, model.KindOf(err))
		})
	}
}

func TestSessionAdapter_Revoke(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"signed out", http.StatusNoContent, false},
		{"already signed out", http.StatusUnauthorized, false},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, a := newSessionServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/v1/logout", r.URL.Path)
				assert.Equal(t, "Bearer old-jwt", r.Header.Get("Authorization"))
				assert.Equal(t, "anon-key", r.Header.Get("apikey"))
				w.WriteHeader(tt.status)
			})

			err := a.Revoke(context.Background(), sessionCredential())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSessionAdapter_Authorize(t *testing.T) {
	a := provider.NewSessionAdapter(provider.SessionConfig{BaseURL: "https://auth.example.com", APIKey: "anon-key"}, http.DefaultClient)
	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/rest/v1/items", nil)

	a.Authorize(req, sessionCredential())

	assert.Equal(t, "Bearer old-jwt", req.Header.Get("Authorization"))
	assert.Equal(t, "anon-key", req.Header.Get("apikey"))
}
