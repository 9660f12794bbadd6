package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

var _ driven.ProviderAdapter = (*SessionAdapter)(nil)

// SessionConfig points the session adapter at the auth server that issued
// the user's sign-in session.
type SessionConfig struct {
	BaseURL string // e.g. https://project.example.co/auth/v1
	APIKey  string // Public project key sent as the apikey header.
}

// SessionAdapter refreshes and ends sign-in sessions on a GoTrue-compatible
// auth server.
type SessionAdapter struct {
	cfg    SessionConfig
	client *http.Client
	now    func() time.Time
}

// NewSessionAdapter creates a SessionAdapter.
func NewSessionAdapter(cfg SessionConfig, client *http.Client) *SessionAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SessionAdapter{cfg: cfg, client: client, now: time.Now}
}

type sessionTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// Refresh rotates the session using the refresh_token grant. Session servers
// rotate refresh tokens on every use, so the response must carry a new one.
func (a *SessionAdapter) Refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	const op = "session.Refresh"

	if !cred.HasRefreshCapability() {
		return nil, model.NewTokenError(model.ErrKindInvalidCredential, op, model.ProviderSession, errors.New("no refresh secret"))
	}

	body, err := json.Marshal(map[string]string{"refresh_token": cred.RefreshSecret.Reveal()})
	if err != nil {
		return nil, model.NewTokenError(model.ErrKindRefreshFailed, op, model.ProviderSession, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/token?grant_type=refresh_token", bytes.NewReader(body))
	if err != nil {
		return nil, model.NewTokenError(model.ErrKindRefreshFailed, op, model.ProviderSession, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(op, model.ProviderSession, err)
	}
	defer drainAndClose(resp)

	now := a.now()
	if resp.StatusCode/100 != 2 {
		return nil, classifyStatus(op, model.ProviderSession, resp, now)
	}

	var tr sessionTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, model.NewTokenError(model.ErrKindRefreshFailed, op, model.ProviderSession, fmt.Errorf("decode token response: %w", err))
	}
	if tr.AccessToken == "" {
		return nil, model.NewTokenError(model.ErrKindRefreshFailed, op, model.ProviderSession, errors.New("token response without access_token"))
	}

	out := cred.Clone()
	out.Secret = model.Secret(tr.AccessToken)
	if tr.RefreshToken != "" {
		out.RefreshSecret = model.Secret(tr.RefreshToken)
	}
	out.ExpiresAt = sessionExpiry(tr, now)
	if tr.User.Email != "" {
		if out.Metadata == nil {
			out.Metadata = map[string]string{}
		}
		out.Metadata["email"] = tr.User.Email
	}
	out.UpdatedAt = now
	return out, nil
}

// Revoke signs the session out on the auth server. A 401 means the session
// is already gone, which is the desired end state.
func (a *SessionAdapter) Revoke(ctx context.Context, cred *model.Credential) error {
	const op = "session.Revoke"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/logout", http.NoBody)
	if err != nil {
		return model.NewTokenError(model.ErrKindRefreshFailed, op, model.ProviderSession, err)
	}
	req.Header.Set("apikey", a.cfg.APIKey)
	bearer(req, cred)

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(op, model.ProviderSession, err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode/100 == 2 || resp.StatusCode == http.StatusUnauthorized {
		return nil
	}
	return classifyStatus(op, model.ProviderSession, resp, a.now())
}

func (a *SessionAdapter) Authorize(req *http.Request, cred *model.Credential) {
	req.Header.Set("apikey", a.cfg.APIKey)
	bearer(req, cred)
}

// sessionExpiry prefers the absolute expires_at, then expires_in, then the
// exp claim of the access token itself.
func sessionExpiry(tr sessionTokenResponse, now time.Time) *time.Time {
	var t time.Time
	switch {
	case tr.ExpiresAt > 0:
		t = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		t = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		exp, ok := jwtExpiry(tr.AccessToken)
		if !ok {
			return nil
		}
		t = exp
	}
	return &t
}

// jwtExpiry reads the exp claim without verifying the signature.
func jwtExpiry(raw string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
