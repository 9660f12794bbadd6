package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

var _ driven.ProviderAdapter = (*OAuthAdapter)(nil)

// Well-known issuers of the email providers.
const (
	GmailIssuer           = "https://accounts.google.com"
	OutlookIssuerTemplate = "https://login.microsoftonline.com/%s/v2.0"
	OutlookExpectedIssuer = "https://login.microsoftonline.com/{tenantid}/v2.0"
)

// OAuthConfig identifies the application registered with an OAuth provider.
type OAuthConfig struct {
	Provider     model.Provider
	ClientID     string
	ClientSecret string
}

// OAuthAdapter refreshes and revokes OAuth 2.0 credentials of an email
// provider using the refresh_token grant and RFC 7009 revocation.
type OAuthAdapter struct {
	cfg       OAuthConfig
	endpoints EndpointSource
	client    *http.Client
	now       func() time.Time
}

// NewOAuthAdapter creates an OAuthAdapter.
func NewOAuthAdapter(cfg OAuthConfig, endpoints EndpointSource, client *http.Client) *OAuthAdapter {
	return &OAuthAdapter{
		cfg:       cfg,
		endpoints: endpoints,
		client:    client,
		now:       time.Now,
	}
}

// Refresh exchanges the refresh secret for a new access token. A provider
// that does not rotate refresh tokens keeps the old one.
func (a *OAuthAdapter) Refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	const op = "oauth.Refresh"

	if !cred.HasRefreshCapability() {
		return nil, model.NewTokenError(model.ErrKindInvalidCredential, op, a.cfg.Provider, errors.New("no refresh secret"))
	}

	ep, err := a.endpoints.Endpoints(ctx)
	if err != nil {
		return nil, classifyTransportError(op, a.cfg.Provider, err)
	}

	conf := &oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  ep.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshSecret.Reveal()}).Token()
	if err != nil {
		return nil, a.classify(op, err)
	}

	out := cred.Clone()
	out.Secret = model.Secret(tok.AccessToken)
	if tok.RefreshToken != "" {
		out.RefreshSecret = model.Secret(tok.RefreshToken)
	}
	out.ExpiresAt = nil
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		out.ExpiresAt = &expiry
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		out.Scopes = strings.Fields(scope)
	}
	out.UpdatedAt = a.now()
	return out, nil
}

// Revoke posts the refresh secret (or the access token when there is none)
// to the provider's revocation endpoint. Providers without one are skipped.
func (a *OAuthAdapter) Revoke(ctx context.Context, cred *model.Credential) error {
	const op = "oauth.Revoke"

	ep, err := a.endpoints.Endpoints(ctx)
	if err != nil {
		return classifyTransportError(op, a.cfg.Provider, err)
	}
	if ep.RevocationURL == "" {
		return nil
	}

	form := url.Values{
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
	}
	if cred.HasRefreshCapability() {
		form.Set("token", cred.RefreshSecret.Reveal())
		form.Set("token_type_hint", "refresh_token")
	} else {
		form.Set("token", cred.Secret.Reveal())
		form.Set("token_type_hint", "access_token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return model.NewTokenError(model.ErrKindRefreshFailed, op, a.cfg.Provider, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(op, a.cfg.Provider, err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode/100 != 2 {
		return classifyStatus(op, a.cfg.Provider, resp, a.now())
	}
	return nil
}

func (a *OAuthAdapter) Authorize(req *http.Request, cred *model.Credential) {
	bearer(req, cred)
}

// classify maps oauth2 errors onto the token error taxonomy. invalid_grant
// means the refresh token is dead and no retry can help.
func (a *OAuthAdapter) classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return classifyTransportError(op, a.cfg.Provider, err)
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return model.NewRateLimitedError(op, a.cfg.Provider, parseRetryAfter(re.Response.Header.Get("Retry-After"), a.now()), err)
	case re.ErrorCode == "invalid_grant", re.ErrorCode == "invalid_client", re.ErrorCode == "unauthorized_client":
		return model.NewTokenError(model.ErrKindInvalidCredential, op, a.cfg.Provider, err)
	case status == http.StatusBadRequest, status == http.StatusUnauthorized:
		return model.NewTokenError(model.ErrKindInvalidCredential, op, a.cfg.Provider, err)
	default:
		return model.NewTokenError(model.ErrKindRefreshFailed, op, a.cfg.Provider, err)
	}
}
