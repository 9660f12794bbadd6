package provider

import (
	"context"
	"net/http"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

var _ driven.ProviderAdapter = (*StaticAdapter)(nil)

// StaticAdapter serves providers whose credentials cannot be refreshed or
// revoked remotely: API keys and connection strings.
type StaticAdapter struct {
	header string
	scheme string
}

// NewStaticAdapter creates an adapter that injects the secret into header,
// prefixed by scheme when scheme is non-empty ("Bearer", "Token").
func NewStaticAdapter(header, scheme string) *StaticAdapter {
	if header == "" {
		header = "Authorization"
	}
	return &StaticAdapter{header: header, scheme: scheme}
}

// Refresh returns an unchanged copy.
func (a *StaticAdapter) Refresh(_ context.Context, cred *model.Credential) (*model.Credential, error) {
	return cred.Clone(), nil
}

// Revoke is local-only for static credentials.
func (a *StaticAdapter) Revoke(context.Context, *model.Credential) error {
	return nil
}

func (a *StaticAdapter) Authorize(req *http.Request, cred *model.Credential) {
	value := cred.Secret.Reveal()
	if a.scheme != "" {
		value = a.scheme + " " + value
	}
	req.Header.Set(a.header, value)
}
