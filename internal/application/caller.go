package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

// AuthenticatedCaller issues outbound requests on behalf of an owner. It is
// the only component that attaches a secret to a request.
type AuthenticatedCaller struct {
	coord    *Coordinator
	adapters driven.AdapterRegistry
	client   *http.Client
	recorder driven.Recorder
}

// NewAuthenticatedCaller creates an AuthenticatedCaller. recorder may be nil.
func NewAuthenticatedCaller(coord *Coordinator, adapters driven.AdapterRegistry, client *http.Client, recorder driven.Recorder) *AuthenticatedCaller {
	if client == nil {
		client = http.DefaultClient
	}
	if recorder == nil {
		recorder = driven.NopRecorder{}
	}
	return &AuthenticatedCaller{
		coord:    coord,
		adapters: adapters,
		client:   client,
		recorder: recorder,
	}
}

// Do sends req with the owner's credential for provider. On 401 it invalidates
// the credential it used, waits for one coordinated refresh, and retries once.
// A second 401 is returned as REAUTH_FAILED. The caller must close the
// response body.
func (c *AuthenticatedCaller) Do(ctx context.Context, owner string, provider model.Provider, req *http.Request) (*http.Response, error) {
	const op = "caller.Do"

	var auth authorizer = bearerAuthorizer{}
	if adapter, ok := c.adapters.Adapter(provider); ok {
		auth = adapter
	}

	body, err := replayableBody(req)
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}

	cred, err := c.coord.EnsureFresh(ctx, owner, provider)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req, body, auth, cred)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	if err := c.coord.Invalidate(ctx, owner, provider, cred.Secret); err != nil {
		return nil, err
	}
	cred, err = c.coord.EnsureFresh(ctx, owner, provider)
	if err != nil {
		c.recorder.ObserveReauth(provider, driven.OutcomeFailure)
		return nil, err
	}

	resp, err = c.send(ctx, req, body, auth, cred)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		c.recorder.ObserveReauth(provider, driven.OutcomeFailure)
		return nil, model.NewTokenError(model.ErrKindReauthFailed, op, provider, errors.New("request rejected after refresh"))
	}

	c.recorder.ObserveReauth(provider, driven.OutcomeSuccess)
	return resp, nil
}

type authorizer interface {
	Authorize(req *http.Request, cred *model.Credential)
}

// bearerAuthorizer attaches credentials of providers with no registered
// adapter. Such credentials are usable until they expire but never refreshed.
type bearerAuthorizer struct{}

func (bearerAuthorizer) Authorize(req *http.Request, cred *model.Credential) {
	req.Header.Set("Authorization", "Bearer "+cred.Secret.Reveal())
}

func (c *AuthenticatedCaller) send(
	ctx context.Context,
	req *http.Request,
	body func() (io.ReadCloser, error),
	auth authorizer,
	cred *model.Credential,
) (*http.Response, error) {
	out := req.Clone(ctx)
	if body != nil {
		rc, err := body()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = rc
		out.GetBody = body
	}
	auth.Authorize(out, cred)

	resp, err := c.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("send %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}

// replayableBody returns a function yielding fresh copies of the request
// body, or nil when there is none.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
