// Package provider implements the ProviderAdapter port for every supported
// provider family: OAuth email providers, the session provider, and static
// API-key style providers.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
)

// maxErrorBody bounds how much of a provider error response is read.
const maxErrorBody = 4 << 10

// NewHTTPClient returns the client adapters use for refresh and revoke calls.
// The coordinator bounds every call with its own deadline; timeout is a backstop.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func bearer(req *http.Request, cred *model.Credential) {
	req.Header.Set("Authorization", "Bearer "+cred.Secret.Reveal())
}

// classifyTransportError maps a failed round trip to TIMEOUT or REFRESH_FAILED.
func classifyTransportError(op string, provider model.Provider, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return model.NewTokenError(model.ErrKindTimeout, op, provider, err)
	}
	return model.NewTokenError(model.ErrKindRefreshFailed, op, provider, err)
}

// classifyStatus maps a non-2xx provider response to an error kind:
// 429 is RATE_LIMITED, 400/401/403 mean the grant itself is no good, and
// everything else is a transient refresh failure.
func classifyStatus(op string, provider model.Provider, resp *http.Response, now time.Time) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("provider responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.NewRateLimitedError(op, provider, parseRetryAfter(resp.Header.Get("Retry-After"), now), cause)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return model.NewTokenError(model.ErrKindInvalidCredential, op, provider, cause)
	default:
		return model.NewTokenError(model.ErrKindRefreshFailed, op, provider, cause)
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms. Unparseable
// or past values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}
