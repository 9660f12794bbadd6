package model_test

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
)

func TestSecret_NeverRendersPlaintext(t *testing.T) {
	s := model.Secret("ya29.very-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", s, s, s), "very-secret")
	assert.Equal(t, "ya29.very-secret", s.Reveal())

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("stored", "secret", s)
	assert.NotContains(t, buf.String(), "very-secret")
}

func TestCredential_CloneIsDeep(t *testing.T) {
	expiry := time.Now()
	orig := &model.Credential{
		ID:        "c1",
		ExpiresAt: &expiry,
		Scopes:    []string{"mail.read"},
		Metadata:  map[string]string{"email": "a@example.com"},
	}

	cp := orig.Clone()
	cp.Scopes[0] = "changed"
	cp.Metadata["email"] = "changed"
	*cp.ExpiresAt = expiry.Add(time.Hour)

	assert.Equal(t, "mail.read", orig.Scopes[0])
	assert.Equal(t, "a@example.com", orig.Metadata["email"])
	assert.Equal(t, expiry, *orig.ExpiresAt)
}

func TestStatusOf_ClampsNegativeExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	st := model.StatusOf(&model.Credential{Provider: model.ProviderGmail, ExpiresAt: &past}, now)

	require.NotNil(t, st.ExpiresIn)
	assert.Equal(t, time.Duration(0), *st.ExpiresIn)

	st = model.StatusOf(&model.Credential{Provider: model.ProviderAPIKey}, now)
	assert.Nil(t, st.ExpiresIn)
}

func TestProvider_KindMapping(t *testing.T) {
	assert.Equal(t, model.KindSession, model.ProviderSession.Kind())
	assert.Equal(t, model.KindOAuth, model.ProviderGmail.Kind())
	assert.Equal(t, model.KindOAuth, model.ProviderOutlook.Kind())
	assert.Equal(t, model.KindAPIKey, model.ProviderAPIKey.Kind())
	assert.Equal(t, model.KindConnectionString, model.ProviderConnectionString.Kind())
	assert.False(t, model.Provider("dropbox").Valid())
}

func TestTokenError_IsMatchesKind(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", model.NewTokenError(model.ErrKindRefreshExhausted, "op", model.ProviderGmail, cause))

	assert.ErrorIs(t, err, model.ErrRefreshExhausted)
	assert.NotErrorIs(t, err, model.ErrRevoked)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, model.ErrKindRefreshExhausted, model.KindOf(err))
}

func TestRateLimitedError_CarriesRetryAfter(t *testing.T) {
	err := model.NewRateLimitedError("op", model.ProviderOutlook, 30*time.Second, nil)

	assert.Equal(t, 30*time.Second, model.RetryAfterOf(err))
	assert.Contains(t, err.Error(), "RATE_LIMITED")
	assert.False(t, model.IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, model.IsRetryable(model.ErrStorage))
	assert.True(t, model.IsRetryable(model.ErrTimeout))
	assert.True(t, model.IsRetryable(model.ErrRefreshFailed))
	assert.True(t, model.IsRetryable(errors.New("connection reset")))
	assert.False(t, model.IsRetryable(model.ErrInvalidCredential))
	assert.False(t, model.IsRetryable(model.ErrRevoked))
}

func TestPreferred(t *testing.T) {
	now := time.Now()
	live := &model.Credential{ID: "live", Status: model.StatusNeedsRefresh, UpdatedAt: now}
	oldInvalid := &model.Credential{ID: "old", Status: model.StatusInvalid, UpdatedAt: now.Add(-time.Hour)}
	newRevoked := &model.Credential{ID: "new", Status: model.StatusRevoked, UpdatedAt: now.Add(time.Hour)}

	assert.True(t, model.Preferred(live, nil))
	assert.True(t, model.Preferred(live, newRevoked))
	assert.False(t, model.Preferred(newRevoked, live))
	assert.True(t, model.Preferred(newRevoked, oldInvalid))
	assert.False(t, model.Preferred(oldInvalid, newRevoked))
}
