package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
)

func ptr(t time.Time) *time.Time { return &t }

func TestIsExpired_MatchesExpiryBoundary(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &model.Credential{ExpiresAt: ptr(expiry)}

	for _, offset := range []time.Duration{-time.Hour, -time.Nanosecond, 0, time.Nanosecond, time.Hour} {
		now := expiry.Add(offset)
		assert.Equal(t, !now.Before(expiry), model.IsExpired(c, now), "offset %s", offset)
	}
}

func TestIsExpired_NoExpiryNeverExpires(t *testing.T) {
	c := &model.Credential{}
	assert.False(t, model.IsExpired(c, time.Now().Add(100*365*24*time.Hour)))
}

func TestNeedsRefresh_WithinThreshold(t *testing.T) {
	now := time.Now()
	c := &model.Credential{
		RefreshSecret: "rt",
		ExpiresAt:     ptr(now.Add(10 * time.Second)),
	}

	assert.True(t, model.NeedsRefresh(c, now, model.DefaultRefreshThreshold))
	assert.False(t, model.IsExpired(c, now))
}

func TestNeedsRefresh_OutsideThreshold(t *testing.T) {
	now := time.Now()
	c := &model.Credential{
		RefreshSecret: "rt",
		ExpiresAt:     ptr(now.Add(time.Hour)),
	}

	assert.False(t, model.NeedsRefresh(c, now, model.DefaultRefreshThreshold))
}

func TestNeedsRefresh_RequiresRefreshSecret(t *testing.T) {
	now := time.Now()
	c := &model.Credential{ExpiresAt: ptr(now.Add(-time.Minute))}

	assert.False(t, model.NeedsRefresh(c, now, model.DefaultRefreshThreshold))
}

func TestNeedsRefresh_NoExpiry(t *testing.T) {
	c := &model.Credential{RefreshSecret: "rt"}
	assert.False(t, model.NeedsRefresh(c, time.Now(), model.DefaultRefreshThreshold))
}

func TestIsUsable(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		cred   model.Credential
		usable bool
	}{
		{"active without expiry", model.Credential{Status: model.StatusActive}, true},
		{"active future expiry", model.Credential{Status: model.StatusActive, ExpiresAt: ptr(now.Add(time.Minute))}, true},
		{"active expired", model.Credential{Status: model.StatusActive, ExpiresAt: ptr(now)}, false},
		{"needs refresh", model.Credential{Status: model.StatusNeedsRefresh}, false},
		{"pending", model.Credential{Status: model.StatusPending}, false},
		{"revoked", model.Credential{Status: model.StatusRevoked}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.usable, model.IsUsable(&tt.cred, now))
		})
	}
}
