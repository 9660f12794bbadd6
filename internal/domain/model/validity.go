package model

import "time"

// DefaultRefreshThreshold is the lead time before expiry at which a
// refreshable credential is refreshed proactively.
const DefaultRefreshThreshold = 300 * time.Second

// IsExpired is true iff ExpiresAt is set and now >= ExpiresAt.
func IsExpired(c *Credential, now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// NeedsRefresh is true iff the credential expires, can be refreshed, and now
// is within threshold of expiry. Static keys never need a refresh.
func NeedsRefresh(c *Credential, now time.Time, threshold time.Duration) bool {
	if c.ExpiresAt == nil || !c.HasRefreshCapability() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-threshold))
}

// IsUsable is true iff the credential is active and not expired.
func IsUsable(c *Credential, now time.Time) bool {
	return c.Status == StatusActive && !IsExpired(c, now)
}
