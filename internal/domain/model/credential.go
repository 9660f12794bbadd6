package model

import (
	"log/slog"
	"maps"
	"slices"
	"time"
)

// redacted is what a Secret renders as anywhere outside the manager boundary.
const redacted = "[REDACTED]"

// Secret is a bearer value (access token, API key, connection string). It
// renders as a placeholder through fmt and slog; Reveal is the only way to
// read the underlying value.
type Secret string

// Reveal returns the plaintext value. Only provider adapters and the
// authenticated call wrapper should call it.
func (s Secret) Reveal() string { return string(s) }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return s == "" }

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer so %#v does not leak the value either.
func (s Secret) GoString() string { return s.String() }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

// Credential is the standardized secret record for one (owner, provider) pair.
// Metadata is informational only and never drives authorization decisions.
type Credential struct {
	ID            string
	Owner         string
	Provider      Provider
	Kind          Kind
	Secret        Secret
	RefreshSecret Secret
	ExpiresAt     *time.Time
	Scopes        []string
	Status        Status
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy so callers can hand out snapshots without sharing
// the slice, map, or expiry pointer.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	out.Scopes = slices.Clone(c.Scopes)
	out.Metadata = maps.Clone(c.Metadata)
	return &out
}

// HasRefreshCapability is true when the credential carries a refresh secret.
func (c *Credential) HasRefreshCapability() bool {
	return !c.RefreshSecret.IsZero()
}

// CredentialStatus is the secret-free view of a credential used by settings
// and status screens.
type CredentialStatus struct {
	ID        string
	Provider  Provider
	Status    Status
	ExpiresIn *time.Duration
	Scopes    []string
	UpdatedAt time.Time
}

// StatusOf builds the secret-free view of c as of now. ExpiresIn is nil for
// credentials that do not expire and never negative.
func StatusOf(c *Credential, now time.Time) CredentialStatus {
	st := CredentialStatus{
		ID:        c.ID,
		Provider:  c.Provider,
		Status:    c.Status,
		Scopes:    slices.Clone(c.Scopes),
		UpdatedAt: c.UpdatedAt,
	}
	if c.ExpiresAt != nil {
		d := max(c.ExpiresAt.Sub(now), 0)
		st.ExpiresIn = &d
	}
	return st
}

// Preferred reports whether a should be reported over b for the same
// (owner, provider): the live credential first, then the most recently updated.
func Preferred(a, b *Credential) bool {
	if b == nil {
		return true
	}
	if a.Status.Terminal() != b.Status.Terminal() {
		return !a.Status.Terminal()
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}
