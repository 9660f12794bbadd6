package model

import "slices"

// Provider identifies the external system a credential authenticates against.
// The set is closed; adding a provider means adding a constant here and one
// adapter variant.
type Provider string

const (
	ProviderSession          Provider = "session"
	ProviderGmail            Provider = "gmail"   // Email provider A.
	ProviderOutlook          Provider = "outlook" // Email provider B.
	ProviderAPIKey           Provider = "api_key"
	ProviderConnectionString Provider = "connection_string"
)

// Providers lists every supported provider in a stable order.
var Providers = []Provider{
	ProviderSession,
	ProviderGmail,
	ProviderOutlook,
	ProviderAPIKey,
	ProviderConnectionString,
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	return slices.Contains(Providers, p)
}

// Kind returns the credential kind every credential of this provider has.
func (p Provider) Kind() Kind {
	switch p {
	case ProviderSession:
		return KindSession
	case ProviderGmail, ProviderOutlook:
		return KindOAuth
	case ProviderAPIKey:
		return KindAPIKey
	case ProviderConnectionString:
		return KindConnectionString
	default:
		return ""
	}
}

// Kind determines which credential fields are meaningful.
type Kind string

const (
	KindOAuth            Kind = "oauth"
	KindSession          Kind = "session"
	KindAPIKey           Kind = "api_key"
	KindConnectionString Kind = "connection_string"
)

// Refreshable reports whether credentials of this kind may carry a refresh secret.
func (k Kind) Refreshable() bool {
	return k == KindOAuth || k == KindSession
}

// Status is the lifecycle state of a credential.
type Status string

const (
	StatusPending      Status = "pending"
	StatusActive       Status = "active"
	StatusNeedsRefresh Status = "needs_refresh"
	StatusRefreshing   Status = "refreshing"
	StatusInvalid      Status = "invalid"
	StatusRevoked      Status = "revoked"
)

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusInvalid || s == StatusRevoked
}

// NonTerminalStatuses are the statuses of which at most one credential may
// exist per (owner, provider).
var NonTerminalStatuses = []Status{
	StatusPending,
	StatusActive,
	StatusNeedsRefresh,
	StatusRefreshing,
}
