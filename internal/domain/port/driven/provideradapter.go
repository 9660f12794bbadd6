package driven

import (
	"context"
	"net/http"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
)

// ProviderAdapter performs one provider family's refresh and revoke exchanges
// and knows how to attach a credential to an outbound request.
type ProviderAdapter interface {
	// Refresh returns a complete replacement credential with the same ID,
	// Owner and Provider. It must not mutate cred. Providers without a
	// refresh capability return an unchanged copy. Refresh must return
	// promptly once ctx is done; a retry of the same credential waits for
	// the previous call to return.
	Refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error)

	// Revoke notifies the provider that cred should be invalidated server
	// side. It is best effort; local revocation proceeds regardless.
	Revoke(ctx context.Context, cred *model.Credential) error

	// Authorize injects cred into req, typically as an Authorization header.
	Authorize(req *http.Request, cred *model.Credential)
}

// AdapterRegistry resolves the adapter serving a provider.
type AdapterRegistry interface {
	Adapter(provider model.Provider) (ProviderAdapter, bool)
}
