package driven

import (
	"context"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
)

// CredentialStore defines the driven port for credential persistence.
// The adapter layer owns encryption at rest; this interface operates on
// plaintext credentials at the domain boundary. Every failure is returned as a
// model.TokenError of kind STORAGE_ERROR.
type CredentialStore interface {
	// Get returns the credential for the (owner, provider) pair, preferring
	// the non-terminal one. Returns (nil, nil) if the pair has no credential.
	Get(ctx context.Context, owner string, provider model.Provider) (*model.Credential, error)

	// GetByID returns the credential with the given id, or (nil, nil).
	GetByID(ctx context.Context, id string) (*model.Credential, error)

	// Put replaces the full record keyed by credential ID. Any other
	// non-terminal credential for the same (owner, provider) is superseded
	// and marked invalid in the same operation.
	Put(ctx context.Context, cred *model.Credential) error

	// Delete physically removes the credential. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns every credential of the owner, terminal ones included.
	ListByOwner(ctx context.Context, owner string) ([]*model.Credential, error)
}
