package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

// InitialCredential is what an external sign-in or OAuth handshake hands the
// manager once it completes.
type InitialCredential struct {
	Owner         string
	Provider      model.Provider
	Secret        model.Secret
	RefreshSecret model.Secret
	ExpiresAt     *time.Time
	Scopes        []string
	Metadata      map[string]string
}

func (in InitialCredential) validate() error {
	switch {
	case in.Owner == "":
		return errors.New("owner is required")
	case !in.Provider.Valid():
		return fmt.Errorf("unknown provider %q", in.Provider)
	case in.Secret.IsZero():
		return errors.New("secret is required")
	case !in.RefreshSecret.IsZero() && !in.Provider.Kind().Refreshable():
		return fmt.Errorf("provider %s does not accept a refresh secret", in.Provider)
	case in.ExpiresAt != nil && in.ExpiresAt.IsZero():
		return errors.New("expiresAt must be a real instant when set")
	default:
		return nil
	}
}

// Manager is the interface collaborators use. Every credential state change
// goes through the coordinator or the session service it holds.
type Manager struct {
	store    driven.CredentialStore
	coord    *Coordinator
	caller   *AuthenticatedCaller
	sessions *SessionService
	now      func() time.Time
}

// NewManager creates a Manager. store should be the working set the
// coordinator writes through.
func NewManager(store driven.CredentialStore, coord *Coordinator, caller *AuthenticatedCaller, sessions *SessionService) *Manager {
	return &Manager{
		store:    store,
		coord:    coord,
		caller:   caller,
		sessions: sessions,
		now:      time.Now,
	}
}

// GetCredential returns a read-only snapshot of the pair's credential, or nil
// when there is none. The snapshot may be stale by up to the refresh threshold.
func (m *Manager) GetCredential(ctx context.Context, owner string, provider model.Provider) (*model.Credential, error) {
	return m.store.Get(ctx, owner, provider)
}

// EnsureFresh returns a usable credential for the pair. See Coordinator.EnsureFresh.
func (m *Manager) EnsureFresh(ctx context.Context, owner string, provider model.Provider) (*model.Credential, error) {
	return m.coord.EnsureFresh(ctx, owner, provider)
}

// Call sends req authenticated as owner at provider.
func (m *Manager) Call(ctx context.Context, owner string, provider model.Provider, req *http.Request) (*http.Response, error) {
	return m.caller.Do(ctx, owner, provider, req)
}

// StoreInitialCredential validates and stores a credential obtained by an
// external handshake. It supersedes any previous credential of the pair.
// Malformed input is rejected with INVALID_CREDENTIAL and nothing is stored.
func (m *Manager) StoreInitialCredential(ctx context.Context, in InitialCredential) (*model.Credential, error) {
	const op = "manager.StoreInitialCredential"

	if err := in.validate(); err != nil {
		return nil, model.NewTokenError(model.ErrKindInvalidCredential, op, in.Provider, err)
	}

	now := m.now()
	cred := &model.Credential{
		ID:            uuid.NewString(),
		Owner:         in.Owner,
		Provider:      in.Provider,
		Kind:          in.Provider.Kind(),
		Secret:        in.Secret,
		RefreshSecret: in.RefreshSecret,
		ExpiresAt:     in.ExpiresAt,
		Scopes:        in.Scopes,
		Metadata:      in.Metadata,
		Status:        model.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return m.coord.Install(ctx, cred.Clone())
}

// RevokeCredential revokes the credential with the given id.
func (m *Manager) RevokeCredential(ctx context.Context, id string) error {
	return m.coord.Revoke(ctx, id)
}

// ListStatuses returns the secret-free status of the owner's credential per
// provider, in provider order.
func (m *Manager) ListStatuses(ctx context.Context, owner string) ([]model.CredentialStatus, error) {
	creds, err := m.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	preferred := make(map[model.Provider]*model.Credential, len(model.Providers))
	for _, c := range creds {
		if model.Preferred(c, preferred[c.Provider]) {
			preferred[c.Provider] = c
		}
	}

	now := m.now()
	statuses := make([]model.CredentialStatus, 0, len(preferred))
	for _, p := range model.Providers {
		if c, ok := preferred[p]; ok {
			statuses = append(statuses, model.StatusOf(c, now))
		}
	}
	return statuses, nil
}

// SignIn warms the owner's credentials.
func (m *Manager) SignIn(ctx context.Context, owner string) (int, error) {
	return m.sessions.SignIn(ctx, owner)
}

// SignOut revokes the owner's credentials and cancels their in-flight refreshes.
func (m *Manager) SignOut(ctx context.Context, owner string) error {
	return m.sessions.SignOut(ctx, owner)
}
