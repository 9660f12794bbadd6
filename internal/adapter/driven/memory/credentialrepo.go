// Package memory implements the credential store port in process memory.
// It backs tests and single-process deployments that do not need durability.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo keeps credentials keyed by id. All reads and writes copy, so
// callers never share a record with the store.
type CredentialRepo struct {
	creds map[string]*model.Credential
	lock  sync.RWMutex
}

// NewCredentialRepo creates an empty CredentialRepo.
func NewCredentialRepo() *CredentialRepo {
	return &CredentialRepo{
		creds: make(map[string]*model.Credential),
	}
}

func (r *CredentialRepo) Get(_ context.Context, owner string, provider model.Provider) (*model.Credential, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var best *model.Credential
	for _, c := range r.creds {
		if c.Owner != owner || c.Provider != provider {
			continue
		}
		if model.Preferred(c, best) {
			best = c
		}
	}
	return best.Clone(), nil
}

func (r *CredentialRepo) GetByID(_ context.Context, id string) (*model.Credential, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.creds[id].Clone(), nil
}

func (r *CredentialRepo) Put(_ context.Context, cred *model.Credential) error {
	if cred == nil || cred.ID == "" || cred.Owner == "" || cred.Provider == "" {
		return model.NewTokenError(model.ErrKindStorage, "memory.Put", "", errors.New("credential id, owner and provider are required"))
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if !cred.Status.Terminal() {
		for id, c := range r.creds {
			if id != cred.ID && c.Owner == cred.Owner && c.Provider == cred.Provider && !c.Status.Terminal() {
				c.Status = model.StatusInvalid
				c.UpdatedAt = cred.UpdatedAt
			}
		}
	}
	r.creds[cred.ID] = cred.Clone()
	return nil
}

func (r *CredentialRepo) Delete(_ context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.creds, id)
	return nil
}

func (r *CredentialRepo) ListByOwner(_ context.Context, owner string) ([]*model.Credential, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	creds := []*model.Credential{}
	for _, c := range r.creds {
		if c.Owner == owner {
			creds = append(creds, c.Clone())
		}
	}

	sort.Slice(creds, func(i, j int) bool {
		if creds[i].Provider != creds[j].Provider {
			return creds[i].Provider < creds[j].Provider
		}
		return creds[i].UpdatedAt.After(creds[j].UpdatedAt)
	})
	return creds, nil
}
