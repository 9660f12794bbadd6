package application

import (
	"context"
	"slices"
	"sync"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

var _ driven.CredentialStore = (*WorkingSet)(nil)

// ownerEntry caches the preferred credential per provider of one signed-in
// owner. A provider missing from creds is unknown; a nil value is a cached
// absence. version changes on every write so a slow load cannot cache a
// value older than a concurrent write.
type ownerEntry struct {
	creds   map[model.Provider]*model.Credential
	version uint64
}

// WorkingSet is a read-through cache over a CredentialStore for signed-in
// owners. Reads of owners that were never warmed go straight to the store;
// every write goes through to the store. The cache is updated after the store
// write returns, and writes counts those updates so a load that overlapped
// one is never cached. Callers serialize writes to the same pair.
type WorkingSet struct {
	store driven.CredentialStore

	mu     sync.RWMutex
	owners map[string]*ownerEntry
	writes uint64
}

// NewWorkingSet wraps store.
func NewWorkingSet(store driven.CredentialStore) *WorkingSet {
	return &WorkingSet{
		store:  store,
		owners: make(map[string]*ownerEntry),
	}
}

// warmAttempts bounds how often Warm reloads an owner whose load raced a write.
const warmAttempts = 3

// Warm bulk-loads the owner's credentials. It returns how many providers have
// a credential. Nothing is refreshed. A load that overlapped a write is
// retried; if writes keep landing, the owner is warmed with nothing cached so
// reads go through to the store.
func (w *WorkingSet) Warm(ctx context.Context, owner string) (int, error) {
	for attempt := 1; ; attempt++ {
		w.mu.RLock()
		start := w.writes
		w.mu.RUnlock()

		creds, err := w.store.ListByOwner(ctx, owner)
		if err != nil {
			return 0, err
		}

		preferred := make(map[model.Provider]*model.Credential, len(model.Providers))
		for _, c := range creds {
			if model.Preferred(c, preferred[c.Provider]) {
				preferred[c.Provider] = c
			}
		}
		n := len(preferred)
		for _, p := range model.Providers {
			if _, ok := preferred[p]; !ok {
				preferred[p] = nil
			}
		}

		w.mu.Lock()
		if w.writes != start {
			if attempt < warmAttempts {
				w.mu.Unlock()
				continue
			}
			preferred = make(map[model.Provider]*model.Credential)
		}
		entry, ok := w.owners[owner]
		if !ok {
			entry = &ownerEntry{}
			w.owners[owner] = entry
		}
		entry.creds = preferred
		entry.version++
		w.mu.Unlock()
		return n, nil
	}
}

// Evict drops the owner from the working set.
func (w *WorkingSet) Evict(owner string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.owners, owner)
}

// WarmOwners returns the owners currently in the working set, sorted.
func (w *WorkingSet) WarmOwners() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	owners := make([]string, 0, len(w.owners))
	for o := range w.owners {
		owners = append(owners, o)
	}
	slices.Sort(owners)
	return owners
}

// IsWarm reports whether owner is in the working set.
func (w *WorkingSet) IsWarm(owner string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.owners[owner]
	return ok
}

func (w *WorkingSet) Get(ctx context.Context, owner string, provider model.Provider) (*model.Credential, error) {
	w.mu.RLock()
	entry, warm := w.owners[owner]
	var (
		cached  *model.Credential
		hit     bool
		version uint64
	)
	if warm {
		cached, hit = entry.creds[provider]
		version = entry.version
	}
	w.mu.RUnlock()

	if hit {
		return cached.Clone(), nil
	}

	cred, err := w.store.Get(ctx, owner, provider)
	if err != nil || !warm {
		return cred, err
	}

	w.mu.Lock()
	if entry, ok := w.owners[owner]; ok && entry.version == version {
		entry.creds[provider] = cred.Clone()
	}
	w.mu.Unlock()
	return cred, nil
}

func (w *WorkingSet) GetByID(ctx context.Context, id string) (*model.Credential, error) {
	return w.store.GetByID(ctx, id)
}

func (w *WorkingSet) Put(ctx context.Context, cred *model.Credential) error {
	err := w.store.Put(ctx, cred)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.writes++
	entry, ok := w.owners[cred.Owner]
	if !ok {
		return err
	}
	entry.version++
	if err != nil {
		delete(entry.creds, cred.Provider)
		return err
	}

	cached, known := entry.creds[cred.Provider]
	switch {
	case !cred.Status.Terminal(), known && cached != nil && cached.ID == cred.ID:
		// The written record is now the pair's preferred one, or it replaced it.
		entry.creds[cred.Provider] = cred.Clone()
	default:
		delete(entry.creds, cred.Provider)
	}
	return nil
}

func (w *WorkingSet) Delete(ctx context.Context, id string) error {
	err := w.store.Delete(ctx, id)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.writes++
	for _, entry := range w.owners {
		for p, c := range entry.creds {
			if c != nil && c.ID == id {
				delete(entry.creds, p)
				entry.version++
			}
		}
	}
	return err
}

func (w *WorkingSet) ListByOwner(ctx context.Context, owner string) ([]*model.Credential, error) {
	return w.store.ListByOwner(ctx, owner)
}
