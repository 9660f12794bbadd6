package application_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/tokenwarden/internal/adapter/driven/memory"
	"github.com/ericfisherdev/tokenwarden/internal/application"
	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

// --- Fakes ---

type fakeAdapter struct {
	refreshCalls atomic.Int32
	revokeCalls  atomic.Int32
	refresh      func(ctx context.Context, cred *model.Credential) (*model.Credential, error)
	revokeErr    error
}

func (a *fakeAdapter) Refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	a.refreshCalls.Add(1)
	return a.refresh(ctx, cred)
}

func (a *fakeAdapter) Revoke(_ context.Context, _ *model.Credential) error {
	a.revokeCalls.Add(1)
	return a.revokeErr
}

func (a *fakeAdapter) Authorize(req *http.Request, cred *model.Credential) {
	req.Header.Set("Authorization", "Bearer "+cred.Secret.Reveal())
}

// rotateTo returns a refresh func installing secret with the given lifetime.
func rotateTo(secret string, ttl time.Duration) func(context.Context, *model.Credential) (*model.Credential, error) {
	return func(_ context.Context, cred *model.Credential) (*model.Credential, error) {
		out := cred.Clone()
		out.Secret = model.Secret(secret)
		out.RefreshSecret = model.Secret("refresh-" + secret)
		expiry := time.Now().Add(ttl)
		out.ExpiresAt = &expiry
		return out, nil
	}
}

func failWith(kind model.ErrorKind) func(context.Context, *model.Credential) (*model.Credential, error) {
	return func(_ context.Context, cred *model.Credential) (*model.Credential, error) {
		return nil, model.NewTokenError(kind, "fake.Refresh", cred.Provider, errors.New("provider unavailable"))
	}
}

type registry map[model.Provider]driven.ProviderAdapter

func (r registry) Adapter(p model.Provider) (driven.ProviderAdapter, bool) {
	a, ok := r[p]
	return a, ok
}

type countingRecorder struct {
	mu       sync.Mutex
	refresh  map[string]int
	revoke   map[string]int
	reauth   map[string]int
	inFlight int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		refresh: map[string]int{},
		revoke:  map[string]int{},
		reauth:  map[string]int{},
	}
}

func (r *countingRecorder) ObserveRefresh(_ model.Provider, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh[outcome]++
}

func (r *countingRecorder) ObserveRevoke(_ model.Provider, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoke[outcome]++
}

func (r *countingRecorder) ObserveReauth(_ model.Provider, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reauth[outcome]++
}

func (r *countingRecorder) RefreshInFlight(_ model.Provider, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight += delta
}

func (r *countingRecorder) refreshes(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refresh[outcome]
}

func (r *countingRecorder) reauths(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reauth[outcome]
}

// flakyStore fails the next failGets reads with STORAGE_ERROR.
type flakyStore struct {
	*memory.CredentialRepo
	failGets atomic.Int32
}

func (s *flakyStore) Get(ctx context.Context, owner string, provider model.Provider) (*model.Credential, error) {
	if s.failGets.Add(-1) >= 0 {
		return nil, model.NewTokenError(model.ErrKindStorage, "flaky.Get", provider, errors.New("database is locked"))
	}
	return s.CredentialRepo.Get(ctx, owner, provider)
}

// --- Harness ---

type harness struct {
	store    *flakyStore
	ws       *application.WorkingSet
	coord    *application.Coordinator
	adapter  *fakeAdapter
	recorder *countingRecorder
	manager  *application.Manager
}

func noBackoff(int) time.Duration { return 0 }

func newHarness(t *testing.T, adapter *fakeAdapter, cfg application.CoordinatorConfig) *harness {
	t.Helper()

	if cfg.Backoff == nil {
		cfg.Backoff = application.BackoffFunc(noBackoff)
	}
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = 2 * time.Second
	}

	store := &flakyStore{CredentialRepo: memory.NewCredentialRepo()}
	ws := application.NewWorkingSet(store)
	recorder := newCountingRecorder()
	adapters := registry{
		model.ProviderGmail:   adapter,
		model.ProviderSession: adapter,
		model.ProviderAPIKey:  adapter,
	}
	coord := application.NewCoordinator(ws, adapters, recorder, cfg)
	caller := application.NewAuthenticatedCaller(coord, adapters, http.DefaultClient, recorder)
	sessions := application.NewSessionService(ws, coord)

	return &harness{
		store:    store,
		ws:       ws,
		coord:    coord,
		adapter:  adapter,
		recorder: recorder,
		manager:  application.NewManager(ws, coord, caller, sessions),
	}
}

func gmailCredential(id, secret string, expiresIn time.Duration) *model.Credential {
	now := time.Now()
	expiry := now.Add(expiresIn)
	return &model.Credential{
		ID:            id,
		Owner:         "alice",
		Provider:      model.ProviderGmail,
		Kind:          model.KindOAuth,
		Secret:        model.Secret(secret),
		RefreshSecret: model.Secret("refresh-" + secret),
		ExpiresAt:     &expiry,
		Scopes:        []string{"gmail.modify"},
		Status:        model.StatusActive,
		CreatedAt:     now.Add(-time.Hour),
		UpdatedAt:     now.Add(-time.Hour),
	}
}

func (h *harness) seed(t *testing.T, cred *model.Credential) {
	t.Helper()
	require.NoError(t, h.store.Put(context.Background(), cred))
}

func (h *harness) stored(t *testing.T, id string) *model.Credential {
	t.Helper()
	cred, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, cred)
	return cred
}
