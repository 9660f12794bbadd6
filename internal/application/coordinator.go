// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

// Coordinator defaults.
const (
	DefaultRetryBudget     = 3
	DefaultProviderTimeout = 10 * time.Second
)

var errInterestCancelled = errors.New("credential was revoked or replaced while the refresh was in flight")

// CoordinatorConfig tunes the refresh coordinator. Zero values select defaults.
type CoordinatorConfig struct {
	RefreshThreshold time.Duration
	RetryBudget      int
	ProviderTimeout  time.Duration
	Backoff          Backoff
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = model.DefaultRefreshThreshold
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = DefaultRetryBudget
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// pairKey identifies the credential slot of one owner at one provider.
type pairKey struct {
	owner    string
	provider model.Provider
}

// String is the singleflight key. Providers never contain '/', so the
// encoding is unambiguous for any owner.
func (k pairKey) String() string {
	return string(k.provider) + "/" + k.owner
}

// slot is the coordination state of one pair. mu serializes every write to
// the pair's credential. gen is bumped and cancelled closed whenever interest
// in the pair's in-flight refresh is withdrawn; writes carrying an older gen
// are refused. refs counts refresh units and their waiters. A retired slot has
// been dropped from the coordinator and must not be used.
type slot struct {
	mu        sync.Mutex
	gen       uint64
	cancelled chan struct{}
	retired   bool
	refs      int
	failures  int
	notBefore time.Time
}

func (s *slot) current(gen uint64) bool {
	return s.gen == gen && !s.retired
}

// Coordinator owns every credential state transition: refresh units,
// invalidation after an authorization failure, and revocation.
type Coordinator struct {
	store    driven.CredentialStore
	adapters driven.AdapterRegistry
	recorder driven.Recorder
	cfg      CoordinatorConfig
	logger   *slog.Logger
	now      func() time.Time

	flights singleflight.Group

	mu    sync.Mutex
	slots map[pairKey]*slot
}

// NewCoordinator creates a Coordinator. recorder may be nil.
func NewCoordinator(
	store driven.CredentialStore,
	adapters driven.AdapterRegistry,
	recorder driven.Recorder,
	cfg CoordinatorConfig,
) *Coordinator {
	if recorder == nil {
		recorder = driven.NopRecorder{}
	}
	return &Coordinator{
		store:    store,
		adapters: adapters,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		now:      time.Now,
		slots:    make(map[pairKey]*slot),
	}
}

// EnsureFresh returns a usable credential for the pair, refreshing it first
// when it is within the refresh threshold of expiry or was invalidated.
// Concurrent callers for the same pair share a single refresh unit and all
// observe its outcome.
func (c *Coordinator) EnsureFresh(ctx context.Context, owner string, provider model.Provider) (*model.Credential, error) {
	const op = "coordinator.EnsureFresh"

	key := pairKey{owner: owner, provider: provider}
	cred, err := c.store.Get(ctx, owner, provider)
	if err != nil {
		// Storage failures are retried inside the unit.
		return c.join(ctx, key)
	}
	if cred == nil {
		return nil, model.NewTokenError(model.ErrKindNotFound, op, provider, nil)
	}
	if c.fresh(cred) {
		return cred, nil
	}
	if err := c.unrefreshable(op, cred); err != nil {
		return nil, err
	}
	return c.join(ctx, key)
}

// Invalidate records that the provider rejected usedSecret. An active
// credential moves to needs_refresh only while its stored secret still equals
// usedSecret, so a burst of rejections of the same secret causes one refresh.
func (c *Coordinator) Invalidate(ctx context.Context, owner string, provider model.Provider, usedSecret model.Secret) error {
	key := pairKey{owner: owner, provider: provider}
	s := c.lockSlot(key)
	defer c.unlockSlot(key, s)

	cred, err := c.store.Get(ctx, owner, provider)
	if err != nil || cred == nil {
		return err
	}
	if cred.Status != model.StatusActive || cred.Secret != usedSecret {
		return nil
	}

	cred.Status = model.StatusNeedsRefresh
	cred.UpdatedAt = c.now()
	return c.store.Put(ctx, cred)
}

// Install stores a newly supplied credential as pending, superseding the
// pair's previous one, then promotes it to active. Waiters on a refresh of the
// superseded credential are released with CANCELLED.
func (c *Coordinator) Install(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	key := pairKey{owner: cred.Owner, provider: cred.Provider}
	s := c.lockSlot(key)
	defer c.unlockSlot(key, s)

	c.cancelLocked(key, s)

	pending := cred.Clone()
	pending.Status = model.StatusPending
	if err := c.store.Put(ctx, pending); err != nil {
		return nil, err
	}

	active := pending.Clone()
	active.Status = model.StatusActive
	active.UpdatedAt = c.now()
	if err := c.store.Put(ctx, active); err != nil {
		return nil, err
	}

	s.failures = 0
	s.notBefore = time.Time{}
	return active, nil
}

// Revoke moves the credential to revoked, cancels interest in any refresh of
// it, and then asks the provider to revoke it server side. The provider call
// is best effort: its failure is logged and counted, never returned. Revoking
// a terminal credential is a no-op.
func (c *Coordinator) Revoke(ctx context.Context, id string) error {
	const op = "coordinator.Revoke"

	cred, err := c.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cred == nil {
		return model.NewTokenError(model.ErrKindNotFound, op, "", nil)
	}

	key := pairKey{owner: cred.Owner, provider: cred.Provider}
	s := c.lockSlot(key)

	current, err := c.store.GetByID(ctx, id)
	if err != nil {
		c.unlockSlot(key, s)
		return err
	}
	if current == nil {
		c.unlockSlot(key, s)
		return model.NewTokenError(model.ErrKindNotFound, op, cred.Provider, nil)
	}
	if current.Status.Terminal() {
		c.unlockSlot(key, s)
		return nil
	}

	c.cancelLocked(key, s)

	revoked := current.Clone()
	revoked.Status = model.StatusRevoked
	revoked.UpdatedAt = c.now()
	if err := c.store.Put(ctx, revoked); err != nil {
		c.unlockSlot(key, s)
		return err
	}
	s.failures = 0
	s.notBefore = time.Time{}
	c.unlockSlot(key, s)

	c.revokeRemote(ctx, current)
	return nil
}

// CancelOwner releases every waiter of the owner's in-flight refresh units
// with CANCELLED and drops the owner's coordination state. A result that
// arrives later for one of those units is discarded.
func (c *Coordinator) CancelOwner(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range model.Providers {
		key := pairKey{owner: owner, provider: p}
		s, ok := c.slots[key]
		if !ok {
			continue
		}
		s.mu.Lock()
		c.cancelLocked(key, s)
		s.retired = true
		s.mu.Unlock()
		delete(c.slots, key)
	}
}

// MarkDue moves the owner's active credentials that crossed the refresh
// threshold to needs_refresh. No provider is contacted.
func (c *Coordinator) MarkDue(ctx context.Context, owner string) (int, error) {
	creds, err := c.store.ListByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, cred := range creds {
		if cred.Status != model.StatusActive || !model.NeedsRefresh(cred, c.now(), c.cfg.RefreshThreshold) {
			continue
		}
		ok, err := c.markDue(ctx, cred)
		if err != nil {
			return marked, err
		}
		if ok {
			marked++
		}
	}
	return marked, nil
}

func (c *Coordinator) markDue(ctx context.Context, seen *model.Credential) (bool, error) {
	key := pairKey{owner: seen.Owner, provider: seen.Provider}
	s := c.lockSlot(key)
	defer c.unlockSlot(key, s)

	cred, err := c.store.Get(ctx, seen.Owner, seen.Provider)
	if err != nil || cred == nil || cred.ID != seen.ID {
		return false, err
	}
	now := c.now()
	if cred.Status != model.StatusActive || !model.NeedsRefresh(cred, now, c.cfg.RefreshThreshold) {
		return false, nil
	}

	cred.Status = model.StatusNeedsRefresh
	cred.UpdatedAt = now
	return true, c.store.Put(ctx, cred)
}

func (c *Coordinator) fresh(cred *model.Credential) bool {
	now := c.now()
	return model.IsUsable(cred, now) && !model.NeedsRefresh(cred, now, c.cfg.RefreshThreshold)
}

// unrefreshable returns the error for credentials no refresh can recover.
func (c *Coordinator) unrefreshable(op string, cred *model.Credential) error {
	switch {
	case cred.Status == model.StatusRevoked:
		return model.NewTokenError(model.ErrKindRevoked, op, cred.Provider, nil)
	case cred.Status == model.StatusInvalid:
		return model.NewTokenError(model.ErrKindRefreshExhausted, op, cred.Provider, nil)
	case model.IsExpired(cred, c.now()) && !cred.HasRefreshCapability():
		return model.NewTokenError(model.ErrKindExpired, op, cred.Provider, nil)
	default:
		return nil
	}
}

func (c *Coordinator) slotFor(key pairKey) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[key]
	if !ok {
		s = &slot{cancelled: make(chan struct{})}
		c.slots[key] = s
	}
	return s
}

// lockSlot returns the pair's live slot with its mutex held.
func (c *Coordinator) lockSlot(key pairKey) *slot {
	for {
		s := c.slotFor(key)
		s.mu.Lock()
		if !s.retired {
			return s
		}
		s.mu.Unlock()
	}
}

// unlockSlot releases s.mu and drops the slot if it has become idle.
func (c *Coordinator) unlockSlot(key pairKey, s *slot) {
	s.mu.Unlock()
	c.prune(key, s)
}

// release drops a reference taken by a refresh unit or one of its waiters.
func (c *Coordinator) release(key pairKey, s *slot) {
	s.mu.Lock()
	s.refs--
	s.mu.Unlock()
	c.prune(key, s)
}

// prune removes s from the coordinator once no unit or waiter references it
// and it holds no failure count or rate-limit window. A pair touched again
// later starts from a fresh slot.
func (c *Coordinator) prune(key pairKey, s *slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired || s.refs > 0 || s.failures > 0 || c.now().Before(s.notBefore) {
		return
	}
	s.retired = true
	if c.slots[key] == s {
		delete(c.slots, key)
	}
}

// cancelLocked withdraws interest in the pair's in-flight unit. s.mu must be held.
func (c *Coordinator) cancelLocked(key pairKey, s *slot) {
	s.gen++
	close(s.cancelled)
	s.cancelled = make(chan struct{})
	c.flights.Forget(key.String())
}

// join waits for the pair's refresh unit, starting one if none is in flight.
func (c *Coordinator) join(ctx context.Context, key pairKey) (*model.Credential, error) {
	const op = "coordinator.EnsureFresh"

	s := c.lockSlot(key)
	gen, cancelled := s.gen, s.cancelled
	s.refs++
	s.mu.Unlock()
	defer c.release(key, s)

	unitCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key.String(), func() (any, error) {
		return c.refresh(unitCtx, key, s, gen, cancelled)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Credential).Clone(), nil
	case <-cancelled:
		return nil, model.NewTokenError(model.ErrKindCancelled, op, key.provider, errInterestCancelled)
	case <-ctx.Done():
		return nil, contextError(op, key.provider, ctx.Err())
	}
}

// refresh is the body of a refresh unit. It runs detached from any single
// caller and retries within the budget.
func (c *Coordinator) refresh(ctx context.Context, key pairKey, s *slot, gen uint64, cancelled <-chan struct{}) (*model.Credential, error) {
	const op = "coordinator.refresh"

	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return nil, model.NewTokenError(model.ErrKindCancelled, op, key.provider, errInterestCancelled)
	}
	s.refs++
	s.mu.Unlock()
	defer c.release(key, s)

	c.recorder.RefreshInFlight(key.provider, 1)
	defer c.recorder.RefreshInFlight(key.provider, -1)

	adapter, ok := c.adapters.Adapter(key.provider)
	if !ok {
		return nil, model.NewTokenError(model.ErrKindInvalidCredential, op, key.provider, errors.New("no adapter registered"))
	}

	for {
		var (
			cred *model.Credential
			done bool
		)
		err := c.withStorageRetry(op, key, cancelled, func() error {
			var err error
			cred, done, err = c.begin(ctx, op, key, s, gen)
			return err
		})
		if err != nil {
			return nil, err
		}
		if done {
			return cred, nil
		}

		start := time.Now()
		refreshed, abandoned, err := c.exchange(ctx, op, adapter, cred)
		elapsed := time.Since(start)

		if err == nil {
			var out *model.Credential
			err = c.withStorageRetry(op, key, cancelled, func() error {
				var err error
				out, err = c.install(ctx, op, key, s, gen, cred, refreshed)
				return err
			})
			switch {
			case err == nil:
				c.recorder.ObserveRefresh(key.provider, driven.OutcomeSuccess, elapsed)
				c.logger.Info("credential refreshed", "owner", key.owner, "provider", key.provider, "id", out.ID, "duration", elapsed.Round(time.Millisecond))
			case model.KindOf(err) == model.ErrKindCancelled:
				c.recorder.ObserveRefresh(key.provider, driven.OutcomeDiscarded, elapsed)
				c.logger.Info("discarded refresh result", "owner", key.owner, "provider", key.provider, "id", cred.ID)
			default:
				c.recorder.ObserveRefresh(key.provider, driven.OutcomeFailure, elapsed)
			}
			return out, err
		}

		attempt, failErr := c.fail(ctx, op, key, s, gen, cred, err)
		switch {
		case model.KindOf(failErr) == model.ErrKindRefreshExhausted:
			c.recorder.ObserveRefresh(key.provider, driven.OutcomeExhausted, elapsed)
		case model.KindOf(failErr) == model.ErrKindCancelled:
			c.recorder.ObserveRefresh(key.provider, driven.OutcomeDiscarded, elapsed)
		default:
			c.recorder.ObserveRefresh(key.provider, driven.OutcomeFailure, elapsed)
		}
		if failErr != nil {
			return nil, failErr
		}

		c.logger.Warn("credential refresh failed, retrying",
			"owner", key.owner,
			"provider", key.provider,
			"attempt", attempt,
			"error", err,
		)
		if err := c.sleep(op, key, attempt, cancelled); err != nil {
			return nil, err
		}
		if err := c.awaitAbandoned(op, key, abandoned, cancelled); err != nil {
			return nil, err
		}
	}
}

// begin reloads the credential and marks it refreshing. fresh is true when
// another unit already left a usable credential behind.
func (c *Coordinator) begin(ctx context.Context, op string, key pairKey, s *slot, gen uint64) (cred *model.Credential, fresh bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		return nil, false, model.NewTokenError(model.ErrKindCancelled, op, key.provider, errInterestCancelled)
	}

	cred, err = c.store.Get(ctx, key.owner, key.provider)
	if err != nil {
		return nil, false, err
	}
	if cred == nil {
		return nil, false, model.NewTokenError(model.ErrKindNotFound, op, key.provider, nil)
	}
	if c.fresh(cred) {
		return cred, true, nil
	}
	if err := c.unrefreshable(op, cred); err != nil {
		return nil, false, err
	}

	now := c.now()
	if now.Before(s.notBefore) {
		return nil, false, model.NewRateLimitedError(op, key.provider, s.notBefore.Sub(now), errors.New("provider asked to back off"))
	}

	refreshing := cred.Clone()
	refreshing.Status = model.StatusRefreshing
	refreshing.UpdatedAt = now
	if err := c.store.Put(ctx, refreshing); err != nil {
		return nil, false, err
	}
	return cred, false, nil
}

type refreshResult struct {
	cred *model.Credential
	err  error
}

// exchange calls the adapter under the provider timeout. When the deadline
// passes first, the call is abandoned and the returned channel closes once it
// finally returns.
func (c *Coordinator) exchange(ctx context.Context, op string, adapter driven.ProviderAdapter, cred *model.Credential) (*model.Credential, <-chan struct{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()

	done := make(chan refreshResult, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		refreshed, err := adapter.Refresh(callCtx, cred.Clone())
		done <- refreshResult{cred: refreshed, err: err}
	}()

	var res refreshResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		return nil, finished, model.NewTokenError(model.ErrKindTimeout, op, cred.Provider, callCtx.Err())
	}

	if res.err != nil {
		switch {
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) && model.KindOf(res.err) != model.ErrKindTimeout:
			return nil, nil, model.NewTokenError(model.ErrKindTimeout, op, cred.Provider, res.err)
		case model.KindOf(res.err) == "":
			return nil, nil, model.NewTokenError(model.ErrKindRefreshFailed, op, cred.Provider, res.err)
		default:
			return nil, nil, res.err
		}
	}

	r := res.cred
	if r == nil || r.ID != cred.ID || r.Owner != cred.Owner || r.Provider != cred.Provider {
		return nil, nil, model.NewTokenError(model.ErrKindRefreshFailed, op, cred.Provider, errors.New("adapter returned a credential with a different identity"))
	}
	return r, nil, nil
}

// install persists a successful refresh unless interest was withdrawn while
// the provider call was in flight.
func (c *Coordinator) install(ctx context.Context, op string, key pairKey, s *slot, gen uint64, prev, refreshed *model.Credential) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		return nil, model.NewTokenError(model.ErrKindCancelled, op, key.provider, errInterestCancelled)
	}

	out := refreshed.Clone()
	out.Kind = prev.Kind
	out.Status = model.StatusActive
	out.CreatedAt = prev.CreatedAt
	out.UpdatedAt = c.now()
	if err := c.store.Put(ctx, out); err != nil {
		return nil, err
	}

	s.failures = 0
	s.notBefore = time.Time{}
	return out, nil
}

// fail records a failed exchange. A nil error means the unit should retry
// after the backoff for attempt.
func (c *Coordinator) fail(ctx context.Context, op string, key pairKey, s *slot, gen uint64, prev *model.Credential, cause error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		return 0, model.NewTokenError(model.ErrKindCancelled, op, key.provider, errInterestCancelled)
	}

	if model.KindOf(cause) == model.ErrKindRateLimited {
		if d := model.RetryAfterOf(cause); d > 0 {
			s.notBefore = c.now().Add(d)
		}
		restored := prev.Clone()
		if restored.Status == model.StatusRefreshing {
			restored.Status = model.StatusNeedsRefresh
		}
		restored.UpdatedAt = c.now()
		if err := c.store.Put(ctx, restored); err != nil {
			c.logger.Error("failed to restore credential after rate limit", "owner", key.owner, "provider", key.provider, "error", err)
		}
		return 0, cause
	}

	if model.IsRetryable(cause) {
		s.failures++
		if s.failures < c.cfg.RetryBudget {
			return s.failures, nil
		}
	}

	s.failures = 0
	invalid := prev.Clone()
	invalid.Status = model.StatusInvalid
	invalid.UpdatedAt = c.now()
	if err := c.store.Put(ctx, invalid); err != nil {
		c.logger.Error("failed to mark credential invalid", "owner", key.owner, "provider", key.provider, "error", err)
	}
	c.logger.Warn("credential invalidated", "owner", key.owner, "provider", key.provider, "id", prev.ID, "error", cause)
	return 0, model.NewTokenError(model.ErrKindRefreshExhausted, op, key.provider, cause)
}

// withStorageRetry retries fn while it fails with STORAGE_ERROR, within the
// retry budget.
func (c *Coordinator) withStorageRetry(op string, key pairKey, cancelled <-chan struct{}, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || model.KindOf(err) != model.ErrKindStorage || attempt >= c.cfg.RetryBudget {
			return err
		}
		c.logger.Warn("credential store unavailable, retrying", "provider", key.provider, "attempt", attempt, "error", err)
		if err := c.sleep(op, key, attempt, cancelled); err != nil {
			return err
		}
	}
}

func (c *Coordinator) sleep(op string, key pairKey, attempt int, cancelled <-chan struct{}) error {
	d := c.cfg.Backoff.Next(attempt)
	if d <= 0 {
		select {
		case <-cancelled:
			return model.NewTokenError(model.ErrKindCancelled, op, key.provider, errInterestCancelled)
		default:
			return nil
		}
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-cancelled:
		return model.NewTokenError(model.ErrKindCancelled, op, key.provider, errInterestCancelled)
	}
}

// awaitAbandoned blocks until an abandoned provider call has returned, so a
// retry never overlaps it. abandoned may be nil.
func (c *Coordinator) awaitAbandoned(op string, key pairKey, abandoned <-chan struct{}, cancelled <-chan struct{}) error {
	if abandoned == nil {
		return nil
	}
	select {
	case <-abandoned:
		return nil
	default:
	}

	c.logger.Warn("waiting for timed-out provider call to return", "owner", key.owner, "provider", key.provider)
	select {
	case <-abandoned:
		return nil
	case <-cancelled:
		return model.NewTokenError(model.ErrKindCancelled, op, key.provider, errInterestCancelled)
	}
}

func (c *Coordinator) revokeRemote(ctx context.Context, cred *model.Credential) {
	adapter, ok := c.adapters.Adapter(cred.Provider)
	if !ok {
		return
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProviderTimeout)
	defer cancel()

	if err := adapter.Revoke(callCtx, cred); err != nil {
		c.recorder.ObserveRevoke(cred.Provider, driven.OutcomeFailure)
		c.logger.Warn("provider revoke failed", "owner", cred.Owner, "provider", cred.Provider, "id", cred.ID, "error", err)
		return
	}
	c.recorder.ObserveRevoke(cred.Provider, driven.OutcomeSuccess)
}

func contextError(op string, provider model.Provider, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTokenError(model.ErrKindTimeout, op, provider, err)
	}
	return model.NewTokenError(model.ErrKindCancelled, op, provider, err)
}
