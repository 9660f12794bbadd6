package application

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// signOutConcurrency bounds concurrent revocations during sign-out.
const signOutConcurrency = 4

// SessionService reacts to an owner signing in and out.
type SessionService struct {
	workingSet *WorkingSet
	coord      *Coordinator
}

// NewSessionService creates a SessionService.
func NewSessionService(workingSet *WorkingSet, coord *Coordinator) *SessionService {
	return &SessionService{
		workingSet: workingSet,
		coord:      coord,
	}
}

// SignIn warms the working set with the owner's credentials. It does not
// refresh anything; refreshes happen lazily on first use.
func (s *SessionService) SignIn(ctx context.Context, owner string) (int, error) {
	n, err := s.workingSet.Warm(ctx, owner)
	if err != nil {
		return 0, err
	}
	slog.Info("owner signed in", "owner", owner, "credentials", n)
	return n, nil
}

// SignOut revokes every live credential of the owner, releases waiters of
// the owner's in-flight refreshes with CANCELLED, and evicts the owner from
// the working set. Provider-side revocation is best effort. The first local
// revocation failure is returned after all revocations were attempted.
func (s *SessionService) SignOut(ctx context.Context, owner string) error {
	start := time.Now()

	creds, err := s.workingSet.ListByOwner(ctx, owner)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(signOutConcurrency)

	revoked := 0
	for _, cred := range creds {
		if cred.Status.Terminal() {
			continue
		}
		revoked++
		g.Go(func() error {
			return s.coord.Revoke(ctx, cred.ID)
		})
	}
	err = g.Wait()

	s.coord.CancelOwner(owner)
	s.workingSet.Evict(owner)

	if err != nil {
		slog.Error("sign-out left credentials unrevoked", "owner", owner, "error", err)
		return err
	}

	slog.Info("owner signed out",
		"owner", owner,
		"revoked", revoked,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}
