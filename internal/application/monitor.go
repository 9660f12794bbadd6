package application

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMonitorInterval is how often the expiry monitor sweeps warm owners.
const DefaultMonitorInterval = time.Minute

// ExpiryMonitor periodically marks credentials of signed-in owners that
// crossed the refresh threshold as needs_refresh, so status views show them
// before the next use refreshes them. It never contacts a provider.
type ExpiryMonitor struct {
	workingSet *WorkingSet
	coord      *Coordinator
	interval   time.Duration
}

// NewExpiryMonitor creates an ExpiryMonitor.
func NewExpiryMonitor(workingSet *WorkingSet, coord *Coordinator, interval time.Duration) *ExpiryMonitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &ExpiryMonitor{
		workingSet: workingSet,
		coord:      coord,
		interval:   interval,
	}
}

// Start sweeps immediately and then on every interval until ctx is canceled.
func (m *ExpiryMonitor) Start(ctx context.Context) {
	m.Sweep(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the warm owners and returns how many credentials
// were marked.
func (m *ExpiryMonitor) Sweep(ctx context.Context) int {
	start := time.Now()
	owners := m.workingSet.WarmOwners()

	var marked, sweepErrors int
	for _, owner := range owners {
		if ctx.Err() != nil {
			break
		}

		n, err := m.coord.MarkDue(ctx, owner)
		marked += n
		if err != nil {
			slog.Error("expiry sweep failed", "owner", owner, "error", err)
			sweepErrors++
		}
	}

	if marked > 0 || sweepErrors > 0 {
		slog.Info("expiry sweep complete",
			"owners", len(owners),
			"marked", marked,
			"errors", sweepErrors,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
	return marked
}
