package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

func TestObserveRefresh(t *testing.T) {
	tests := []struct {
		name     string
		outcome  string
		duration time.Duration
		samples  int
	}{
		{"success records duration", driven.OutcomeSuccess, 200 * time.Millisecond, 1},
		{"short-circuit has no duration", driven.OutcomeExhausted, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder(prometheus.NewRegistry())

			r.ObserveRefresh(model.ProviderGmail, tt.outcome, tt.duration)

			counter := r.refreshTotal.WithLabelValues("gmail", tt.outcome)
			assert.InDelta(t, 1.0, testutil.ToFloat64(counter), 0)
			assert.Equal(t, tt.samples, testutil.CollectAndCount(r.refreshDuration))
		})
	}
}

func TestRefreshInFlight(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.RefreshInFlight(model.ProviderOutlook, 1)
	r.RefreshInFlight(model.ProviderOutlook, 1)
	r.RefreshInFlight(model.ProviderOutlook, -1)

	gauge := r.refreshInFlight.WithLabelValues("outlook")
	assert.InDelta(t, 1.0, testutil.ToFloat64(gauge), 0)
}

func TestObserveRevokeAndReauth(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.ObserveRevoke(model.ProviderSession, driven.OutcomeFailure)
	r.ObserveReauth(model.ProviderGmail, driven.OutcomeSuccess)
	r.ObserveReauth(model.ProviderGmail, driven.OutcomeSuccess)

	assert.InDelta(t, 1.0, testutil.ToFloat64(r.revokeTotal.WithLabelValues("session", "failure")), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(r.reauthTotal.WithLabelValues("gmail", "success")), 0)
}

func TestNewRecorder_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveRefresh(model.ProviderGmail, driven.OutcomeSuccess, time.Second)

	count, err := testutil.GatherAndCount(reg, "tokenwarden_refresh_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Panics(t, func() { NewRecorder(reg) })
}
