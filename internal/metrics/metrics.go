// Package metrics provides Prometheus metrics for credential lifecycle events.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

const namespace = "tokenwarden"

// Recorder implements driven.Recorder on top of Prometheus collectors.
type Recorder struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	refreshInFlight *prometheus.GaugeVec
	revokeTotal     *prometheus.CounterVec
	reauthTotal     *prometheus.CounterVec
}

// Compile-time interface satisfaction check.
var _ driven.Recorder = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "total",
				Help:      "Total number of refresh attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		refreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "duration_seconds",
				Help:      "Duration of provider refresh exchanges",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		refreshInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "in_flight",
				Help:      "Number of refresh units currently running",
			},
			[]string{"provider"},
		),
		revokeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "revoke",
				Name:      "total",
				Help:      "Total number of provider revocations by outcome",
			},
			[]string{"provider", "outcome"},
		),
		reauthTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reauth",
				Name:      "total",
				Help:      "Total number of reauthentications after an unauthorized response",
			},
			[]string{"provider", "outcome"},
		),
	}

	reg.MustRegister(
		r.refreshTotal,
		r.refreshDuration,
		r.refreshInFlight,
		r.revokeTotal,
		r.reauthTotal,
	)
	return r
}

// ObserveRefresh counts a refresh attempt. Only attempts that reached the
// provider carry a duration.
func (r *Recorder) ObserveRefresh(provider model.Provider, outcome string, duration time.Duration) {
	r.refreshTotal.WithLabelValues(string(provider), outcome).Inc()
	if duration > 0 {
		r.refreshDuration.WithLabelValues(string(provider)).Observe(duration.Seconds())
	}
}

func (r *Recorder) ObserveRevoke(provider model.Provider, outcome string) {
	r.revokeTotal.WithLabelValues(string(provider), outcome).Inc()
}

func (r *Recorder) ObserveReauth(provider model.Provider, outcome string) {
	r.reauthTotal.WithLabelValues(string(provider), outcome).Inc()
}

func (r *Recorder) RefreshInFlight(provider model.Provider, delta int) {
	r.refreshInFlight.WithLabelValues(string(provider)).Add(float64(delta))
}
