package driven

import (
	"time"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
)

// Outcome labels reported to a Recorder.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeExhausted = "exhausted"
	OutcomeDiscarded = "discarded"
)

// Recorder receives lifecycle observations for metrics.
type Recorder interface {
	ObserveRefresh(provider model.Provider, outcome string, duration time.Duration)
	ObserveRevoke(provider model.Provider, outcome string)
	ObserveReauth(provider model.Provider, outcome string)
	RefreshInFlight(provider model.Provider, delta int)
}

// NopRecorder discards every observation.
type NopRecorder struct{}

func (NopRecorder) ObserveRefresh(model.Provider, string, time.Duration) {}
func (NopRecorder) ObserveRevoke(model.Provider, string)                {}
func (NopRecorder) ObserveReauth(model.Provider, string)                {}
func (NopRecorder) RefreshInFlight(model.Provider, int)                 {}
