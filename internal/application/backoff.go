package application

import "time"

// Backoff computes the delay before the next refresh attempt.
type Backoff interface {
	Next(attempt int) time.Duration
}

// QuadraticBackoff waits attempt² units: 1s, 4s, 9s with the default unit.
type QuadraticBackoff struct {
	Unit time.Duration
	Max  time.Duration
}

// Next returns the delay after the given failed attempt (1-based).
func (b QuadraticBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	unit := b.Unit
	if unit <= 0 {
		unit = time.Second
	}
	delay := time.Duration(attempt*attempt) * unit
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// BackoffFunc adapts a plain function to Backoff.
type BackoffFunc func(attempt int) time.Duration

func (f BackoffFunc) Next(attempt int) time.Duration { return f(attempt) }

// DefaultBackoff returns the default refresh retry policy.
func DefaultBackoff() Backoff {
	return QuadraticBackoff{Unit: time.Second, Max: time.Minute}
}
