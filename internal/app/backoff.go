package app

import (
	"math/rand"
	"time"
)

// Default backoff configuration values.
const (
	DefaultBaseInterval = 15 * time.Second
	DefaultMaxBackoff   = 5 * time.Minute
)

// backoff tracks the wait between delivery cycles. Each failed cycle doubles
// the wait up to max; a successful cycle resets it to the base interval.
type backoff struct {
	initial  time.Duration
	max      time.Duration
	current  time.Duration
	failures int
	jitter   func() float64
}

// newBackoff creates a new backoff with the given initial and max durations.
func newBackoff(initial, max time.Duration) *backoff {
	if max < initial {
		max = initial
	}
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
		jitter:  rand.Float64,
	}
}

// Next records a failed cycle and returns how long to wait before the next
// one.
func (b *backoff) Next() time.Duration {
	b.failures++
	if b.failures > 1 {
		b.current *= 2
		if b.current > b.max || b.current <= 0 {
			b.current = b.max
		}
	}

	// Add jitter: ±20%
	jitter := float64(b.current) * 0.2 * (b.jitter()*2 - 1)
	wait := time.Duration(float64(b.current) + jitter)
	if wait > b.max {
		wait = b.max
	}
	return wait
}

// Reset resets the backoff to the initial duration.
func (b *backoff) Reset() {
	b.current = b.initial
	b.failures = 0
}

// Active reports whether the last cycle failed.
func (b *backoff) Active() bool {
	return b.failures > 0
}

// Current returns the current backoff duration.
func (b *backoff) Current() time.Duration {
	return b.current
}
