// Package resilience provides backoff and cancellable sleep helpers for
// retrying session setup against flaky egress routes.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff computes capped exponential delays with additive jitter.
type Backoff struct {
	// Base is the delay for attempt 0. Default: 2s.
	Base time.Duration

	// Max caps the exponential part. Default: 30s.
	Max time.Duration

	// Jitter is the width of the uniform random term added to every delay.
	// Default: 1s. Negative disables jitter.
	Jitter time.Duration
}

// DefaultBackoff returns the proxy retry policy: min(2s * 2^n, 30s) + U[0, 1s).
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   2 * time.Second,
		Max:    30 * time.Second,
		Jitter: time.Second,
	}
}

// FromMillis builds a Backoff from config values, keeping defaults for
// non-positive inputs.
func FromMillis(baseMs, maxMs int) Backoff {
	b := DefaultBackoff()
	if baseMs > 0 {
		b.Base = time.Duration(baseMs) * time.Millisecond
	}
	if maxMs > 0 {
		b.Max = time.Duration(maxMs) * time.Millisecond
	}
	return b
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = d.Base
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Jitter == 0 {
		b.Jitter = d.Jitter
	}
	return b
}

// Delay returns min(Base * 2^attempt, Max) + jitter. It is a pure function
// of attempt apart from the jitter term.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.Base) * math.Pow(2, float64(attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	if b.Jitter > 0 {
		delay += rand.Float64() * float64(b.Jitter) // [0, Jitter)
	}
	return time.Duration(delay)
}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryLogger returns a callback that logs each retry attempt.
func RetryLogger(component, operation string) func(attempt int, delay time.Duration, err error) {
	return func(attempt int, delay time.Duration, err error) {
		zap.L().Warn("retrying operation",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}
