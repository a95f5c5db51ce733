package core

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// linearBackOff waits base*attempt before each retry, capped at max when max > 0,
// and stops after retries attempts.
type linearBackOff struct {
	base    time.Duration
	max     time.Duration
	retries int
	attempt int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(base, maxDelay time.Duration, retries int) *linearBackOff {
	return &linearBackOff{base: base, max: maxDelay, retries: retries}
}

// NextBackOff returns the delay before the next retry or backoff.Stop.
func (b *linearBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.retries {
		return backoff.Stop
	}
	b.attempt++
	d := b.base * time.Duration(b.attempt)
	if b.max > 0 && d > b.max {
		d = b.max
	}
	return d
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
