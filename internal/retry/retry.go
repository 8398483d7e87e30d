// Package retry wraps remote-call closures with exponential backoff.
// Rate-limit responses take a separate fixed cooldown path and do not
// consume attempts: being throttled is an expected, recoverable condition,
// unlike a transport or validation error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/trackersync/trackersync/internal/debug"
	"github.com/trackersync/trackersync/internal/telemetry"
)

// Executor retries an operation with delay base × 2^attempt up to a fixed
// attempt ceiling, re-raising the final failure.
type Executor struct {
	// MaxAttempts is the attempt ceiling for non-rate-limit errors.
	MaxAttempts int
	// BaseDelay is the first retry delay; each subsequent delay doubles.
	BaseDelay time.Duration
	// RateLimitCooldown is the fixed wait after a rate-limit response.
	RateLimitCooldown time.Duration
	// IsRateLimit classifies an error as a rate-limit response. When nil,
	// no error takes the cooldown path.
	IsRateLimit func(error) bool

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// maxRateLimitWaits bounds consecutive cooldowns so a tracker that stays
// throttled forever still surfaces an error instead of spinning.
const maxRateLimitWaits = 10

// New returns an executor with the given ceiling and delays.
func New(maxAttempts int, baseDelay, rateLimitCooldown time.Duration) *Executor {
	return &Executor{
		MaxAttempts:       maxAttempts,
		BaseDelay:         baseDelay,
		RateLimitCooldown: rateLimitCooldown,
	}
}

// SetSleep replaces the sleep function. Tests use this to run retry loops
// without real delays.
func (e *Executor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// Do runs op, retrying per the executor's policy. The last error is
// returned unwrapped so callers can classify it.
func (e *Executor) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // the attempt ceiling bounds us, not wall time
	bo.Reset()

	var err error
	attempts := 0
	rateLimitWaits := 0
	for {
		err = op()
		if err == nil {
			return nil
		}

		if e.IsRateLimit != nil && e.IsRateLimit(err) {
			rateLimitWaits++
			if rateLimitWaits > maxRateLimitWaits {
				return err
			}
			telemetry.RecordRateLimitWait(ctx)
			debug.Logf("retry: rate limited, cooling down %s (wait %d)", e.RateLimitCooldown, rateLimitWaits)
			if serr := e.doSleep(ctx, e.RateLimitCooldown); serr != nil {
				return serr
			}
			continue
		}

		attempts++
		if attempts >= e.MaxAttempts {
			return err
		}
		telemetry.RecordRetry(ctx)
		delay := bo.NextBackOff()
		debug.Logf("retry: attempt %d/%d failed (%v), backing off %s", attempts, e.MaxAttempts, err, delay)
		if serr := e.doSleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

func (e *Executor) doSleep(ctx context.Context, d time.Duration) error {
	if e.sleep != nil {
		return e.sleep(ctx, d)
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
