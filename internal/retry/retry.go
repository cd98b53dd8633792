// Package retry provides the backoff policy and circuit breaker shared by
// the queue, the sync engine and the download controller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted wraps the last error once a policy gives up.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the queue defaults: three attempts, one second base.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 5 * time.Minute}
}

// Backoff returns the delay before retrying after the given 1-based attempt:
// exponential doubling from BaseDelay capped at MaxDelay, with up to 20%
// jitter so parallel workers spread out after a shared failure.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is
// spent. Only errors classified transient are retried; anything else
// propagates immediately. The wait between attempts honors ctx.
func (p Policy) Do(ctx context.Context, transient func(error) bool, op func() error) error {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}

	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if transient != nil && !transient(err) {
			return err
		}
		if attempt == max {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, max, err)
}
