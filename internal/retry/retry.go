// Package retry runs an operation again when it fails for a reason that
// may clear by itself.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted is wrapped by the error Do returns once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy says how often, how patiently and on which errors to retry.
type Policy struct {
	// Attempts is the total number of tries, the first included.
	Attempts int
	// Base is the delay before the second try; it doubles per try.
	Base time.Duration
	// Max caps any single delay.
	Max time.Duration
	// Retryable reports whether err is worth another try. Nil retries
	// every error.
	Retryable func(err error) bool
}

// Contention is the policy for writes that lost a lock. Callers on the
// live path wait on these, so the budget stays under a second.
func Contention(retryable func(error) bool) Policy {
	return Policy{
		Attempts:  3,
		Base:      50 * time.Millisecond,
		Max:       500 * time.Millisecond,
		Retryable: retryable,
	}
}

// Background is the policy for work nobody is waiting on. Cancellation
// ends it at once.
func Background() Policy {
	return Policy{
		Attempts: 5,
		Base:     100 * time.Millisecond,
		Max:      5 * time.Second,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
	}
}

// Do calls fn until it succeeds, fails with an error the policy does not
// retry, runs out of attempts or ctx is done. attempt is 1-based.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Delay is the wait after the given failed attempt: Base doubled per
// earlier attempt, capped at Max, then jittered down by up to half.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Base
	if d <= 0 {
		d = time.Millisecond
	}
	for i := 1; i < attempt && (p.Max <= 0 || d < p.Max); i++ {
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
