package authstate

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds an operation by attempt count, per attempt deadline
// and a constant wait between attempts.
type RetryPolicy struct {
	Attempts       int
	AttemptTimeout time.Duration
	Backoff        time.Duration
}

// DefaultRetryPolicy is two attempts of ten seconds each, one second apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       2,
		AttemptTimeout: 10 * time.Second,
		Backoff:        time.Second,
	}
}

// Permanent marks an error that must not be retried
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs op until it succeeds, fails permanently or the policy is
// exhausted. Each attempt gets its own deadline derived from ctx.
// notify, when set, is called before waiting for the next attempt.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context, attempt int) error, notify func(err error, wait time.Duration)) error {
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Backoff), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if policy.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
		}
		defer cancel()
		return op(actx, attempt)
	}, b, notify)
}
