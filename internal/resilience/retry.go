package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy configures exponential backoff with jitter.
type RetryPolicy struct {
	Attempts uint64
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy suits short remote cache transfers.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 200 * time.Millisecond, Max: 2 * time.Second}
}

// Retry runs fn through the breaker, retrying transient failures. Errors
// wrapped with Permanent and an open circuit are not retried.
func Retry(ctx context.Context, b *Breaker, policy RetryPolicy, fn func(context.Context) error) error {
	backoff := retry.NewExponential(policy.Base)
	backoff = retry.WithJitterPercent(20, backoff)
	if policy.Max > 0 {
		backoff = retry.WithCappedDuration(policy.Max, backoff)
	}
	if policy.Attempts > 0 {
		backoff = retry.WithMaxRetries(policy.Attempts-1, backoff)
	}

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := b.Execute(ctx, fn)
		if err == nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, errPermanent) {
			return err
		}
		return retry.RetryableError(err)
	})
}

var errPermanent = errors.New("permanent failure")

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() []error {
	return []error{e.err, errPermanent}
}

// Permanent marks err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}
