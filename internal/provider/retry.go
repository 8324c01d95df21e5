package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy describes exponential backoff with jitter for provider calls.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy allows five attempts in total.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 5,
	Base:     250 * time.Millisecond,
	Max:      4 * time.Second,
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.Base
	if base <= 0 {
		base = DefaultRetryPolicy.Base
	}
	b := retry.NewExponential(base)
	if p.Max > 0 {
		b = retry.WithCappedDuration(p.Max, b)
	}
	b = retry.WithJitterPercent(25, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. Only ErrNetwork and ErrRateLimited are retried.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// List runs a list-shaped call under the policy. Any failure left after
// retries is logged and surfaces as an empty result.
func List[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, fn func(ctx context.Context) ([]T, error)) []T {
	var out []T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		logger.Warn("provider call failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
		return nil
	}
	return out
}

// One runs a single-item call under the policy and returns its error.
func One[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
