package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "git-metrics/internal/errors"
)

// RetryPolicy bounds the exponential backoff applied to transient provider failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RateLimitMaxWait is the longest provider-advertised wait honoured before giving up.
	RateLimitMaxWait time.Duration
}

// DefaultRetryPolicy is used when a client is built without an explicit policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:      5,
	InitialInterval:  time.Second,
	MaxInterval:      30 * time.Second,
	RateLimitMaxWait: 2 * time.Minute,
}

// RetryAfterError is a classified error carrying the provider's advertised wait.
type RetryAfterError struct {
	Err   *apperrors.Error
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return e.Err.Error()
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter returns the wait the provider asked for.
func (e *RetryAfterError) RetryAfter() time.Duration {
	return e.After
}

type retryAfterer interface {
	RetryAfter() time.Duration
}

// Do runs fn until it succeeds, fails with a non-transient kind, or attempts run out.
// On exhaustion the last classified error is returned so callers still see
// RateLimited or NetworkError rather than a generic failure.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0
	b := backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
	b.Reset()

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		kind := apperrors.KindOf(err)
		if !kind.Retryable() {
			return err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		var ra retryAfterer
		if errors.As(err, &ra) && ra.RetryAfter() > wait {
			if p.RateLimitMaxWait > 0 && ra.RetryAfter() > p.RateLimitMaxWait {
				return err
			}
			wait = ra.RetryAfter()
		}

		logger.Warn("Retrying provider call", "op", op, "attempt", attempt, "kind", kind, "wait", wait.String(), "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperrors.Wrap(apperrors.KindCanceled, op, ctx.Err())
		case <-timer.C:
		}
	}
}
