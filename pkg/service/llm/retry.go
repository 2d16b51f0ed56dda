package llm

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
)

const DefaultMaxAttempts = 3

// RetryPolicy retries transient capacity failures with exponential backoff
// and jitter. The zero value is usable and means the defaults.
type RetryPolicy struct {
	MaxAttempts int

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns the random part of the delay in [0, 1s)
	Jitter func() time.Duration
	// OnRetry is called before sleeping for the next attempt
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (x RetryPolicy) maxAttempts() int {
	if x.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return x.MaxAttempts
}

func (x RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if x.Sleep != nil {
		return x.Sleep(ctx, d)
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

func (x RetryPolicy) jitter() time.Duration {
	if x.Jitter != nil {
		return x.Jitter()
	}
	return time.Duration(rand.Int64N(int64(time.Second)))
}

// Delay returns the wait before the attempt following the given zero based
// attempt: 2^attempt seconds plus jitter
func (x RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(1<<attempt)*time.Second + x.jitter()
}

// Retry invokes call until it succeeds, fails with a non transient error or
// the attempts are exhausted. Every attempt is a fresh invocation.
func Retry[T any](ctx context.Context, policy RetryPolicy, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := policy.maxAttempts()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := call(ctx)
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}

		delay := policy.Delay(attempt)
		logging.From(ctx).Warn("model is overloaded, retrying",
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, err)
		}

		if err := policy.sleep(ctx, delay); err != nil {
			return zero, goerr.Wrap(err, "retry wait interrupted", goerr.V("attempt", attempt+1))
		}
	}

	return zero, lastErr
}
