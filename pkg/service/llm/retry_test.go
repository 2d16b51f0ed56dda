package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
)

func noWaitPolicy(delays *[]time.Duration) llm.RetryPolicy {
	return llm.RetryPolicy{
		Sleep: func(ctx context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		},
		Jitter: func() time.Duration { return 0 },
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	var delays []time.Duration
	calls := 0

	result, err := llm.Retry(context.Background(), noWaitPolicy(&delays), func(ctx context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", errors.New("503 Service Unavailable")
		}
		return "ok", nil
	})
	gt.NoError(t, err)
	gt.Equal(t, result, "ok")
	gt.Equal(t, calls, 3)
	gt.Equal(t, delays, []time.Duration{time.Second, 2 * time.Second})
}

func TestRetryNonTransientFailsImmediately(t *testing.T) {
	var delays []time.Duration
	calls := 0

	_, err := llm.Retry(context.Background(), noWaitPolicy(&delays), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("400 Bad Request")
	})
	gt.Error(t, err)
	gt.Equal(t, calls, 1)
	gt.A(t, delays).Length(0)
}

func TestRetryExhausted(t *testing.T) {
	var delays []time.Duration
	calls := 0

	_, err := llm.Retry(context.Background(), noWaitPolicy(&delays), func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("the model is overloaded")
	})
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("overloaded")
	gt.Equal(t, calls, llm.DefaultMaxAttempts)
	gt.A(t, delays).Length(llm.DefaultMaxAttempts - 1)
}

func TestRetryOnRetryHook(t *testing.T) {
	var attempts []int
	policy := llm.RetryPolicy{
		MaxAttempts: 2,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
		Jitter:      func() time.Duration { return 500 * time.Millisecond },
		OnRetry: func(attempt int, delay time.Duration, err error) {
			attempts = append(attempts, attempt)
			gt.Equal(t, delay, 1500*time.Millisecond)
		},
	}

	calls := 0
	_, err := llm.Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("UNAVAILABLE")
	})
	gt.Error(t, err)
	gt.Equal(t, calls, 2)
	gt.Equal(t, attempts, []int{1})
}

func TestRetryWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	policy := llm.RetryPolicy{Jitter: func() time.Duration { return 0 }}
	_, err := llm.Retry(ctx, policy, func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("503")
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.Equal(t, calls, 1)
}

func TestDelayGrowsExponentially(t *testing.T) {
	policy := llm.RetryPolicy{Jitter: func() time.Duration { return 250 * time.Millisecond }}
	gt.Equal(t, policy.Delay(0), 1250*time.Millisecond)
	gt.Equal(t, policy.Delay(1), 2250*time.Millisecond)
	gt.Equal(t, policy.Delay(2), 4250*time.Millisecond)
}
