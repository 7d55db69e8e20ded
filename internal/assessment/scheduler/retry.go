package scheduler

import (
	"context"
	"errors"
	"time"

	apperrors "assessment-sync/internal/common/errors"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns BaseDelay * 2^attempt capped at MaxDelay.
func Backoff(cfg Config, attempt int) time.Duration {
	delay := cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}

// Retry runs fn once plus up to cfg.MaxRetries more times while it fails
// with a retryable error. Each attempt gets its own RequestTimeout. onRetry,
// if set, is called before each backoff sleep.
func Retry(ctx context.Context, cfg Config, operation string, sleep SleepFunc,
	onRetry func(attempt int, delay time.Duration, err error), fn func(ctx context.Context) error) error {

	if sleep == nil {
		sleep = sleepContext
	}
	for attempt := 0; ; attempt++ {
		err := attemptWithTimeout(ctx, cfg.RequestTimeout, operation, fn)
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) || attempt >= cfg.MaxRetries || ctx.Err() != nil {
			return err
		}
		delay := Backoff(cfg, attempt)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		if sleep(ctx, delay) != nil {
			return err
		}
	}
}

func attemptWithTimeout(ctx context.Context, timeout time.Duration, operation string, fn func(ctx context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(actx)
	if err == nil {
		return nil
	}
	// a hung request counts as a network timeout no matter how fn reported it
	if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil &&
		!apperrors.HasCode(err, apperrors.ErrCodeNetworkTimeout) {
		return apperrors.NewNetworkTimeoutError(operation, err)
	}
	return err
}
