package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration. Only errors accepted by Retryable are
// retried; everything else is returned on the first attempt.
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	MaxTotalTimeout time.Duration
	Retryable       func(error) bool
}

// ReadConfig suits short idempotent reads served to polling clients.
func ReadConfig(retryable func(error) bool) Config {
	return Config{
		MaxAttempts:     4,
		InitialDelay:    25 * time.Millisecond,
		MaxDelay:        400 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxTotalTimeout: 3 * time.Second,
		Retryable:       retryable,
	}
}

// Do runs fn with exponential backoff.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return DoWithLog(ctx, cfg, "", fn, nil)
}

// DoWithLog runs fn with exponential backoff and reports each failed attempt
// that will be retried to logFn.
func DoWithLog(ctx context.Context, cfg Config, op string, fn func() error, logFn func(attempt int, err error, nextDelay time.Duration)) error {
	if cfg.MaxTotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MaxTotalTimeout)
		defer cancel()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return prefix(op, fmt.Errorf("retry aborted: %w", err))
		}

		err := fn()
		if err == nil {
			return nil
		}
		if cfg.Retryable == nil || !cfg.Retryable(err) {
			return err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		if logFn != nil {
			logFn(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return prefix(op, fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr))
}

func prefix(op string, err error) error {
	if op == "" {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
