package recovery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loopkit/loopkit/logging"
)

// RetryConfig bounds the transient-retry loop.
type RetryConfig struct {
	// MaxAttempts counts the first try plus retries.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Logger       logging.Logger
}

// DefaultRetryConfig returns the standard three-attempt policy with a
// doubling delay starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
}

// Retry runs op, retrying only failures the policy classifies as transient.
// The delay doubles between attempts. Credential-missing and terminal
// failures return immediately; after MaxAttempts transient failures the last
// error is returned. Context cancellation aborts the wait.
func (p *Policy) Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if c := p.Classify(err); c.Class != ClassTransient {
			return backoff.Permanent(err)
		}
		logger.Warn("retry.transient", "attempt", attempt, "error", err)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1)),
		ctx,
	)
	return backoff.Retry(wrapped, policy)
}
