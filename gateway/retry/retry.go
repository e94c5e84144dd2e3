// Package retry implements the single fixed-backoff retry ResiliencePipeline
// applies to a transient server_error: one retry, 200ms fixed delay, no
// exponential growth and no jitter.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const FixedDelay = 200 * time.Millisecond

// Policy controls whether an attempt's error should trigger the one
// allowed retry. Only transient server_error (including network errors)
// qualifies; rate_limited, auth_error, and client_error never do.
type Policy struct {
	MaxRetries int // pinned to 1 by ResiliencePipeline
	Delay      time.Duration
	Retryable  func(err error) bool
	logger     *zap.Logger
}

func NewPolicy(retryable func(err error) bool, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{MaxRetries: 1, Delay: FixedDelay, Retryable: retryable, logger: logger}
}

// Do runs fn, retrying once at a fixed delay if fn's error is retryable.
// Cancellation during the wait surfaces immediately as an error wrapping
// ctx.Err().
func (p *Policy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Debug("retrying attempt", zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(p.Delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt >= p.MaxRetries {
			break
		}
	}
	return lastErr
}
