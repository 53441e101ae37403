// Package retry generalizes the teacher's per-Builder retry/backoff
// configuration (agent/builder_retry.go) into a standalone helper shared
// by every provider adapter, since the spec needs the same policy
// applied uniformly to three independent HTTP clients rather than one
// LLM builder.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sanchay-t/reelfinder/internal/reelerr"
)

// Policy mirrors the teacher's exponential-backoff knobs
// (WithRetry/WithRetryDelay/WithExponentialBackoff) plus the
// rate-limit-specific minimum wait the spec calls out in §4.7/§7.
type Policy struct {
	MaxAttempts    int           // total attempts including the first
	BaseDelay      time.Duration // starting delay, default 500ms
	RateLimitDelay time.Duration // minimum wait after a rate_limited response, default 2s
}

// DefaultPolicy returns a policy of maxAttempts attempts (at least 1),
// 500ms exponential base, 2s minimum rate-limit wait.
func DefaultPolicy(maxAttempts int) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return Policy{
		MaxAttempts:    maxAttempts,
		BaseDelay:      500 * time.Millisecond,
		RateLimitDelay: 2 * time.Second,
	}
}

// Do runs fn up to p.MaxAttempts times. fn must classify its own error
// via reelerr so Do can decide whether to retry, how long to wait, and
// whether to stop early for a non-retryable class. The last error is
// returned if every attempt fails.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		class := reelerr.ClassOf(err)
		if !class.Retryable() {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(p.BaseDelay, attempt)
		if class == reelerr.ClassRateLimited && delay < p.RateLimitDelay {
			delay = p.RateLimitDelay
		}

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return time.Duration(float64(base) * math.Pow(2, float64(attempt)))
}
