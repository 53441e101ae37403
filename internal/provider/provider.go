// Package provider implements the four thin HTTP adapters described by
// spec.md §4.3: web search, post hydration, transcript fetch, and
// profile fetch. Each adapter owns its own *http.Client and a counting
// semaphore sized by Config.Parallel, generalizing the teacher's
// per-Builder worker pool (agent/tool_parallel.go) into a standalone,
// reusable primitive shared across all four adapters.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/retry"
	"golang.org/x/time/rate"
)

// Semaphore is a counting semaphore built on a buffered channel, the
// same primitive the teacher uses inline in executeToolsParallel,
// extracted here so every adapter can share one shape.
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore creates a semaphore with n concurrent slots.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{tokens: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (s *Semaphore) Release() { <-s.tokens }

// ClientConfig is the shared configuration every adapter needs: base
// URL, credential, per-request timeout, concurrency limit, and a
// sustained request rate.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutMS  int
	Parallel   int
	// RPS bounds the sustained request rate per adapter, independent of
	// Parallel's burst-concurrency limit. Zero disables rate limiting
	// (the semaphore alone still bounds concurrency).
	RPS float64
	// Retry is RETRY from Config: the number of attempts (including the
	// first) each adapter call gets before giving up, per spec.md §4.7.
	Retry int
}

// retryPolicy builds the exponential-backoff policy every adapter call
// retries under, per spec.md §4.7: RETRY attempts, 500ms base delay,
// rate_limited waits at least 2s. out_of_credits/auth_failed are not
// retryable at all, which retry.Do already enforces via Class.Retryable.
func (c ClientConfig) retryPolicy() retry.Policy {
	return retry.DefaultPolicy(c.Retry)
}

// httpClient returns an *http.Client scoped to one adapter. Adapters
// never share a global ambient client, per spec.md §9's "no ambient
// singletons except the logger" design note.
func (c ClientConfig) httpClient() *http.Client {
	return &http.Client{Timeout: time.Duration(c.TimeoutMS) * time.Millisecond}
}

// limiter builds a token-bucket rate limiter sized for this config,
// generalizing the teacher's rate_limiter_token_bucket.go (built on the
// same golang.org/x/time/rate package) from a single shared limiter into
// one instance per adapter. A zero RPS yields an effectively unlimited
// limiter so callers can Wait unconditionally.
func (c ClientConfig) limiter() *rate.Limiter {
	if c.RPS <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := c.Parallel
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RPS), burst)
}

// Classify maps an HTTP response/transport error to the behavioral
// error categories from spec.md §4.3/§7.
func Classify(resp *http.Response, err error) reelerr.Class {
	if err != nil {
		return reelerr.ClassTransient
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return reelerr.ClassRateLimited
	case resp.StatusCode == http.StatusPaymentRequired:
		return reelerr.ClassOutOfCredits
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return reelerr.ClassAuthFailed
	case resp.StatusCode == http.StatusNotFound:
		return reelerr.ClassNotFound
	case resp.StatusCode >= 500:
		return reelerr.ClassTransient
	case resp.StatusCode >= 400:
		return reelerr.ClassInvalidResponse
	default:
		return reelerr.ClassTransient
	}
}

// doJSON performs req, classifies any non-2xx response, and decodes the
// body into out. Non-JSON bodies are reported as invalid_response per
// spec.md §4.3.1.
func doJSON(client *http.Client, req *http.Request, operation string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return reelerr.WithContext(err, reelerr.ClassTransient, operation, nil)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return reelerr.WithContext(readErr, reelerr.ClassTransient, operation, nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := Classify(resp, nil)
		return reelerr.WithContext(
			fmt.Errorf("http %d: %s", resp.StatusCode, string(body)),
			class, operation, map[string]any{"status": resp.StatusCode},
		)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return reelerr.WithContext(err, reelerr.ClassInvalidResponse, operation, nil)
	}
	return nil
}
