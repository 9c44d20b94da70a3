package failover

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/ngoclaw/llm-interactive-proxy/pkg/errors"
)

// Dialer issues one attempt against a backend adapter. It is the seam
// between the coordinator and C7's dispatcher; the coordinator never
// talks to an adapter directly.
type Dialer interface {
	Dial(ctx context.Context, a Attempt) (*Result, error)
}

// Result is whatever the dispatcher hands back on a successful attempt.
// The coordinator only inspects RetryAfter on failures; Payload is
// opaque and passed straight through to the caller.
type Result struct {
	Payload    interface{}
	RetryAfter time.Duration
}

// Limiter is the subset of C6's contract the coordinator needs.
type Limiter interface {
	CheckLimit(key string) LimitInfo
	RecordRetryAfter(key string, retryAfter time.Duration)
}

// LimitInfo mirrors ratelimit.Info without importing that package,
// keeping failover decoupled from the concrete limiter implementation.
type LimitInfo struct {
	IsLimited bool
	ResetAt   time.Time
}

// Coordinator drives an attempt list end to end (spec.md §4.5).
type Coordinator struct {
	limiter Limiter
	dialer  Dialer
}

// New constructs a Coordinator over the given limiter and dialer.
func New(limiter Limiter, dialer Dialer) *Coordinator {
	return &Coordinator{limiter: limiter, dialer: dialer}
}

// limiterKey is the rate-limiter key for one attempt: backend, model, and
// key name are all part of the admission window per spec.md §3's
// RateLimitInfo contract ("per-(backend, model, key)").
func limiterKey(a Attempt) string {
	return a.Backend + "|" + a.Model + "|" + a.KeyName
}

// Run drives attempts in order, skipping any that are currently
// rate-limited, recording retry-after on failures that carry one, and
// returning the first success. If every attempt was skipped purely for
// being rate-limited, it returns a RateLimitError wrapping the wait until
// the earliest reset. Otherwise the last real error is returned.
func (c *Coordinator) Run(ctx context.Context, attempts []Attempt) (*Result, error) {
	if len(attempts) == 0 {
		return nil, fmt.Errorf("failover: no attempts to run")
	}

	var lastErr error
	var earliestReset time.Time
	allSkippedForRateLimit := true

	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := limiterKey(a)
		info := c.limiter.CheckLimit(key)
		if info.IsLimited {
			if earliestReset.IsZero() || info.ResetAt.Before(earliestReset) {
				earliestReset = info.ResetAt
			}
			continue
		}

		res, err := c.dialer.Dial(ctx, a)
		if err == nil {
			return res, nil
		}

		allSkippedForRateLimit = false
		lastErr = err

		if retryAfter := retryAfterOf(err, res); retryAfter > 0 {
			c.limiter.RecordRetryAfter(key, retryAfter)
		}

		if !isRetryable(err) {
			return nil, err
		}
	}

	if allSkippedForRateLimit {
		wait := time.Until(earliestReset)
		if wait < 0 {
			wait = 0
		}
		return nil, &RateLimitedError{RetryAfter: wait}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("failover: all attempts were skipped")
	}
	return nil, lastErr
}

// RateLimitedError is returned when every attempt was skipped purely due
// to rate limiting; the HTTP layer maps this to 429 with Retry-After.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("all failover attempts rate-limited, retry after %s", e.RetryAfter)
}

// retryAfterProvider is implemented by backend errors that carry a
// provider-supplied Retry-After duration (a 429 response header).
type retryAfterProvider interface {
	RetryAfterDuration() time.Duration
}

// retryAfterOf extracts a provider-reported retry-after duration from a
// failed attempt, if the dialer surfaced one on the (nil on failure)
// Result or the error itself carries one.
func retryAfterOf(err error, res *Result) time.Duration {
	if res != nil && res.RetryAfter > 0 {
		return res.RetryAfter
	}
	for e := err; e != nil; {
		if r, ok := e.(retryAfterProvider); ok {
			return r.RetryAfterDuration()
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return 0
}

// IsRetryableError determines whether a backend error is worth trying the
// next failover attempt, versus aborting the whole chain. Grounded on the
// teacher's llm_caller.go classification: timeouts, resets, 5xx, and rate
// limits are retryable; auth/bad-request/context-cancelled are not.
func IsRetryableError(err error) bool {
	return isRetryable(err)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if apperrors.IsRateLimited(err) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	nonRetryable := []string{
		"context canceled",
		"unauthorized",
		"invalid api key",
		"bad request",
		"invalid argument",
		"model not found",
	}
	for _, pattern := range nonRetryable {
		if strings.Contains(errStr, pattern) {
			return false
		}
	}

	retryablePatterns := []string{
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"eof",
		"server error",
		"502", "503", "504", "529",
		"rate limit",
		"too many requests",
		"overloaded",
		"temporarily unavailable",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	// Default: retry on unknown errors, matching the teacher's
	// conservative "don't let one odd error string kill the whole
	// failover chain" policy.
	return true
}
