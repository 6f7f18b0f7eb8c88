package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/api/googleapi"
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Timeout      time.Duration // per attempt; zero means none
}

// DefaultRetryPolicy matches the shipped configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: 2 * time.Second, Timeout: 60 * time.Second}
}

// IsRetryable reports whether err is a rate-limit, overload, or timeout error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return true
		}
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs attempt until it succeeds, fails permanently, or the policy is
// exhausted. It returns the result and the number of attempts made.
func withRetry(ctx context.Context, p RetryPolicy, logger *slog.Logger, attempt func(ctx context.Context) (string, error)) (string, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Millisecond
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 64 * b.InitialInterval

	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	attempts := 0
	op := func() (string, error) {
		if err := ctx.Err(); err != nil {
			return "", backoff.Permanent(err)
		}
		attempts++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		out, err := attempt(actx)
		if err == nil {
			return out, nil
		}
		// A cancelled parent is never transient, even if it surfaced as a deadline.
		if ctx.Err() != nil || !IsRetryable(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Warn("llm: retrying", "attempt", attempts, "max_retries", maxRetries, "delay", d, "err", err)
		}),
	)
	return out, attempts, err
}
