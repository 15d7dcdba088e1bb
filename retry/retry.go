// Package retry implements the router's exponential-backoff-with-jitter
// retrier (spec §4.D) and its retryability rules.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"goa.design/llmrouter/model"
)

// Config configures a retry attempt budget and backoff shape.
type Config struct {
	MaxAttempts    int           // includes the initial attempt
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultUnaryConfig returns the spec's default unary budget: 3 attempts,
// backoff starting at 1s, capped at 30s.
func DefaultUnaryConfig() Config {
	return Config{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

// DefaultStreamConfig returns the spec's default streaming budget: 2
// attempts, same backoff shape as unary.
func DefaultStreamConfig() Config {
	return Config{MaxAttempts: 2, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

// ExhaustedError is returned when the attempt budget is exhausted without
// a success.
type ExhaustedError struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }

// IsRetryable reports whether err should be retried: a RouterError is
// retryable iff its kind is MODEL_RATE_LIMIT or MODEL_SERVER_ERROR (§7,
// §8); context.Canceled is never retryable; context.DeadlineExceeded
// always is; any other error is not retryable (adapters are expected to
// classify errors into RouterError before returning them).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if re, ok := model.AsRouterError(err); ok {
		return re.Retryable()
	}
	return false
}

// Do executes fn, retrying on retryable errors per cfg until the attempt
// budget is exhausted or fn succeeds. Non-retryable errors propagate
// immediately without consuming the remaining budget (§4.D).
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		backoff := calculateBackoff(cfg, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return &ExhaustedError{
		Attempts:      cfg.MaxAttempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}

// calculateBackoff implements the spec §4.D formula:
// min(30000, initial * 2^attempt + U[0, 0.2 * initial * 2^attempt]) ms.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	base := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	jitter := base * 0.2 * rand.Float64() //nolint:gosec // backoff jitter needs no cryptographic randomness
	backoff := base + jitter

	max := float64(cfg.MaxBackoff)
	if max > 0 && backoff > max {
		backoff = max
	}
	return time.Duration(backoff)
}
