// Package retry wraps a single channel-send operation with bounded
// exponential-backoff retry, consulting the error classifier to stop early
// on non-retryable errors and the circuit breaker before and after attempts.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/garagedesk/notify/internal/breaker"
	"github.com/garagedesk/notify/internal/classify"
	"github.com/garagedesk/notify/internal/models"
)

// Operation performs one delivery attempt and returns a provider message ID.
type Operation func(ctx context.Context) (string, error)

// Outcome reports how an execution ended.
type Outcome struct {
	Success           bool
	ProviderMessageID string
	Err               error            // last error on failure
	ErrorKind         models.ErrorKind // classification of Err
	Retryable         bool
	Attempts          int  // attempts that reached the operation
	CircuitOpen       bool // true if the breaker rejected the call outright
}

// RetryCount returns the number of retries after the first attempt.
func (o Outcome) RetryCount() int {
	if o.Attempts <= 1 {
		return 0
	}
	return o.Attempts - 1
}

// Options tune a single execution.
type Options struct {
	// SkipCircuitBreaker bypasses the breaker gate for this call.
	SkipCircuitBreaker bool
}

// Executor runs operations under retry and circuit-breaker protection.
// The loop runs entirely in the caller's goroutine; each backoff delay is a
// blocking wait, so total latency can reach the sum of delays plus provider
// round-trips.
type Executor struct {
	cfg   models.RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep overrides the backoff wait, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// NewExecutor creates an Executor with the given retry configuration.
// A zero-valued config falls back to defaults.
func NewExecutor(cfg models.RetryConfig, opts ...Option) *Executor {
	if cfg.Validate() != nil {
		cfg = models.DefaultRetryConfig()
	}
	e := &Executor{cfg: cfg, sleep: sleepCtx}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs op under retry protection for the channel guarded by brk.
// operationName labels log lines only.
func (e *Executor) Do(ctx context.Context, brk *breaker.Breaker, op Operation, operationName string, opts Options) Outcome {
	if !opts.SkipCircuitBreaker && !brk.CanAttempt() {
		slog.Warn("circuit breaker rejected operation", "operation", operationName, "channel", brk.Channel(), "state", brk.State())
		return Outcome{
			Err:         fmt.Errorf("%s: %w", operationName, models.ErrCircuitOpen),
			ErrorKind:   models.ErrorKindServiceUnavailable,
			Retryable:   false,
			Attempts:    0,
			CircuitOpen: true,
		}
	}

	maxAttempts := e.cfg.MaxRetries + 1
	var lastErr error
	var lastKind models.ErrorKind
	var lastRetryable bool

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		id, err := op(ctx)
		if err == nil {
			brk.RecordSuccess()
			if attempt > 1 {
				slog.Info("operation succeeded after retries", "operation", operationName, "attempts", attempt)
			}
			return Outcome{Success: true, ProviderMessageID: id, Attempts: attempt}
		}

		lastErr = err
		lastKind, lastRetryable = classify.ClassifyError(err)
		slog.Debug("operation attempt failed", "operation", operationName, "attempt", attempt, "error", err, "kind", lastKind, "retryable", lastRetryable)

		if !lastRetryable || attempt == maxAttempts {
			brk.RecordFailure()
			slog.Error("operation failed", "operation", operationName, "attempts", attempt, "kind", lastKind, "retryable", lastRetryable, "error", err)
			return Outcome{Err: lastErr, ErrorKind: lastKind, Retryable: lastRetryable, Attempts: attempt}
		}

		delay := e.backoffDelay(attempt)
		slog.Debug("backing off before retry", "operation", operationName, "attempt", attempt, "delay", delay)
		if err := e.sleep(ctx, delay); err != nil {
			// Context cancelled mid-backoff; the attempt already counted.
			brk.RecordFailure()
			return Outcome{Err: fmt.Errorf("%s: %w", operationName, err), ErrorKind: lastKind, Retryable: lastRetryable, Attempts: attempt}
		}
	}

	// Unreachable: the loop always returns.
	return Outcome{Err: lastErr, ErrorKind: lastKind, Retryable: lastRetryable, Attempts: maxAttempts}
}

// backoffDelay computes min(initial * multiplier^(attempt-1), max).
func (e *Executor) backoffDelay(attempt int) time.Duration {
	scaled := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.BackoffMultiplier, float64(attempt-1))
	if scaled > float64(e.cfg.MaxDelay) {
		return e.cfg.MaxDelay
	}
	return time.Duration(scaled)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
