package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garagedesk/notify/internal/breaker"
	"github.com/garagedesk/notify/internal/models"
)

func newTestExecutor(maxRetries int, delays *[]time.Duration) *Executor {
	cfg := models.RetryConfig{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		MaxRetries:        maxRetries,
		BackoffMultiplier: 2.0,
	}
	return NewExecutor(cfg, WithSleep(func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}))
}

func newTestBreaker() *breaker.Breaker {
	return breaker.New(models.ChannelWhatsApp, models.BreakerConfig{FailureThreshold: 100, RecoveryTimeout: time.Minute})
}

func retryableErr() error {
	return &models.ProviderError{Channel: models.ChannelWhatsApp, StatusCode: 503, Message: "service unavailable"}
}

func nonRetryableErr() error {
	return &models.ProviderError{Channel: models.ChannelWhatsApp, StatusCode: 400, Code: "21211", Message: "invalid 'To' phone number"}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	var delays []time.Duration
	e := newTestExecutor(3, &delays)
	brk := newTestBreaker()

	out := e.Do(context.Background(), brk, func(ctx context.Context) (string, error) {
		return "SM123", nil
	}, "test send", Options{})

	if !out.Success || out.Attempts != 1 || out.ProviderMessageID != "SM123" {
		t.Errorf("outcome = %+v, want success on attempt 1", out)
	}
	if out.RetryCount() != 0 {
		t.Errorf("retry count = %d, want 0", out.RetryCount())
	}
	if len(delays) != 0 {
		t.Errorf("no delay should elapse on first-attempt success, got %v", delays)
	}
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	var delays []time.Duration
	e := newTestExecutor(3, &delays)
	brk := newTestBreaker()

	calls := 0
	out := e.Do(context.Background(), brk, func(ctx context.Context) (string, error) {
		calls++
		return "", nonRetryableErr()
	}, "test send", Options{})

	if out.Success {
		t.Fatal("expected failure")
	}
	if calls != 1 || out.Attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1/1", calls, out.Attempts)
	}
	if len(delays) != 0 {
		t.Errorf("no delay should elapse for non-retryable error, got %v", delays)
	}
	if out.ErrorKind != models.ErrorKindValidation || out.Retryable {
		t.Errorf("classification = (%v, %v), want (validation, false)", out.ErrorKind, out.Retryable)
	}
	if brk.FailureCount() != 1 {
		t.Errorf("breaker failure count = %d, want 1", brk.FailureCount())
	}
}

func TestDoExhaustsRetriesWithBackoffSequence(t *testing.T) {
	var delays []time.Duration
	e := newTestExecutor(3, &delays)
	brk := newTestBreaker()

	calls := 0
	out := e.Do(context.Background(), brk, func(ctx context.Context) (string, error) {
		calls++
		return "", retryableErr()
	}, "test send", Options{})

	if out.Success {
		t.Fatal("expected failure")
	}
	if calls != 4 || out.Attempts != 4 {
		t.Errorf("calls = %d, attempts = %d, want 4/4 (maxRetries=3)", calls, out.Attempts)
	}
	if out.RetryCount() != 3 {
		t.Errorf("retry count = %d, want 3", out.RetryCount())
	}

	// 100ms * 2^(n-1): 100ms, 200ms, 400ms
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestDoBackoffCappedAtMaxDelay(t *testing.T) {
	var delays []time.Duration
	cfg := models.RetryConfig{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          250 * time.Millisecond,
		MaxRetries:        4,
		BackoffMultiplier: 2.0,
	}
	e := NewExecutor(cfg, WithSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	e.Do(context.Background(), newTestBreaker(), func(ctx context.Context) (string, error) {
		return "", retryableErr()
	}, "test send", Options{})

	// 100, 200, then capped at 250 twice
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	e := newTestExecutor(3, &delays)
	brk := newTestBreaker()
	brk.RecordFailure()
	brk.RecordFailure()

	calls := 0
	out := e.Do(context.Background(), brk, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", retryableErr()
		}
		return "SM456", nil
	}, "test send", Options{})

	if !out.Success || out.Attempts != 3 {
		t.Errorf("outcome = %+v, want success on attempt 3", out)
	}
	if brk.FailureCount() != 0 {
		t.Errorf("success must reset breaker counter, got %d", brk.FailureCount())
	}
}

func TestDoCircuitOpenShortCircuits(t *testing.T) {
	var delays []time.Duration
	e := newTestExecutor(3, &delays)
	brk := breaker.New(models.ChannelWhatsApp, models.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	brk.RecordFailure()

	calls := 0
	out := e.Do(context.Background(), brk, func(ctx context.Context) (string, error) {
		calls++
		return "SM789", nil
	}, "test send", Options{})

	if out.Success {
		t.Fatal("expected circuit-open failure")
	}
	if calls != 0 || out.Attempts != 0 {
		t.Errorf("no provider attempt should happen with an open breaker, calls = %d attempts = %d", calls, out.Attempts)
	}
	if !out.CircuitOpen {
		t.Error("outcome must carry the circuit-open flag")
	}
	if out.ErrorKind != models.ErrorKindServiceUnavailable || out.Retryable {
		t.Errorf("classification = (%v, %v), want (service_unavailable, false)", out.ErrorKind, out.Retryable)
	}
	if !errors.Is(out.Err, models.ErrCircuitOpen) {
		t.Errorf("error chain should include ErrCircuitOpen, got %v", out.Err)
	}
}

func TestDoSkipCircuitBreaker(t *testing.T) {
	var delays []time.Duration
	e := newTestExecutor(0, &delays)
	brk := breaker.New(models.ChannelWhatsApp, models.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	brk.RecordFailure()

	out := e.Do(context.Background(), brk, func(ctx context.Context) (string, error) {
		return "SM001", nil
	}, "test send", Options{SkipCircuitBreaker: true})

	if !out.Success {
		t.Errorf("skip option must bypass the open breaker, outcome = %+v", out)
	}
}

func TestDoContextCancelledDuringBackoff(t *testing.T) {
	cfg := models.DefaultRetryConfig()
	e := NewExecutor(cfg, WithSleep(func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}))
	brk := newTestBreaker()

	out := e.Do(context.Background(), brk, func(ctx context.Context) (string, error) {
		return "", retryableErr()
	}, "test send", Options{})

	if out.Success {
		t.Fatal("expected failure")
	}
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (cancelled before second attempt)", out.Attempts)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled, got %v", out.Err)
	}
}
