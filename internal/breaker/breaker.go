// Package breaker implements a per-channel circuit breaker.
//
// The breaker is advisory protection against hammering a down provider: it
// gates whether an attempt is allowed at all, and never retries by itself.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/garagedesk/notify/internal/models"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed allows all attempts.
	StateClosed State = "closed"
	// StateOpen rejects attempts until the recovery timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen allows exactly one probe attempt.
	StateHalfOpen State = "half_open"
)

// Breaker tracks consecutive failures for one channel. It is safe for
// concurrent use; every state transition happens under the mutex.
type Breaker struct {
	channel models.Channel
	cfg     models.BreakerConfig
	now     func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a closed breaker for the given channel. A zero-valued config
// falls back to defaults.
func New(channel models.Channel, cfg models.BreakerConfig, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = models.DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = models.DefaultBreakerConfig().RecoveryTimeout
	}
	b := &Breaker{
		channel: channel,
		cfg:     cfg,
		now:     time.Now,
		state:   StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CanAttempt reports whether an attempt against the channel is allowed.
// When the breaker is open and the recovery timeout has elapsed it
// transitions to half-open and permits exactly one probe.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// The single half-open probe is already in flight.
		return false
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			slog.Info("circuit breaker half-open, allowing probe", "channel", b.channel)
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the failure counter and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		slog.Info("circuit breaker closing after success", "channel", b.channel, "previous_state", b.state)
	}
	b.state = StateClosed
	b.failures = 0
}

// RecordFailure increments the consecutive failure counter and opens the
// breaker once the threshold is reached. A failed half-open probe reopens
// immediately and restarts the recovery timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		slog.Warn("circuit breaker reopened after failed probe", "channel", b.channel, "failures", b.failures)
		return
	}
	if b.failures >= b.cfg.FailureThreshold {
		if b.state != StateOpen {
			slog.Warn("circuit breaker opened", "channel", b.channel, "failures", b.failures, "threshold", b.cfg.FailureThreshold)
		}
		b.state = StateOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the consecutive failure counter.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Channel returns the channel this breaker guards.
func (b *Breaker) Channel() models.Channel {
	return b.channel
}

// Reset is an administrative override back to closed with a zero counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	slog.Info("circuit breaker reset", "channel", b.channel)
}
