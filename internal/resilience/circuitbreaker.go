// Package resilience provides circuit breaker and provider failover primitives
// for embedding backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] composes several instances of a provider type, each behind
// its own breaker, and [EmbeddingsFallback] uses it to present a primary
// embeddings provider plus its fallbacks as a single [embeddings.Provider].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected immediately with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen is the trial state entered after the reset timeout. A limited
	// number of calls are allowed through; if they succeed the breaker closes,
	// otherwise it re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trial calls needed in the
	// half-open state before the breaker closes. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker.
	// Default: every error except context cancellation.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker's lock held and must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

// countsAsFailure treats a cancelled caller as neutral: the backend did not
// misbehave.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state at most
// HalfOpenMax trial calls are in flight.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err != nil && cb.isFailure(err):
		cb.recordFailure(trial)
	case err != nil:
		// Neutral error: release the trial slot without judging the backend.
		if trial {
			cb.halfOpenCalls--
		}
	default:
		cb.recordSuccess(trial)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a half-open trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.halfOpenCalls >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.halfOpenCalls++
		return true, nil
	}
	return false, nil
}

// recordFailure handles failure accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(trial bool) {
	cb.lastFailure = time.Now()

	if trial || cb.state == StateHalfOpen {
		// Any failure in half-open immediately re-opens.
		cb.consecutiveFail = cb.maxFailures
		cb.setState(StateOpen)
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures && cb.state == StateClosed {
		cb.setState(StateOpen)
	}
}

// recordSuccess handles success accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(trial bool) {
	if !trial {
		cb.consecutiveFail = 0
		return
	}
	if cb.state != StateHalfOpen {
		// A concurrent trial already decided the outcome.
		return
	}
	cb.halfOpenOK++
	if cb.halfOpenOK >= cb.halfOpenMax {
		cb.consecutiveFail = 0
		cb.setState(StateClosed)
	}
}

// setState transitions the breaker and resets the trial counters. Must be
// called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0

	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"from", from.String(),
			"consecutive_failures", cb.consecutiveFail)
	default:
		slog.Info("circuit breaker state changed",
			"name", cb.name,
			"from", from.String(),
			"to", to.String())
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Reset manually forces the breaker back to [StateClosed], clearing all failure
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFail = 0
	cb.setState(StateClosed)
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
}
