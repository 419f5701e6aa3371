package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/dimfocus/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the per-entry circuit breaker created for each
// provider in a [FallbackGroup]. The breaker's Name is replaced by the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// EntryStatus is a snapshot of one group entry's breaker.
type EntryStatus struct {
	Name  string `json:"name"`
	State State  `json:"state"`
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order.
//
// Entries must be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Primary returns the first entry's value.
func (fg *FallbackGroup[T]) Primary() T { return fg.entries[0].value }

// Len returns the number of entries including the primary.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Status reports the breaker state of every entry in try order.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = EntryStatus{Name: e.name, State: e.breaker.State()}
	}
	return out
}

// Execute tries fn against each entry in order until one succeeds.
// See [ExecuteWithResult] for the failover rules.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and error. Entries whose breaker is open are
// skipped. Once ctx is done no further entries are tried and the error is
// returned unwrapped. Otherwise, if every entry fails, the result wraps
// [ErrAllFailed] and the last entry's error.
//
// This is a package-level function because Go does not support method-level
// type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	log := observe.Logger(ctx)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			if i > 0 {
				log.Info("served by fallback provider", "provider", entry.name)
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			log.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			log.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
