package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [Group] fails or has an open
// breaker.
var ErrAllFailed = errors.New("all providers failed")

// entry pairs a provider value with its dedicated breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its breaker is open), the next
// healthy fallback is tried in registration order.
//
// Group is safe for concurrent use after registration is complete.
type Group[T any] struct {
	entries []entry[T]
	cbCfg   BreakerConfig
}

// NewGroup creates a [Group] with primary as the first entry. Additional
// fallbacks are registered via [Group.Add].
func NewGroup[T any](primaryName string, primary T, cbCfg BreakerConfig) *Group[T] {
	g := &Group[T]{cbCfg: cbCfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback provider. Fallbacks are tried in the order they are
// added, after the primary.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cbCfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Do tries fn against each entry in order until one succeeds. Open-breaker
// entries are skipped. Returns [ErrAllFailed] wrapped with the last error if
// every entry fails.
func (g *Group[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]
		err := e.breaker.Do(func() error {
			return fn(e.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping provider, breaker open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// DoWithResult tries fn against each entry in g until one succeeds, returning
// the result. This is a package-level function because Go does not support
// method-level type parameters.
func DoWithResult[T any, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(e.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping provider, breaker open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
