package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last failure once every engine of a [FallbackGroup]
// has failed or rejected the call.
var ErrAllFailed = errors.New("resilience: all engines failed")

// FallbackConfig is the breaker template for a [FallbackGroup]. Each member
// gets its own breaker named after the member.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered failover chain. A call goes to the first member
// whose breaker admits it; a failure moves it on to the next member.
//
// Calls may run concurrently. Members are added before the first call.
type FallbackGroup[T any] struct {
	members []member[T]
	tmpl    CircuitBreakerConfig
}

// NewFallbackGroup returns a chain whose first member is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{tmpl: cfg.CircuitBreaker}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends v to the end of the chain.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	cb := fg.tmpl
	cb.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(cb)})
}

// Execute runs fn on members in order until one succeeds. Cancellation of ctx
// stops the chain and returns the context error. The error of a fully failed
// chain wraps [ErrAllFailed] and the last member's error.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	var last error
	for _, m := range fg.members {
		err := m.breaker.Execute(ctx, func(ctx context.Context) error { return fn(ctx, m.value) })
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("engine skipped, circuit open", "engine", m.name)
		default:
			slog.Warn("engine failed, failing over", "engine", m.name, "err", err)
		}
		last = err
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, last)
}

// States maps member names to their breaker state.
func (fg *FallbackGroup[T]) States() map[string]State {
	states := make(map[string]State, len(fg.members))
	for _, m := range fg.members {
		states[m.name] = m.breaker.State()
	}
	return states
}

// Stats snapshots every breaker in chain order.
func (fg *FallbackGroup[T]) Stats() []Stats {
	stats := make([]Stats, len(fg.members))
	for i, m := range fg.members {
		stats[i] = m.breaker.Stats()
	}
	return stats
}

// Healthy reports whether some member's breaker is not open.
func (fg *FallbackGroup[T]) Healthy() bool {
	for _, m := range fg.members {
		if m.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Each visits the members in chain order.
func (fg *FallbackGroup[T]) Each(fn func(name string, v T)) {
	for _, m := range fg.members {
		fn(m.name, m.value)
	}
}
