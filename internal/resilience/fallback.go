package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error once every entry of a [FallbackGroup]
// failed or was skipped.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is shared by every entry of a group.
type FallbackConfig struct {
	// CircuitBreaker is copied per entry with Name set to the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Permanent reports errors caused by the request rather than the
	// provider. They are returned at once without trying the next entry and
	// do not count against the breaker.
	Permanent func(error) bool
}

// EntryStatus is a snapshot of one entry.
type EntryStatus struct {
	Name  string
	State State
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary provider and its fallbacks, each behind its
// own [CircuitBreaker], and calls them in registration order.
//
// Register every entry before sharing the group; calls are then safe for
// concurrent use.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []entry[T]
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends v, tried after every entry added before it.
func (g *FallbackGroup[T]) AddFallback(name string, v T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	b := NewCircuitBreaker(bc)
	b.permanent = g.cfg.Permanent
	g.entries = append(g.entries, entry[T]{name: name, value: v, breaker: b})
}

// Primary returns the first entry.
func (g *FallbackGroup[T]) Primary() T { return g.entries[0].value }

// Len returns the number of entries.
func (g *FallbackGroup[T]) Len() int { return len(g.entries) }

// Status returns every entry's breaker state in order.
func (g *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, EntryStatus{Name: e.name, State: e.breaker.State()})
	}
	return out
}

// Healthy reports whether some entry would accept a call right now.
func (g *FallbackGroup[T]) Healthy() bool {
	for _, e := range g.entries {
		if e.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Execute is [ExecuteWithResult] for calls without a result.
func (g *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, g, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult calls fn on each entry in turn until one succeeds. Open
// breakers are skipped. A permanent error, or ctx ending, stops the walk.
func ExecuteWithResult[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		last error
	)
	for i, e := range g.entries {
		var res R
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			res, err = fn(ctx, e.value)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Info("served by fallback provider", "provider", e.name, "position", i)
			}
			return res, nil
		case ctx.Err() != nil:
			return zero, ctx.Err()
		case e.breaker.isPermanent(err):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("provider skipped, circuit open", "provider", e.name)
		default:
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
		last = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, last)
}
