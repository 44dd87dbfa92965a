package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// rejected by its breaker.
var ErrAllFailed = errors.New("all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group holds a primary backend and zero or more fallbacks of the same type,
// each behind its own [CircuitBreaker]. Members are tried in registration
// order. Add members before the group is shared.
type Group[T any] struct {
	members []member[T]
	cfg     CircuitBreakerConfig
	log     *slog.Logger
}

// NewGroup creates a Group whose first member is primary. cfg is the
// template for every member's breaker; Name is replaced by the member name.
func NewGroup[T any](primaryName string, primary T, cfg CircuitBreakerConfig) *Group[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &Group[T]{cfg: cfg, log: cfg.Logger}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// States reports every member's breaker state by name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Execute runs fn against each member until one succeeds. A cancelled ctx
// stops the walk and returns the context error.
func (g *Group[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := Do(ctx, g, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// Do is [Group.Execute] for calls that return a value.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.members {
		m := &g.members[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var result R
		err := m.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			g.log.Debug("skipping backend, circuit open", "backend", m.name)
			continue
		}
		g.log.Warn("backend failed, trying next", "backend", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
