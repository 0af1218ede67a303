package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error once every member of a [FallbackGroup]
// has failed or been skipped.
var ErrAllFailed = errors.New("all providers failed")

// errSkip is returned by an attempt to pass the request on without charging
// the member's breaker.
var errSkip = errors.New("resilience: provider skipped")

// FallbackConfig is shared by every member of a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each member's breaker. Name is
	// replaced by the member name.
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt is called after every attempt with the member name and its
	// outcome: nil, the provider error, or [ErrCircuitOpen] for a skip.
	OnAttempt func(name string, err error)
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries interchangeable providers in a fixed order, each behind
// its own [CircuitBreaker]. Members are added before the group is shared.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFallbackGroup starts a group with primary as its first member.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends a member tried after all earlier ones.
func (g *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Primary returns the name of the first member.
func (g *FallbackGroup[T]) Primary() string { return g.members[0].name }

// Names lists members in the order they are tried.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, 0, len(g.members))
	for _, m := range g.members {
		names = append(names, m.name)
	}
	return names
}

// States reports each member's breaker state by name.
func (g *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Each calls fn for every member in order until fn returns false.
func (g *FallbackGroup[T]) Each(fn func(name string, value T) bool) {
	for _, m := range g.members {
		if !fn(m.name, m.value) {
			return
		}
	}
}

// Execute is [ExecuteWithResult] for calls without a result.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(g, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// ExecuteWithResult runs fn against the members in order and returns the
// first success.
//
// A member whose breaker is open is skipped. An error the breaker does not
// count as a failure, such as a cancelled context, ends the walk and is
// returned as is. Otherwise the result is [ErrAllFailed] wrapping the last
// error.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if g.cfg.OnAttempt != nil {
			g.cfg.OnAttempt(m.name, err)
		}

		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, errSkip):
			slog.Debug("resilience: provider passed", "provider", m.name)
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: provider circuit open", "provider", m.name)
		case !m.breaker.cfg.IsFailure(err):
			return zero, err
		default:
			next := "none"
			if i+1 < len(g.members) {
				next = g.members[i+1].name
			}
			slog.Warn("resilience: provider failed", "provider", m.name, "next", next, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
