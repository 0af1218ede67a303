// Package resilience provides circuit breaker and provider failover primitives
// for the transcription and correction backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] puts one breaker in front of each provider of a kind, so a
// failing STT or LLM backend is skipped until it recovers. [STTFallback] and
// [LLMFallback] wrap a group behind the provider interfaces the rest of the
// pipeline already consumes.
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

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets a few probe calls through. A failed probe re-opens
	// the breaker; HalfOpenMax successful probes close it.
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget of the half-open state. Default 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker.
	// Default [DefaultIsFailure].
	IsFailure func(error) bool

	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Default time.Now.
	Now func() time.Time
}

// DefaultIsFailure counts every error except context.Canceled, which means
// the caller gave up rather than the provider failing.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker guards calls to one provider.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // time of the failure that opened the breaker
	probes   int       // half-open calls started
	passed   int       // half-open calls that succeeded
}

// NewCircuitBreaker returns a closed breaker.
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
		cfg.IsFailure = DefaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// transition records a state change; the caller fires it after unlocking.
type transition struct{ from, to State }

func (cb *CircuitBreaker) moveTo(to State, out *[]transition) {
	if cb.state == to {
		return
	}
	*out = append(*out, transition{cb.state, to})
	cb.state = to
	cb.probes, cb.passed = 0, 0
	if to == StateClosed {
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) notify(ts []transition) {
	for _, t := range ts {
		slog.Info("resilience: circuit breaker state change",
			"name", cb.cfg.Name, "from", t.from.String(), "to", t.to.String())
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
		}
	}
}

// admit decides whether a call may run and reports whether it is a probe.
func (cb *CircuitBreaker) admit(ts *[]transition) (ok, probe bool) {
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.moveTo(StateHalfOpen, ts)
	}
	switch cb.state {
	case StateOpen:
		return false, false
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, false
		}
		cb.probes++
		return true, true
	default:
		return true, false
	}
}

// Execute runs fn unless the breaker rejects the call with [ErrCircuitOpen].
// Errors that IsFailure does not count, and declined attempts, leave the
// counters untouched and give a probe slot back.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	var ts []transition
	cb.mu.Lock()
	ok, probe := cb.admit(&ts)
	cb.mu.Unlock()
	cb.notify(ts)
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	ts = ts[:0]
	cb.mu.Lock()
	switch {
	case err == nil:
		cb.succeeded(probe, &ts)
	case errors.Is(err, errSkip) || !cb.cfg.IsFailure(err):
		if probe && cb.state == StateHalfOpen {
			cb.probes--
		}
	default:
		cb.failed(probe, &ts)
	}
	cb.mu.Unlock()
	cb.notify(ts)
	return err
}

func (cb *CircuitBreaker) failed(probe bool, ts *[]transition) {
	now := cb.cfg.Now()
	if probe && cb.state == StateHalfOpen {
		cb.moveTo(StateOpen, ts)
		cb.openedAt = now
		return
	}
	if cb.state != StateClosed {
		return
	}
	cb.failures++
	if cb.failures >= cb.cfg.MaxFailures {
		cb.moveTo(StateOpen, ts)
		cb.openedAt = now
	}
}

func (cb *CircuitBreaker) succeeded(probe bool, ts *[]transition) {
	if !probe {
		if cb.state == StateClosed {
			cb.failures = 0
		}
		return
	}
	if cb.state != StateHalfOpen {
		return
	}
	cb.passed++
	if cb.passed >= cb.cfg.HalfOpenMax {
		cb.moveTo(StateClosed, ts)
	}
}

// State reports the breaker's state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	var ts []transition
	cb.mu.Lock()
	cb.moveTo(StateClosed, &ts)
	cb.failures = 0
	cb.mu.Unlock()
	cb.notify(ts)
}
