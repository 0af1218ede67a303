// Package health serves the liveness probe /healthz and the readiness probe
// /readyz.
//
// /readyz runs every [Checker] concurrently and answers JSON such as
//
//	{"status":"degraded","checks":{"stt":"ok","stt_breakers":"fail: circuit open: whisper"}}
//
// A failed required checker turns the status to "fail" and the response
// to 503. Failed optional checkers only degrade it.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicescribe/internal/resilience"
	"github.com/MrWong99/voicescribe/pkg/provider/stt"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "postgres",
	// "stt"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Optional checkers report failures without failing readiness. The
	// overall status becomes "degraded" instead.
	Optional bool
}

// Pinger is anything with a context-aware Ping, such as a database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a required checker that calls p.Ping.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// STT returns a required checker for a transcription gateway. Gateways that do
// not implement [stt.HealthChecker] always pass.
func STT(p stt.Provider) Checker {
	return Checker{
		Name: "stt",
		Check: func(ctx context.Context) error {
			if hc, ok := p.(stt.HealthChecker); ok {
				return hc.Healthy(ctx)
			}
			return nil
		},
	}
}

// ErrNotReady is the generic failure reported by [Flag] checkers.
var ErrNotReady = errors.New("not ready")

// Flag returns a checker that passes while ready reports true.
func Flag(name string, ready func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if ready() {
				return nil
			}
			return ErrNotReady
		},
	}
}

// BreakerSource reports circuit breaker states by provider name, as
// [resilience.FallbackGroup] does.
type BreakerSource interface {
	States() map[string]resilience.State
}

// Breakers returns an optional checker that fails while any breaker of src
// is open. The error names the open providers.
func Breakers(name string, src BreakerSource) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check: func(context.Context) error {
			var open []string
			for provider, st := range src.States() {
				if st == resilience.StateOpen {
					open = append(open, provider)
				}
			}
			if len(open) == 0 {
				return nil
			}
			slices.Sort(open)
			return errors.New("circuit open: " + strings.Join(open, ", "))
		},
	}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every required
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res, ok := h.check(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// check runs every checker and reports whether all required ones passed.
func (h *Handler) check(ctx context.Context) (result, bool) {
	var (
		mu       sync.Mutex
		checks   = make(map[string]string, len(h.checkers))
		failed   bool
		degraded bool
		g        errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			err := c.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				checks[c.Name] = "ok"
				return nil
			}
			checks[c.Name] = "fail: " + err.Error()
			if c.Optional {
				degraded = true
			} else {
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	switch {
	case failed:
		res.Status = "fail"
	case degraded:
		res.Status = "degraded"
	}
	return res, !failed
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
