package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/voicescribe/internal/resilience"
	"github.com/MrWong99/voicescribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/voicescribe/pkg/provider/stt/mock"
)

func pass(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failing(name, msg string, optional bool) Checker {
	return Checker{Name: name, Optional: optional, Check: func(context.Context) error { return errors.New(msg) }}
}

// serve runs one request against a mux with h registered and decodes the
// JSON answer.
func serve(t *testing.T, h *Handler, req *http.Request) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	// Liveness ignores every checker.
	h := New(failing("postgres", "connection refused", false))
	code, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if code != http.StatusOK || body.Status != "ok" || len(body.Checks) != 0 {
		t.Errorf("GET /healthz = %d %+v", code, body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{pass("stt"), pass("discord")},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"stt": "ok", "discord": "ok"},
		},
		{
			name:       "required failure",
			checkers:   []Checker{pass("stt"), failing("postgres", "connection refused", false)},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"stt": "ok", "postgres": "fail: connection refused"},
		},
		{
			name:       "optional failure degrades",
			checkers:   []Checker{pass("stt"), failing("transcript_log", "write failed", true)},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"stt": "ok", "transcript_log": "fail: write failed"},
		},
		{
			name: "required beats optional",
			checkers: []Checker{
				failing("discord", "not ready", false),
				failing("stt_breakers", "circuit open: whisper", true),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"discord": "fail: not ready", "stt_breakers": "fail: circuit open: whisper"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tt.checkers...), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("GET /readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("checks[%s] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Each checker waits for the other, so a sequential run never finishes
	// before the request deadline.
	a, b := make(chan struct{}), make(chan struct{})
	meet := func(mine, theirs chan struct{}) func(context.Context) error {
		return func(ctx context.Context) error {
			close(mine)
			select {
			case <-theirs:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	h := New(Checker{Name: "a", Check: meet(a, b)}, Checker{Name: "b", Check: meet(b, a)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if code != http.StatusOK {
		t.Errorf("GET /readyz = %d %+v", code, body)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "postgres", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if code != http.StatusServiceUnavailable || body.Checks["postgres"] != "fail: "+context.Canceled.Error() {
		t.Errorf("GET /readyz = %d %+v", code, body)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

// plainSTT implements only stt.Provider.
type plainSTT struct{}

func (plainSTT) Transcribe(context.Context, []byte, stt.Hints) (stt.Result, error) {
	return stt.Result{}, nil
}

type breakerStates map[string]resilience.State

func (b breakerStates) States() map[string]resilience.State { return b }

func TestCheckers(t *testing.T) {
	t.Parallel()

	connected := false
	tests := []struct {
		name         string
		checker      Checker
		wantName     string
		wantOptional bool
		wantErr      string
	}{
		{name: "ping ok", checker: Ping("postgres", fakePinger{}), wantName: "postgres"},
		{name: "ping refused", checker: Ping("postgres", fakePinger{err: errors.New("refused")}), wantName: "postgres", wantErr: "refused"},
		{name: "stt healthy", checker: STT(&sttmock.Provider{}), wantName: "stt"},
		{name: "stt down", checker: STT(&sttmock.Provider{HealthErr: errors.New("asr down")}), wantName: "stt", wantErr: "asr down"},
		{name: "stt without probe", checker: STT(plainSTT{}), wantName: "stt"},
		{name: "flag down", checker: Flag("discord", func() bool { return connected }), wantName: "discord", wantErr: ErrNotReady.Error()},
		{
			name:         "breakers closed",
			checker:      Breakers("stt_breakers", breakerStates{"whisper": resilience.StateClosed, "deepgram": resilience.StateHalfOpen}),
			wantName:     "stt_breakers",
			wantOptional: true,
		},
		{
			name: "breakers open",
			checker: Breakers("stt_breakers", breakerStates{
				"whisper":  resilience.StateOpen,
				"openai":   resilience.StateClosed,
				"deepgram": resilience.StateOpen,
			}),
			wantName:     "stt_breakers",
			wantOptional: true,
			wantErr:      "circuit open: deepgram, whisper",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.checker.Name != tt.wantName || tt.checker.Optional != tt.wantOptional {
				t.Errorf("checker = %q optional=%v, want %q optional=%v",
					tt.checker.Name, tt.checker.Optional, tt.wantName, tt.wantOptional)
			}
			err := tt.checker.Check(context.Background())
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("Check() = %v, want nil", err)
			case tt.wantErr != "" && (err == nil || err.Error() != tt.wantErr):
				t.Errorf("Check() = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestBreakers_FallbackGroup(t *testing.T) {
	t.Parallel()

	g := resilience.NewFallbackGroup[stt.Provider](plainSTT{}, "whisper", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	c := Breakers("stt_breakers", g)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("fresh group: %v", err)
	}
	_ = g.Execute(func(stt.Provider) error { return errors.New("boom") })
	if err := c.Check(context.Background()); err == nil || err.Error() != "circuit open: whisper" {
		t.Errorf("after failure: %v", err)
	}
}
