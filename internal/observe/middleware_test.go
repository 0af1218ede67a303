package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// testMux serves a health probe and a failing route behind the middleware.
func testMux(m *Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return Middleware(m)(mux)
}

func TestMiddleware_Routes(t *testing.T) {
	tests := []struct {
		path       string
		wantStatus int
		wantSpan   string
		wantRoute  string
		wantError  bool
		wantLog    string // "" means nothing at info level or above
	}{
		{path: "/healthz", wantStatus: 200, wantSpan: "GET /healthz", wantRoute: "GET /healthz"},
		{path: "/sessions/abc", wantStatus: 503, wantSpan: "GET /sessions/{id}", wantRoute: "GET /sessions/{id}", wantError: true, wantLog: "level=WARN"},
		{path: "/nope", wantStatus: 404, wantSpan: "HTTP GET", wantRoute: unmatchedRoute, wantLog: "level=INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			exp := installTracer(t)
			logs := captureLogs(t)
			m, _ := newTestMetrics(t)

			rec := httptest.NewRecorder()
			testMux(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			s := spans[0]
			if s.Name != tt.wantSpan {
				t.Errorf("span name = %q, want %q", s.Name, tt.wantSpan)
			}
			attrs := attrMap(s.Attributes)
			if got := attrs["http.response.status_code"].AsInt64(); got != int64(tt.wantStatus) {
				t.Errorf("span status code = %d", got)
			}
			if route, ok := attrs["http.route"]; ok != (tt.wantRoute != unmatchedRoute) || (ok && route.AsString() != tt.wantRoute) {
				t.Errorf("http.route = %v (present %v)", route.AsString(), ok)
			}
			if got := s.Status.Code == codes.Error; got != tt.wantError {
				t.Errorf("span error = %v, want %v", got, tt.wantError)
			}

			out := logs.String()
			if tt.wantLog == "" {
				if out != "" {
					t.Errorf("unexpected log output: %s", out)
				}
				return
			}
			if !strings.Contains(out, tt.wantLog) || !strings.Contains(out, tt.wantRoute) {
				t.Errorf("log = %q, want %s with route %s", out, tt.wantLog, tt.wantRoute)
			}
		})
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	installTracer(t)
	m, reader := newTestMetrics(t)
	h := testMux(m)

	for _, path := range []string{"/sessions/a", "/sessions/b", "/sessions/c"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	met := findMetric(collect(t, reader), "voicescribe.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data = %T, want histogram", met.Data)
	}
	// Three paths share one route, so one series.
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d series, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 3 {
		t.Errorf("count = %d, want 3", dp.Count)
	}
	want := map[attribute.Key]string{"method": "GET", "route": "GET /sessions/{id}", "status": "503"}
	for k, v := range want {
		got, ok := dp.Attributes.Value(k)
		if !ok || got.Emit() != v {
			t.Errorf("attribute %s = %q, want %q", k, got.Emit(), v)
		}
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	tests := []struct {
		name        string
		traceparent string
	}{
		{name: "new trace"},
		{name: "continued trace", traceparent: "00-" + traceID + "-00f067aa0ba902b7-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := Middleware(m)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if len(seen) != 32 {
				t.Fatalf("correlation ID = %q, want 32 hex chars", seen)
			}
			if tt.traceparent != "" && seen != traceID {
				t.Errorf("correlation ID = %q, want the incoming trace %q", seen, traceID)
			}
			if got := rec.Header().Get(HeaderCorrelationID); got != seen {
				t.Errorf("%s = %q, want %q", HeaderCorrelationID, got, seen)
			}
			if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, seen) {
				t.Errorf("traceparent = %q, want it to carry %s", tp, seen)
			}
		})
	}
}

func TestMiddleware_KeepsStreamingInterfaces(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)

	var flushed, hijackable bool
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
			flushed = true
		}
		_, hijackable = w.(http.Hijacker)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed", nil))

	if !flushed || !rec.Flushed {
		t.Error("Flush did not reach the underlying writer")
	}
	if !hijackable {
		t.Error("wrapped writer does not implement http.Hijacker")
	}
}
