// Package observe provides application-wide observability primitives for
// voicescribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicescribe metrics.
const meterName = "github.com/MrWong99/voicescribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Segmentation ---

	// SegmentFlushes counts buffer flushes that produced a segment. Use with
	// attribute:
	//   attribute.String("trigger", ...)
	SegmentFlushes metric.Int64Counter

	// SegmentDiscarded counts flushes dropped for being shorter than the
	// minimum speech duration.
	SegmentDiscarded metric.Int64Counter

	// SegmentDuration tracks the audio length of flushed segments.
	SegmentDuration metric.Float64Histogram

	// PacketsDropped counts packets rejected because the engine task queue
	// was full.
	PacketsDropped metric.Int64Counter

	// --- Transcription ---

	// TranscriptionDuration tracks gateway latency. Use with attribute:
	//   attribute.String("provider", ...)
	TranscriptionDuration metric.Float64Histogram

	// TranscriptionErrors counts failed gateway calls. Use with attribute:
	//   attribute.String("provider", ...)
	TranscriptionErrors metric.Int64Counter

	// --- Correction and storage providers ---

	// LLMDuration tracks LLM correction latency.
	LLMDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSpeakers tracks the number of speaker sessions held by all engines.
	ActiveSpeakers metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// FeedSubscribers tracks connected live transcript feed clients.
	FeedSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration is labelled with method, route (the mux pattern)
	// and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips. Batch transcription of a long segment can take tens
// of seconds on CPU backends.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// segmentBuckets covers the audio length of a segment, from the minimum
// speech duration up to the maximum buffer.
var segmentBuckets = []float64{
	0.3, 0.5, 1, 2, 3, 5, 8, 10, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Segmentation.
	if met.SegmentFlushes, err = m.Int64Counter("voicescribe.segment.flushes",
		metric.WithDescription("Total segment flushes by trigger."),
	); err != nil {
		return nil, err
	}
	if met.SegmentDiscarded, err = m.Int64Counter("voicescribe.segment.discarded",
		metric.WithDescription("Total segments discarded as too short to transcribe."),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("voicescribe.segment.duration",
		metric.WithDescription("Audio length of flushed segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PacketsDropped, err = m.Int64Counter("voicescribe.packets.dropped",
		metric.WithDescription("Total audio packets dropped on a full engine queue."),
	); err != nil {
		return nil, err
	}

	// Transcription.
	if met.TranscriptionDuration, err = m.Float64Histogram("voicescribe.transcription.duration",
		metric.WithDescription("Latency of segment transcription by provider."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionErrors, err = m.Int64Counter("voicescribe.transcription.errors",
		metric.WithDescription("Total failed transcription calls by provider."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.LLMDuration, err = m.Float64Histogram("voicescribe.llm.duration",
		metric.WithDescription("Latency of LLM transcript correction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voicescribe.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voicescribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voicescribe.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSpeakers, err = m.Int64UpDownCounter("voicescribe.speakers.active",
		metric.WithDescription("Number of speaker sessions currently tracked."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicescribe.sessions.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.FeedSubscribers, err = m.Int64UpDownCounter("voicescribe.feed.subscribers",
		metric.WithDescription("Number of connected live transcript feed clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicescribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFlush records one flush with its trigger and the segment length.
func (m *Metrics) RecordFlush(ctx context.Context, trigger string, seconds float64) {
	m.SegmentFlushes.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	m.SegmentDuration.Record(ctx, seconds)
}

// RecordTranscription records gateway latency and, when failed is true, an
// error for provider.
func (m *Metrics) RecordTranscription(ctx context.Context, provider string, seconds float64, failed bool) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	m.TranscriptionDuration.Record(ctx, seconds, attrs)
	if failed {
		m.TranscriptionErrors.Add(ctx, 1, attrs)
	}
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts one circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, kind, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("state", state),
		),
	)
}
