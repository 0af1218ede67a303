package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/MrWong99/voicescribe"

// Span names used across the pipeline.
const (
	SpanTranscribe = "segment.transcribe"
	SpanDeliver    = "segment.deliver"
)

// Attribute keys shared by spans and log lines.
const (
	AttrSpeaker  = attribute.Key("voicescribe.speaker_id")
	AttrTrigger  = attribute.Key("voicescribe.trigger")
	AttrDuration = attribute.Key("voicescribe.segment.duration_s")
	AttrProvider = attribute.Key("voicescribe.stt.provider")
)

// Tracer returns the voicescribe tracer from the global provider.
func Tracer() trace.Tracer { return otel.Tracer(scope) }

// SegmentSpan describes the segment a span covers.
type SegmentSpan struct {
	SpeakerID string
	Trigger   string
	Duration  time.Duration
	Provider  string
}

func (s SegmentSpan) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrSpeaker.String(s.SpeakerID),
		AttrDuration.Float64(s.Duration.Seconds()),
	}
	if s.Trigger != "" {
		attrs = append(attrs, AttrTrigger.String(s.Trigger))
	}
	if s.Provider != "" {
		attrs = append(attrs, AttrProvider.String(s.Provider))
	}
	return attrs
}

// StartSegment opens a span named name for seg. The returned logger carries
// the trace and speaker identifiers; the caller ends the span.
func StartSegment(ctx context.Context, name string, seg SegmentSpan) (context.Context, trace.Span, *slog.Logger) {
	ctx, span := Tracer().Start(ctx, name, trace.WithAttributes(seg.attributes()...))
	return ctx, span, Logger(ctx).With("speaker_id", seg.SpeakerID)
}

// Fail marks span as failed with err. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the hex trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, tagged with trace_id and span_id when
// ctx carries a recording span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
