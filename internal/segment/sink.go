package segment

import (
	"context"
	"time"

	"github.com/MrWong99/voicescribe/pkg/provider/stt"
)

// Trigger names what finalised a segment.
type Trigger string

const (
	TriggerForce     Trigger = "force"
	TriggerThreshold Trigger = "threshold"
	TriggerTimeout   Trigger = "timeout"
	TriggerShutdown  Trigger = "shutdown"
	TriggerRemoved   Trigger = "removed"
)

// retainsOverlap reports whether a flush with this trigger keeps the overlap
// tail. Only size-driven flushes cut speech mid-utterance.
func (t Trigger) retainsOverlap() bool {
	return t == TriggerForce || t == TriggerThreshold
}

// Segment is one finalised utterance on its way to the gateway.
type Segment struct {
	SpeakerID string
	Audio     []byte // mono 16-bit PCM at Config.SampleRate
	Duration  time.Duration
	Trigger   Trigger
	At        time.Time
}

// Gateway transcribes a WAV container. [stt.Provider] implementations
// satisfy it.
type Gateway interface {
	Transcribe(ctx context.Context, wav []byte, hints stt.Hints) (stt.Result, error)
}

// Result is a delivered transcription.
type Result struct {
	SpeakerID string
	Text      string // trimmed, never empty
	Duration  time.Duration
	Trigger   Trigger
	At        time.Time // when the segment was flushed
	Language  string

	// RawText is the gateway output when a sink decorator rewrote Text.
	// The engine leaves it empty.
	RawText string
}

// Sink receives transcription results. Deliver runs on the transcription
// goroutine of the segment; the engine does not inspect the outcome.
type Sink interface {
	Deliver(ctx context.Context, r Result)
}

// SinkFunc adapts a plain function to [Sink].
type SinkFunc func(ctx context.Context, r Result)

// Deliver calls f(ctx, r).
func (f SinkFunc) Deliver(ctx context.Context, r Result) { f(ctx, r) }

// MultiSink delivers to every sink in order.
type MultiSink []Sink

// Deliver calls Deliver on each non-nil sink.
func (m MultiSink) Deliver(ctx context.Context, r Result) {
	for _, s := range m {
		if s != nil {
			s.Deliver(ctx, r)
		}
	}
}

var (
	_ Sink = SinkFunc(nil)
	_ Sink = MultiSink(nil)
)
