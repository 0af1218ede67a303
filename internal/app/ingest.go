package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voicescribe/internal/recorder"
	"github.com/MrWong99/voicescribe/internal/segment"
	"github.com/MrWong99/voicescribe/pkg/audio"
	"github.com/MrWong99/voicescribe/pkg/provider/vad"
)

// Ingestor is the part of the segmentation engine the voice session feeds.
// [segment.Engine] implements it.
type Ingestor interface {
	Submit(speakerID string, chunk []byte, at time.Time)
	RemoveSpeaker(speakerID string) error
	Status() segment.Status
}

var _ Ingestor = (*segment.Engine)(nil)

// forwarder moves one speaker's frames from the voice connection into the
// engine: down-mix and resample to the engine format, tee to the recorder,
// drop non-speech frames when a local VAD session is set, then Submit.
type forwarder struct {
	speakerID string
	engine    Ingestor
	recorder  *recorder.Recorder
	vad       vad.SessionHandle
	conv      audio.FormatConverter
	now       func() time.Time

	vadErrLogged bool
}

func newForwarder(speakerID string, engine Ingestor, sampleRate int) *forwarder {
	return &forwarder{
		speakerID: speakerID,
		engine:    engine,
		conv:      audio.FormatConverter{Target: audio.Format{SampleRate: sampleRate, Channels: 1}},
		now:       time.Now,
	}
}

// withVAD gates frames through a new session of eng. cfg must describe mono
// audio at the forwarder's target rate.
func (f *forwarder) withVAD(eng vad.Engine, cfg vad.Config) error {
	s, err := eng.NewSession(cfg)
	if err != nil {
		return fmt.Errorf("app: vad session for %s: %w", f.speakerID, err)
	}
	f.vad = s
	return nil
}

// run forwards frames until the stream closes or ctx is cancelled. It
// reports whether the stream was closed by the connection.
func (f *forwarder) run(ctx context.Context, frames <-chan audio.AudioFrame) (ended bool) {
	defer func() {
		if f.vad != nil {
			_ = f.vad.Close()
		}
		if r := recover(); r != nil {
			slog.Error("app: stream forwarder panicked", "speaker_id", f.speakerID, "panic", r)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return false
		case frame, ok := <-frames:
			if !ok {
				return true
			}
			f.handle(frame)
		}
	}
}

func (f *forwarder) handle(frame audio.AudioFrame) {
	frame = f.conv.Convert(frame)
	if len(frame.Data) == 0 {
		return
	}
	if f.recorder != nil {
		if err := f.recorder.Write(f.speakerID, frame.Data, frame.SampleRate, frame.Channels); err != nil {
			slog.Debug("app: recorder write failed", "speaker_id", f.speakerID, "err", err)
		}
	}
	if f.vad != nil {
		ev, err := f.vad.ProcessFrame(frame.Data)
		if err != nil {
			if !f.vadErrLogged {
				slog.Warn("app: vad failed, dropping frames", "speaker_id", f.speakerID, "err", err)
				f.vadErrLogged = true
			}
			return
		}
		if !vad.IsSpeech(ev) {
			return
		}
	}
	f.engine.Submit(f.speakerID, frame.Data, f.now())
}
