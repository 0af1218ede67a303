// Package energy implements [vad.Engine] with a root-mean-square energy gate.
//
// A frame whose RMS level exceeds the speech threshold starts or continues a
// speech segment. Once speech has started, quieter frames are still reported
// as speech until MinSilence of continuous silence has accumulated; then the
// session emits [vad.VADSpeechEnd]. A segment that reaches MaxSegment while
// speech continues is restarted: the frame that crosses the bound is reported
// as [vad.VADSpeechStart] of a new segment, so no speech frame is withheld.
//
// Durations are measured in audio time (bytes processed), never wall-clock
// time, so results are deterministic for a given input.
package energy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voicescribe/pkg/audio"
	"github.com/MrWong99/voicescribe/pkg/provider/vad"
)

// Defaults for a 16-bit PCM voice stream.
const (
	DefaultThreshold  = 50.0
	DefaultMinSilence = 500 * time.Millisecond
	DefaultMaxSegment = 30 * time.Second
)

// errClosed is returned by ProcessFrame after Close.
var errClosed = errors.New("energy vad: session closed")

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates energy-gated VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg, fills defaults, and returns a new Session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = DefaultThreshold
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = cfg.SpeechThreshold
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %.1f exceeds speech threshold %.1f",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.MinSilence <= 0 {
		cfg.MinSilence = DefaultMinSilence
	}
	if cfg.MaxSegment < 0 {
		return nil, fmt.Errorf("energy vad: negative max segment %s", cfg.MaxSegment)
	}
	return &Session{cfg: cfg}, nil
}

// Session is a single stream's detection state. It is safe for concurrent
// use, although frames of one stream should arrive in order.
type Session struct {
	cfg vad.Config

	mu       sync.Mutex
	inSpeech bool
	silence  time.Duration // continuous silence since the last loud frame
	segment  time.Duration // length of the current segment
	closed   bool
}

// ProcessFrame classifies frame and advances the session state.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	d := audio.PCMDuration(len(frame), s.cfg.SampleRate, s.cfg.Channels)
	if s.cfg.FrameSizeMs > 0 && d != time.Duration(s.cfg.FrameSizeMs)*time.Millisecond {
		return vad.VADEvent{}, fmt.Errorf("energy vad: frame is %s, want %dms", d, s.cfg.FrameSizeMs)
	}
	rms := audio.RMS(frame)
	ev := vad.VADEvent{Probability: min(rms/32768, 1)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errClosed
	}

	threshold := s.cfg.SpeechThreshold
	if s.inSpeech {
		threshold = s.cfg.SilenceThreshold
	}
	loud := rms > threshold

	switch {
	case loud && !s.inSpeech:
		s.inSpeech = true
		s.silence = 0
		s.segment = d
		ev.Type = vad.VADSpeechStart
	case !s.inSpeech:
		ev.Type = vad.VADSilence
		return ev, nil
	case loud:
		s.silence = 0
		s.segment += d
		ev.Type = vad.VADSpeechContinue
		if s.cfg.MaxSegment > 0 && s.segment > s.cfg.MaxSegment {
			s.segment = d
			ev.Type = vad.VADSpeechStart
		}
	default:
		s.silence += d
		s.segment += d
		if s.silence >= s.cfg.MinSilence {
			s.reset()
			ev.Type = vad.VADSpeechEnd
			return ev, nil
		}
		ev.Type = vad.VADSpeechContinue
	}
	return ev, nil
}

// Reset clears the detection state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) reset() {
	s.inSpeech = false
	s.silence = 0
	s.segment = 0
}

// Close marks the session closed. Subsequent calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
