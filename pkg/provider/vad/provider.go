// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (an RMS energy gate, WebRTC
// VAD, Silero) and surfaces it as a stateful, per-stream session. Each session
// keeps its own state so that concurrent speakers are processed independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection result,
// which makes it suitable for gating frames before they reach the segmentation
// engine.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "time"

// Config holds the parameters for a VAD session. Thresholds are expressed in
// the engine's native scale; see each Engine's documentation for recommended
// starting values.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. Common values: 16000, 48000.
	SampleRate int

	// Channels is the number of interleaved channels in each frame. Zero means
	// mono.
	Channels int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Engines
	// that operate on fixed frame sizes reject frames of any other size. Zero
	// accepts frames of any length.
	FrameSizeMs int

	// SpeechThreshold is the level above which a frame is classified as
	// speech.
	SpeechThreshold float64

	// SilenceThreshold is the level below which a frame is classified as
	// silence once speech has started. Must be ≤ SpeechThreshold. Zero means
	// "same as SpeechThreshold".
	SilenceThreshold float64

	// MinSilence is how much continuous silence ends a speech segment. Frames
	// inside this hangover are still reported as speech.
	MinSilence time.Duration

	// MaxSegment bounds a single speech segment. When reached, the session
	// emits VADSpeechEnd even while speech continues. Zero disables the bound.
	MaxSegment time.Duration
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Reset clears detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw little-endian PCM in the format configured
	// when the session was created. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state. Use this when the audio
	// stream is interrupted so stale state does not leak into the next segment.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns an error. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}

// IsSpeech reports whether a frame classified as ev carries speech audio that
// should be forwarded downstream. The frame that ends a segment is silence.
func IsSpeech(ev VADEvent) bool {
	return ev.Type == VADSpeechStart || ev.Type == VADSpeechContinue
}
