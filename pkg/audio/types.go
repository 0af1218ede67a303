package audio

import "time"

// Native capture format of voice platforms that decode Opus (Discord): 48 kHz,
// 16-bit little-endian, interleaved stereo.
const (
	NativeSampleRate = 48000
	NativeChannels   = 2

	// BytesPerSample is fixed for the 16-bit PCM used throughout the pipeline.
	BytesPerSample = 2
)

// AudioFrame represents a single frame of audio data received from a voice
// platform. Frames are the atomic unit of ingestion: they are decoded by the
// platform adapter, optionally gated by VAD, down-mixed, and handed to the
// segmentation engine.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame. Frames with an unknown
// format report zero.
func (f AudioFrame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}

// PCMDuration returns the playback length of n bytes of 16-bit PCM at the
// given rate and channel count.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := int64(sampleRate) * int64(channels) * BytesPerSample
	return time.Duration(int64(n) * int64(time.Second) / bytesPerSec)
}
