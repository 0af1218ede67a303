package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// ToMono down-mixes interleaved 16-bit little-endian stereo PCM to mono. Each
// output sample is floor((left+right)/2). A trailing incomplete stereo frame
// (fewer than 4 bytes) is dropped, so malformed input never panics; input
// shorter than one frame yields an empty slice.
func ToMono(stereo []byte) []byte {
	frames := len(stereo) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(stereo[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(stereo[i*4+2:])))
		// The mean of two int16 values always fits in int16; the arithmetic
		// shift rounds towards negative infinity.
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)>>1)))
	}
	return out
}

// Decimate reduces 16-bit mono PCM from srcRate towards dstRate by keeping
// every Nth sample, N = srcRate/dstRate (integer division). It returns the
// decimated samples and the resulting sample rate. When srcRate is not above
// dstRate the input is returned unchanged.
//
// This is a nearest-neighbour subsample without low-pass filtering.
func Decimate(mono []byte, srcRate, dstRate int) ([]byte, int) {
	if srcRate <= 0 || dstRate <= 0 {
		return mono, srcRate
	}
	step := srcRate / dstRate
	if step <= 1 {
		return mono[:len(mono)&^1], srcRate
	}
	samples := len(mono) / 2
	outSamples := (samples + step - 1) / step
	out := make([]byte, outSamples*2)
	for i := range outSamples {
		src := i * step * 2
		out[i*2] = mono[src]
		out[i*2+1] = mono[src+1]
	}
	return out, srcRate / step
}

// String formats f as e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// FormatConverter brings the frames of one stream to Target. Stereo input is
// down-mixed before resampling; other channel layouts keep their rate.
// The first mismatch and the first frame with an odd byte count are logged
// once. A FormatConverter belongs to a single stream goroutine.
type FormatConverter struct {
	Target Format

	mismatch sync.Once
	odd      sync.Once
}

// Convert returns frame in the target format. A frame already in that format
// is returned as is; a frame with an odd byte count comes back empty.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	out := AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}

	switch {
	case len(frame.Data)%2 != 0:
		c.odd.Do(func() {
			slog.Warn("audio: dropping frame with odd byte count", "bytes", len(frame.Data), "format", src)
		})
		return out
	case src == c.Target:
		return frame
	}
	c.mismatch.Do(func() {
		slog.Warn("audio: converting stream", "from", src, "to", c.Target)
	})

	out.Data, out.Channels, out.SampleRate = frame.Data, src.Channels, src.SampleRate
	if out.Channels == 2 && c.Target.Channels == 1 {
		out.Data, out.Channels = ToMono(out.Data), 1
	}
	if out.Channels == 1 && out.SampleRate != c.Target.SampleRate {
		out.Data, out.SampleRate = ResampleMono16(out.Data, out.SampleRate, c.Target.SampleRate), c.Target.SampleRate
	}
	return out
}

// ResampleMono16 converts 16-bit little-endian mono PCM from srcRate to
// dstRate by linear interpolation in integer arithmetic. Equal or invalid
// rates return pcm unchanged. The last input sample is held for positions past
// the end.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	outN := int(int64(n) * int64(dstRate) / int64(srcRate))
	if outN == 0 {
		return nil
	}
	sample := func(i int) int64 {
		return int64(int16(binary.LittleEndian.Uint16(pcm[min(i, n-1)*2:])))
	}

	out := make([]byte, outN*2)
	for i := range outN {
		// Position i*srcRate/dstRate as whole index plus remainder over dstRate.
		pos := int64(i) * int64(srcRate)
		idx, rem := int(pos/int64(dstRate)), pos%int64(dstRate)
		s0, s1 := sample(idx), sample(idx+1)
		v := s0 + (s1-s0)*rem/int64(dstRate)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
