package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// ContainerSampleRate is the rate transcription backends are fed at.
	ContainerSampleRate = 16000

	// WAVHeaderSize is the size of the canonical PCM RIFF/WAVE header written
	// by [EncodeWAV].
	WAVHeaderSize = 44

	bitsPerSample = 16
)

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not a 16-bit PCM
// RIFF/WAVE container.
var ErrInvalidWAV = errors.New("audio: invalid wav container")

// WAVInfo describes the format of a decoded WAV container.
type WAVInfo struct {
	SampleRate int
	Channels   int
}

// ToContainer converts 16-bit mono PCM captured at srcRate into a WAV
// container at (approximately) [ContainerSampleRate]. The audio is decimated
// with [Decimate]; the header carries the resulting rate.
func ToContainer(mono []byte, srcRate int) []byte {
	pcm, rate := Decimate(mono, srcRate, ContainerSampleRate)
	return EncodeWAV(pcm, rate, 1)
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	buf := make([]byte, WAVHeaderSize+len(pcm))
	putWAVHeader(buf, len(pcm), sampleRate, channels)
	copy(buf[WAVHeaderSize:], pcm)
	return buf
}

// WAVHeader returns a 44-byte header for dataSize bytes of PCM. Streaming
// writers emit it with a zero size first and rewrite it once the final size
// is known (see [PatchWAVHeader]).
func WAVHeader(dataSize, sampleRate, channels int) []byte {
	buf := make([]byte, WAVHeaderSize)
	putWAVHeader(buf, dataSize, sampleRate, channels)
	return buf
}

// PatchWAVHeader rewrites the header at the start of w for dataSize bytes of
// PCM.
func PatchWAVHeader(w io.WriterAt, dataSize, sampleRate, channels int) error {
	if _, err := w.WriteAt(WAVHeader(dataSize, sampleRate, channels), 0); err != nil {
		return fmt.Errorf("audio: patch wav header: %w", err)
	}
	return nil
}

func putWAVHeader(buf []byte, dataSize, sampleRate, channels int) {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)      // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
}

// DecodeWAV parses a 16-bit PCM RIFF/WAVE container and returns its format and
// the raw sample bytes. Chunks other than "fmt " and "data" are skipped. A
// data chunk that claims more bytes than are present is truncated to what is
// available.
func DecodeWAV(data []byte) (WAVInfo, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		info    WAVInfo
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return WAVInfo{}, nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			if format := binary.LittleEndian.Uint16(data[body:]); format != 1 {
				return WAVInfo{}, nil, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidWAV, format)
			}
			if bits := binary.LittleEndian.Uint16(data[body+14:]); bits != bitsPerSample {
				return WAVInfo{}, nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, bits)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := min(body+size, len(data))
			return info, data[body:end], nil
		}
		// Chunks are word-aligned.
		pos = body + size + size%2
	}
	return WAVInfo{}, nil, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, in sample units (0–32 768). Returns 0 for buffers shorter than
// one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
