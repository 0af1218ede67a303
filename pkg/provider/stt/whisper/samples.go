package whisper

import (
	"encoding/binary"
	"fmt"

	"github.com/MrWong99/voicescribe/pkg/audio"
)

// whisper.cpp only accepts 16 kHz mono float samples.
const nativeSampleRate = 16000

// samples unpacks a 16-bit PCM WAV container into mono float samples at
// rate, in [-1, 1).
func samples(wav []byte, rate int) ([]float32, error) {
	info, pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, err
	}
	switch info.Channels {
	case 1:
	case 2:
		pcm = audio.ToMono(pcm)
	default:
		return nil, fmt.Errorf("unsupported channel count %d", info.Channels)
	}
	if info.SampleRate != rate {
		pcm = audio.ResampleMono16(pcm, info.SampleRate, rate)
	}

	out := make([]float32, 0, len(pcm)/2)
	for b := pcm; len(b) >= 2; b = b[2:] {
		out = append(out, float32(int16(binary.LittleEndian.Uint16(b)))/32768)
	}
	return out, nil
}
