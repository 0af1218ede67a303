package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/voicescribe/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{1, -1, 1000, -1000})
	wav := audio.EncodeWAV(pcm, 16000, 1)
	if len(wav) != audio.WAVHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), audio.WAVHeaderSize+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}

	info, data, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Errorf("info = %+v, want 16000Hz mono", info)
	}
	if !bytes.Equal(data, pcm) {
		t.Errorf("data mismatch")
	}
}

func TestToContainer(t *testing.T) {
	t.Parallel()

	// 0.1 s of 48 kHz mono → 1600 samples at 16 kHz.
	mono := make([]byte, 4800*2)
	wav := audio.ToContainer(mono, 48000)

	info, data, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.SampleRate != audio.ContainerSampleRate || info.Channels != 1 {
		t.Errorf("info = %+v, want 16000Hz mono", info)
	}
	if len(data) != 1600*2 {
		t.Errorf("data len = %d, want %d", len(data), 3200)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{7, 8})
	wav := audio.EncodeWAV(pcm, 48000, 2)

	// Insert a LIST chunk with an odd length between fmt and data.
	var b bytes.Buffer
	b.Write(wav[:36])
	b.WriteString("LIST")
	_ = binary.Write(&b, binary.LittleEndian, uint32(3))
	b.Write([]byte{1, 2, 3, 0})
	b.Write(wav[36:])

	info, data, err := audio.DecodeWAV(b.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.Channels != 2 || info.SampleRate != 48000 {
		t.Errorf("info = %+v", info)
	}
	if !bytes.Equal(data, pcm) {
		t.Errorf("data mismatch")
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"empty":   nil,
		"garbage": []byte("not a wav file at all"),
		"no data": audio.EncodeWAV(nil, 16000, 1)[:36],
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := audio.DecodeWAV(in); !errors.Is(err, audio.ErrInvalidWAV) {
				t.Errorf("err = %v, want ErrInvalidWAV", err)
			}
		})
	}
}

func TestPatchWAVHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(audio.WAVHeader(0, 48000, 1)); err != nil {
		t.Fatal(err)
	}
	pcm := samplesToBytes([]int16{1, 2, 3})
	if _, err := f.Write(pcm); err != nil {
		t.Fatal(err)
	}
	if err := audio.PatchWAVHeader(f, len(pcm), 48000, 1); err != nil {
		t.Fatalf("PatchWAVHeader: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	_, data, err := audio.DecodeWAV(raw)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(data, pcm) {
		t.Errorf("data mismatch after patch")
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(samplesToBytes([]int16{100, -100, 100, -100})); got != 100 {
		t.Errorf("RMS = %v, want 100", got)
	}
}
