package whisper

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/voicescribe/pkg/audio"
)

func pcm16(vals ...int16) []byte {
	b := make([]byte, 0, len(vals)*2)
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint16(b, uint16(v))
	}
	return b
}

func TestSamples(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		wav     []byte
		want    []float32
		wantLen int
		wantErr bool
	}{
		{
			name: "mono full scale",
			wav:  audio.EncodeWAV(pcm16(0, 16384, -16384, 32767, -32768), nativeSampleRate, 1),
			want: []float32{0, 0.5, -0.5, 32767.0 / 32768, -1},
		},
		{
			name: "stereo averaged",
			wav:  audio.EncodeWAV(pcm16(1000, 3000, -200, -400), nativeSampleRate, 2),
			want: []float32{2000.0 / 32768, -300.0 / 32768},
		},
		{
			name: "trailing odd byte dropped",
			wav:  audio.EncodeWAV(append(pcm16(8192), 0x7f), nativeSampleRate, 1),
			want: []float32{0.25},
		},
		{
			name:    "48k resampled",
			wav:     audio.EncodeWAV(make([]byte, 4800*2), 48000, 1),
			wantLen: 1600,
		},
		{name: "empty data", wav: audio.EncodeWAV(nil, nativeSampleRate, 1), want: []float32{}},
		{name: "raw pcm", wav: pcm16(1, 2, 3), wantErr: true},
		{name: "three channels", wav: audio.EncodeWAV(make([]byte, 6), nativeSampleRate, 3), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := samples(tt.wav, nativeSampleRate)
			if tt.wantErr {
				if err == nil {
					t.Fatal("samples() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("samples: %v", err)
			}
			if tt.want == nil {
				if len(got) != tt.wantLen {
					t.Errorf("len = %d, want %d", len(got), tt.wantLen)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("samples = %v, want %v", got, tt.want)
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("sample[%d] = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}
