package whisper_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/voicescribe/pkg/audio"
	"github.com/MrWong99/voicescribe/pkg/provider/stt"
	"github.com/MrWong99/voicescribe/pkg/provider/stt/whisper"
)

// openModel loads the model named by WHISPER_MODEL_PATH, skipping the test
// when the variable is unset.
func openModel(t *testing.T, opts ...whisper.NativeOption) *whisper.NativeProvider {
	t.Helper()
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set")
	}
	p, err := whisper.NewNative(path, opts...)
	if err != nil {
		t.Fatalf("NewNative(%q): %v", path, err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewNative_BadPath(t *testing.T) {
	t.Parallel()
	for _, path := range []string{"", "/nonexistent/ggml-base.en.bin"} {
		if _, err := whisper.NewNative(path); err == nil {
			t.Errorf("NewNative(%q) succeeded, want error", path)
		}
	}
}

func TestNativeTranscribe(t *testing.T) {
	p := openModel(t, whisper.WithNativeLanguage("en"))
	if p.Name() != "whisper-native" {
		t.Errorf("Name() = %q", p.Name())
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		wav     []byte
		wantErr error
		anyErr  bool
	}{
		// One second of 48 kHz silence goes through the resampler.
		{name: "silence at 48k", ctx: context.Background(), wav: audio.EncodeWAV(make([]byte, 48000*2), 48000, 1)},
		{name: "empty data", ctx: context.Background(), wav: audio.EncodeWAV(nil, 16000, 1)},
		{name: "cancelled", ctx: cancelled, wav: audio.EncodeWAV(make([]byte, 3200), 16000, 1), wantErr: context.Canceled},
		{name: "raw pcm", ctx: context.Background(), wav: make([]byte, 3200), wantErr: audio.ErrInvalidWAV},
		{name: "stereo", ctx: context.Background(), wav: audio.EncodeWAV(make([]byte, 6400), 16000, 2)},
		{name: "five channels", ctx: context.Background(), wav: audio.EncodeWAV(make([]byte, 10), 16000, 5), anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Transcribe(tt.ctx, tt.wav, stt.Hints{})
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("Transcribe() succeeded, want error")
				}
			case err != nil:
				t.Fatalf("Transcribe: %v", err)
			}
		})
	}
}
