package energy_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/voicescribe/pkg/provider/vad"
	"github.com/MrWong99/voicescribe/pkg/provider/vad/energy"
)

// 20 ms of 16 kHz mono.
const frameSamples = 320

// frame returns a constant-level frame; its RMS equals |level|.
func frame(level int16) []byte {
	b := make([]byte, frameSamples*2)
	for i := range frameSamples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(level))
	}
	return b
}

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	s, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func process(t *testing.T, s vad.SessionHandle, f []byte) vad.VADEventType {
	t.Helper()
	ev, err := s.ProcessFrame(f)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	return ev.Type
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"no sample rate", vad.Config{}},
		{"silence above speech", vad.Config{SampleRate: 16000, SpeechThreshold: 50, SilenceThreshold: 80}},
		{"negative max segment", vad.Config{SampleRate: 16000, MaxSegment: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := energy.New().NewSession(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSession_SilenceStaysSilent(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{})
	for range 10 {
		if got := process(t, s, frame(10)); got != vad.VADSilence {
			t.Fatalf("quiet frame = %s, want silence", got)
		}
	}
}

func TestSession_StartContinueEnd(t *testing.T) {
	t.Parallel()
	// 500 ms default min silence = 25 frames of 20 ms.
	s := newSession(t, vad.Config{})

	if got := process(t, s, frame(1000)); got != vad.VADSpeechStart {
		t.Fatalf("first loud frame = %s, want speech_start", got)
	}
	if got := process(t, s, frame(1000)); got != vad.VADSpeechContinue {
		t.Fatalf("second loud frame = %s, want speech_continue", got)
	}
	for i := range 24 {
		if got := process(t, s, frame(0)); got != vad.VADSpeechContinue {
			t.Fatalf("hangover frame %d = %s, want speech_continue", i, got)
		}
	}
	if got := process(t, s, frame(0)); got != vad.VADSpeechEnd {
		t.Fatalf("frame completing 500ms silence = %s, want speech_end", got)
	}
	if got := process(t, s, frame(0)); got != vad.VADSilence {
		t.Fatalf("frame after end = %s, want silence", got)
	}
}

func TestSession_SpeechResetsSilence(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{MinSilence: 100 * time.Millisecond})

	process(t, s, frame(1000))
	for range 4 {
		process(t, s, frame(0))
	}
	// 80 ms of silence, then speech again: the window restarts.
	process(t, s, frame(1000))
	for i := range 4 {
		if got := process(t, s, frame(0)); got != vad.VADSpeechContinue {
			t.Fatalf("silence frame %d = %s, want speech_continue", i, got)
		}
	}
	if got := process(t, s, frame(0)); got != vad.VADSpeechEnd {
		t.Fatalf("got %s, want speech_end", got)
	}
}

func TestSession_ThresholdIsExclusive(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{SpeechThreshold: 50})
	if got := process(t, s, frame(50)); got != vad.VADSilence {
		t.Errorf("frame at threshold = %s, want silence", got)
	}
	if got := process(t, s, frame(51)); got != vad.VADSpeechStart {
		t.Errorf("frame above threshold = %s, want speech_start", got)
	}
}

func TestSession_MaxSegmentRestarts(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{MaxSegment: 100 * time.Millisecond})

	want := []vad.VADEventType{
		vad.VADSpeechStart, vad.VADSpeechContinue, vad.VADSpeechContinue,
		vad.VADSpeechContinue, vad.VADSpeechContinue,
		vad.VADSpeechStart, vad.VADSpeechContinue,
	}
	for i, w := range want {
		if got := process(t, s, frame(2000)); got != w {
			t.Fatalf("frame %d = %s, want %s", i, got, w)
		}
	}
}

func TestSession_FrameSizeEnforced(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{FrameSizeMs: 20})
	if _, err := s.ProcessFrame(frame(0)); err != nil {
		t.Fatalf("20ms frame: %v", err)
	}
	if _, err := s.ProcessFrame(make([]byte, 100)); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestSession_ResetAndClose(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{})
	process(t, s, frame(1000))
	s.Reset()
	if got := process(t, s, frame(0)); got != vad.VADSilence {
		t.Errorf("after reset quiet frame = %s, want silence", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(frame(1000)); err == nil {
		t.Error("expected error after Close")
	}
}

func TestIsSpeech(t *testing.T) {
	t.Parallel()
	tests := []struct {
		typ  vad.VADEventType
		want bool
	}{
		{vad.VADSpeechStart, true},
		{vad.VADSpeechContinue, true},
		{vad.VADSpeechEnd, false},
		{vad.VADSilence, false},
	}
	for _, tt := range tests {
		if got := vad.IsSpeech(vad.VADEvent{Type: tt.typ}); got != tt.want {
			t.Errorf("IsSpeech(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}
