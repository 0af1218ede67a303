package discord

import (
	"bytes"
	"errors"
	"testing"

	"layeh.com/gopus"
)

const frameBytes = opusFrameSize * opusChannels * 2

func TestAppendPCM(t *testing.T) {
	t.Parallel()

	got := appendPCM([]byte{0xAA}, []int16{1, -1, 0x1234})
	want := []byte{0xAA, 0x01, 0x00, 0xFF, 0xFF, 0x34, 0x12}
	if !bytes.Equal(got, want) {
		t.Errorf("appendPCM = % x, want % x", got, want)
	}
}

func TestDecoderSet_DecodesPerSSRC(t *testing.T) {
	t.Parallel()

	s := newDecoderSet()
	for _, ssrc := range []uint32{11, 22, 11} {
		pcm, err := s.decode(ssrc, 1, silenceOpus)
		if err != nil {
			t.Fatalf("decode ssrc %d: %v", ssrc, err)
		}
		if len(pcm) != frameBytes {
			t.Errorf("ssrc %d: %d bytes, want %d", ssrc, len(pcm), frameBytes)
		}
	}
	if len(s.bySSRC) != 2 {
		t.Errorf("decoders = %d, want 2", len(s.bySSRC))
	}

	s.forget(11)
	if _, ok := s.bySSRC[11]; ok {
		t.Error("forget kept the decoder")
	}
}

func TestDecoderSet_SequenceGaps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		seqs []uint16
		want int // frames in the last decode
	}{
		{"in order", []uint16{7, 8}, 1},
		{"one lost", []uint16{7, 9}, 2},
		{"one lost across wrap", []uint16{65535, 1}, 2},
		{"burst lost", []uint16{7, 12}, 1},
		{"duplicate", []uint16{7, 7}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newDecoderSet()
			var pcm []byte
			for _, seq := range tt.seqs {
				var err error
				if pcm, err = s.decode(5, seq, silenceOpus); err != nil {
					t.Fatalf("decode seq %d: %v", seq, err)
				}
			}
			if got := len(pcm) / frameBytes; got != tt.want || len(pcm)%frameBytes != 0 {
				t.Errorf("last decode = %d bytes, want %d frames", len(pcm), tt.want)
			}
		})
	}
}

func TestDecoderSet_Errors(t *testing.T) {
	t.Parallel()

	errNoCodec := errors.New("no codec")
	s := newDecoderSet()
	s.newDecoder = func() (*gopus.Decoder, error) { return nil, errNoCodec }
	if _, err := s.decode(1, 1, silenceOpus); !errors.Is(err, errNoCodec) {
		t.Errorf("err = %v, want %v", err, errNoCodec)
	}
	if len(s.bySSRC) != 0 {
		t.Error("failed decoder was cached")
	}
}
