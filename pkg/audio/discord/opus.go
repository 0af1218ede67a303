package discord

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Discord sends 48 kHz stereo Opus in 20 ms frames.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate / 50 // samples per channel in 20 ms
)

// ssrcDecoder holds the Opus state of one sender and the last RTP sequence
// number it decoded.
type ssrcDecoder struct {
	dec     *gopus.Decoder
	lastSeq uint16
	started bool
}

// decoderSet decodes the packets of every sender on a connection. Opus is
// stateful, so each SSRC keeps its own decoder. It is owned by the receive
// loop and not safe for concurrent use.
type decoderSet struct {
	bySSRC map[uint32]*ssrcDecoder
	// newDecoder is replaceable in tests.
	newDecoder func() (*gopus.Decoder, error)
}

func newDecoderSet() *decoderSet {
	return &decoderSet{
		bySSRC: make(map[uint32]*ssrcDecoder),
		newDecoder: func() (*gopus.Decoder, error) {
			return gopus.NewDecoder(opusSampleRate, opusChannels)
		},
	}
}

// decode returns the interleaved little-endian PCM of one packet. When
// exactly one packet was lost since the previous call for ssrc, the lost
// frame is rebuilt from the in-band FEC data of this packet and prepended.
func (s *decoderSet) decode(ssrc uint32, seq uint16, payload []byte) ([]byte, error) {
	d, ok := s.bySSRC[ssrc]
	if !ok {
		dec, err := s.newDecoder()
		if err != nil {
			return nil, fmt.Errorf("discord: opus decoder for ssrc %d: %w", ssrc, err)
		}
		d = &ssrcDecoder{dec: dec}
		s.bySSRC[ssrc] = d
	}

	var out []byte
	if d.started && seq-d.lastSeq == 2 {
		if lost, err := d.dec.Decode(payload, opusFrameSize, true); err == nil {
			out = appendPCM(out, lost)
		}
	}

	pcm, err := d.dec.Decode(payload, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode ssrc %d: %w", ssrc, err)
	}
	d.lastSeq, d.started = seq, true
	return appendPCM(out, pcm), nil
}

// forget drops the decoder of ssrc; a later packet starts a fresh one.
func (s *decoderSet) forget(ssrc uint32) { delete(s.bySSRC, ssrc) }

func appendPCM(dst []byte, pcm []int16) []byte {
	dst = append(make([]byte, 0, len(dst)+2*len(pcm)), dst...)
	for _, v := range pcm {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	return dst
}
