package segment

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voicescribe/pkg/audio"
)

// speaker is the buffered state of one speaker session.
type speaker struct {
	chunks     [][]byte
	size       int
	start      time.Time // first chunk since the last flush
	lastPacket time.Time
	locked     bool // a flush is in flight
	retained   int  // overlap bytes put back by the last flush
}

// buffer accumulates mono PCM chunks per speaker. Every method is atomic with
// respect to the others, so an append lands entirely before or after an
// extraction. Operations on unknown speakers are no-ops returning zero values.
type buffer struct {
	sampleRate int

	mu       sync.Mutex
	speakers map[string]*speaker
}

func newBuffer(sampleRate int) *buffer {
	return &buffer{sampleRate: sampleRate, speakers: make(map[string]*speaker)}
}

// append adds chunk to the speaker's buffer, creating the session on first
// use. It reports whether the session was created.
func (b *buffer) append(id string, chunk []byte, now time.Time) (created bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.speakers[id]
	if !ok {
		s = &speaker{}
		b.speakers[id] = s
		created = true
	}
	if s.size == 0 {
		s.start = now
	}
	s.chunks = append(s.chunks, chunk)
	s.size += len(chunk)
	s.retained = 0
	if now.After(s.lastPacket) {
		s.lastPacket = now
	}
	return created
}

// duration returns the buffered audio length of the speaker.
func (b *buffer) duration(id string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.speakers[id]
	if !ok {
		return 0
	}
	return audio.PCMDuration(s.size, b.sampleRate, 1)
}

// durationSeconds is duration as fractional seconds.
func (b *buffer) durationSeconds(id string) float64 {
	return b.duration(id).Seconds()
}

// extractAndClear returns all buffered chunks concatenated in arrival order
// and empties the buffer. A second call returns nil.
func (b *buffer) extractAndClear(id string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.speakers[id]
	if !ok || s.size == 0 {
		return nil
	}
	out := slices.Concat(s.chunks...)
	s.chunks = nil
	s.size = 0
	s.retained = 0
	s.start = time.Time{}
	return out
}

// retain puts tail back in front of anything buffered since the extraction.
func (b *buffer) retain(id string, tail []byte, now time.Time) {
	if len(tail) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.speakers[id]
	if !ok {
		return
	}
	s.chunks = append([][]byte{tail}, s.chunks...)
	s.size += len(tail)
	if len(s.chunks) == 1 {
		s.retained = len(tail)
	}
	if s.start.IsZero() {
		s.start = now
	}
}

// onlyRetained reports whether everything buffered is overlap from the last
// flush, with no audio received since.
func (b *buffer) onlyRetained(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.speakers[id]
	return ok && s.retained > 0 && s.size == s.retained
}

// anyLocked reports whether a flush is in flight for any speaker.
func (b *buffer) anyLocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.speakers {
		if s.locked {
			return true
		}
	}
	return false
}

func (b *buffer) isLocked(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.speakers[id]
	return ok && s.locked
}

func (b *buffer) setLocked(id string, locked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.speakers[id]; ok {
		s.locked = locked
	}
}

func (b *buffer) lastPacket(id string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.speakers[id]
	if !ok {
		return time.Time{}, false
	}
	return s.lastPacket, true
}

// speakerIDs returns the known speaker IDs in sorted order.
func (b *buffer) speakerIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.speakers))
	for id := range b.speakers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (b *buffer) remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.speakers[id]
	delete(b.speakers, id)
	return ok
}

// idle returns speakers with nothing buffered and no flush in flight whose
// last packet is older than cutoff.
func (b *buffer) idle(cutoff time.Time) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for id, s := range b.speakers {
		if s.size == 0 && !s.locked && s.lastPacket.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// snapshot returns the status of every speaker. Pending timers are filled in
// by the engine.
func (b *buffer) snapshot(now time.Time) []SpeakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SpeakerStatus, 0, len(b.speakers))
	for id, s := range b.speakers {
		out = append(out, SpeakerStatus{
			SpeakerID:      id,
			BufferDuration: audio.PCMDuration(s.size, b.sampleRate, 1),
			LastPacketAgo:  now.Sub(s.lastPacket),
			Chunks:         len(s.chunks),
			Processing:     s.locked,
		})
	}
	slices.SortFunc(out, func(a, b SpeakerStatus) int { return cmp.Compare(a.SpeakerID, b.SpeakerID) })
	return out
}

func (b *buffer) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.speakers)
}
