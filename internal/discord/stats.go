package discord

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stats collects recent transcription latencies and counters for the status
// command. Each stage keeps a bounded ring of samples from which
// percentiles are computed on demand.
//
// Safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	stt        latencyBuffer
	correction latencyBuffer

	transcripts int64
	failures    int64
}

// NewStats creates a Stats keeping windowSize samples per stage.
func NewStats(windowSize int) *Stats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Stats{
		stt:        newLatencyBuffer(windowSize),
		correction: newLatencyBuffer(windowSize),
	}
}

// RecordSTT records one gateway call. A failed call counts as a failure
// and contributes no latency sample.
func (s *Stats) RecordSTT(d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures++
		return
	}
	s.transcripts++
	s.stt.add(d)
}

// RecordCorrection records the time spent correcting one transcript.
func (s *Stats) RecordCorrection(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correction.add(d)
}

// LatencyPercentiles holds p50 and p95 of a stage.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// Snapshot is a point-in-time view of [Stats].
type Snapshot struct {
	STT         LatencyPercentiles
	Correction  LatencyPercentiles
	Transcripts int64
	Failures    int64
}

// Snapshot returns the current statistics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		STT:         s.stt.percentiles(),
		Correction:  s.correction.percentiles(),
		Transcripts: s.transcripts,
		Failures:    s.failures,
	}
}

type latencyBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{data: make([]time.Duration, size)}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos == len(lb.data) {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = len(lb.data)
	}
	if n == 0 {
		return LatencyPercentiles{}
	}
	sorted := slices.Clone(lb.data[:n])
	slices.Sort(sorted)
	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile picks the nearest-rank value at p (0.0-1.0) of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
