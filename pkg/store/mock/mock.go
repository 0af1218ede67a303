// Package mock provides in-memory implementations of the store interfaces for
// tests.
package mock

import (
	"context"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/voicescribe/pkg/store"
)

var (
	_ store.TranscriptLog = (*Log)(nil)
	_ store.SemanticIndex = (*Index)(nil)
)

// Log is an in-memory [store.TranscriptLog]. Search matches when every query
// word occurs in the text, case-insensitively.
type Log struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by Write and nothing is stored.
	WriteErr error

	// SearchErr, if non-nil, is returned by Recent and Search.
	SearchErr error

	entries []store.Transcript
	nextID  int64

	// SearchQueries records every query passed to Search.
	SearchQueries []string
}

// Write implements [store.TranscriptLog].
func (l *Log) Write(_ context.Context, t store.Transcript) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.WriteErr != nil {
		return 0, l.WriteErr
	}
	l.nextID++
	t.ID = l.nextID
	l.entries = append(l.entries, t)
	return t.ID, nil
}

// Recent implements [store.TranscriptLog].
func (l *Log) Recent(_ context.Context, opts store.SearchOpts) ([]store.Transcript, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SearchErr != nil {
		return nil, l.SearchErr
	}
	out := l.filter(opts, nil)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

// Search implements [store.TranscriptLog].
func (l *Log) Search(_ context.Context, query string, opts store.SearchOpts) ([]store.Transcript, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.SearchQueries = append(l.SearchQueries, query)
	if l.SearchErr != nil {
		return nil, l.SearchErr
	}
	words := strings.Fields(strings.ToLower(query))
	out := l.filter(opts, func(t store.Transcript) bool {
		text := strings.ToLower(t.Text)
		for _, w := range words {
			if !strings.Contains(text, w) {
				return false
			}
		}
		return len(words) > 0
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Entries returns a copy of everything written so far, in write order.
func (l *Log) Entries() []store.Transcript {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

func (l *Log) filter(opts store.SearchOpts, match func(store.Transcript) bool) []store.Transcript {
	out := []store.Transcript{}
	for _, t := range l.entries {
		switch {
		case opts.SessionID != "" && t.SessionID != opts.SessionID,
			opts.SpeakerID != "" && t.SpeakerID != opts.SpeakerID,
			!opts.After.IsZero() && !t.Timestamp.After(opts.After),
			!opts.Before.IsZero() && !t.Timestamp.Before(opts.Before),
			match != nil && !match(t):
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Index is an in-memory [store.SemanticIndex] using exact cosine distance.
type Index struct {
	mu sync.Mutex

	// IndexErr, if non-nil, is returned by IndexChunk.
	IndexErr error

	chunks map[string]store.Chunk
}

// IndexChunk implements [store.SemanticIndex].
func (x *Index) IndexChunk(_ context.Context, c store.Chunk) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.IndexErr != nil {
		return x.IndexErr
	}
	if x.chunks == nil {
		x.chunks = make(map[string]store.Chunk)
	}
	x.chunks[c.ID] = c
	return nil
}

// Search implements [store.SemanticIndex].
func (x *Index) Search(_ context.Context, embedding []float32, topK int, f store.ChunkFilter) ([]store.ChunkResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := []store.ChunkResult{}
	for _, c := range x.chunks {
		switch {
		case f.SessionID != "" && c.SessionID != f.SessionID,
			f.SpeakerID != "" && c.SpeakerID != f.SpeakerID,
			!f.After.IsZero() && !c.Timestamp.After(f.After),
			!f.Before.IsZero() && !c.Timestamp.Before(f.Before):
			continue
		}
		out = append(out, store.ChunkResult{Chunk: c, Distance: cosineDistance(embedding, c.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Chunks returns a copy of all indexed chunks.
func (x *Index) Chunks() []store.Chunk {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]store.Chunk, 0, len(x.chunks))
	for _, c := range x.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
