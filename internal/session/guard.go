package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/voicescribe/pkg/store"
)

// LogGuard wraps a [store.TranscriptLog] and makes all operations
// non-fatal. If the underlying log fails, operations return defaults
// and log warnings instead of propagating errors.
//
// Transcripts keep flowing to the chat and the live feed while the database
// is unavailable. IsDegraded reports whether the most recent operation
// failed.
//
// All methods are safe for concurrent use.
type LogGuard struct {
	log      store.TranscriptLog
	degraded atomic.Bool
}

var _ store.TranscriptLog = (*LogGuard)(nil)

// NewLogGuard creates a new [LogGuard] wrapping log.
func NewLogGuard(log store.TranscriptLog) *LogGuard {
	return &LogGuard{log: log}
}

// Write appends t to the underlying log. On failure the error is logged and
// swallowed, the returned ID is zero and the guard is marked as degraded.
func (g *LogGuard) Write(ctx context.Context, t store.Transcript) (int64, error) {
	id, err := g.log.Write(ctx, t)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("session: transcript write failed, dropping",
			"session_id", t.SessionID,
			"speaker_id", t.SpeakerID,
			"err", err,
		)
		return 0, nil
	}
	g.degraded.Store(false)
	return id, nil
}

// Recent returns an empty slice when the underlying log fails.
func (g *LogGuard) Recent(ctx context.Context, opts store.SearchOpts) ([]store.Transcript, error) {
	out, err := g.log.Recent(ctx, opts)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("session: recent transcripts failed, returning empty", "session_id", opts.SessionID, "err", err)
		return []store.Transcript{}, nil
	}
	g.degraded.Store(false)
	return out, nil
}

// Search returns an empty slice when the underlying log fails.
func (g *LogGuard) Search(ctx context.Context, query string, opts store.SearchOpts) ([]store.Transcript, error) {
	out, err := g.log.Search(ctx, query, opts)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("session: transcript search failed, returning empty", "query", query, "err", err)
		return []store.Transcript{}, nil
	}
	g.degraded.Store(false)
	return out, nil
}

// IsDegraded reports whether the most recent operation on the underlying log
// failed.
func (g *LogGuard) IsDegraded() bool {
	return g.degraded.Load()
}
