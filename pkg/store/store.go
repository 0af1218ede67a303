// Package store defines persistence for finished transcripts.
//
// Two layers share one backing database:
//
//   - [TranscriptLog] is the chronological record of every delivered
//     transcript with keyword (full-text) search.
//   - [SemanticIndex] holds embedded transcript chunks for similarity search.
//
// Implementations must be safe for concurrent use.
package store

import (
	"context"
	"time"
)

// Transcript is one delivered utterance.
type Transcript struct {
	// ID is assigned by the log on write. Zero before that.
	ID int64

	// SessionID groups transcripts of one voice connection.
	SessionID string

	SpeakerID   string
	SpeakerName string

	// Text is the delivered (possibly corrected) text.
	Text string

	// RawText is the gateway output before correction. Empty when no
	// correction changed the text.
	RawText string

	Language string
	Trigger  string

	// Timestamp is when the segment was flushed.
	Timestamp time.Time

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// SearchOpts filters log queries. Zero values mean "no filter".
type SearchOpts struct {
	SessionID string
	SpeakerID string
	After     time.Time
	Before    time.Time

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// TranscriptLog is the chronological transcript record.
type TranscriptLog interface {
	// Write appends t and returns its assigned ID.
	Write(ctx context.Context, t Transcript) (int64, error)

	// Recent returns the newest transcripts matching opts, oldest first.
	Recent(ctx context.Context, opts SearchOpts) ([]Transcript, error)

	// Search runs a keyword query over transcript text, oldest first.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Transcript, error)
}

// Chunk is an embedded slice of transcript text.
type Chunk struct {
	// ID is unique per chunk; re-indexing the same ID replaces it.
	ID string

	TranscriptID int64
	SessionID    string
	SpeakerID    string
	Content      string
	Embedding    []float32
	Timestamp    time.Time
}

// ChunkFilter narrows similarity search. Zero values mean "no filter".
type ChunkFilter struct {
	SessionID string
	SpeakerID string
	After     time.Time
	Before    time.Time
}

// ChunkResult pairs a chunk with its cosine distance to the query vector.
type ChunkResult struct {
	Chunk    Chunk
	Distance float64
}

// SemanticIndex stores and searches embedded chunks.
type SemanticIndex interface {
	// IndexChunk upserts chunk by ID.
	IndexChunk(ctx context.Context, chunk Chunk) error

	// Search returns the topK chunks closest to embedding, nearest first.
	Search(ctx context.Context, embedding []float32, topK int, filter ChunkFilter) ([]ChunkResult, error)
}
