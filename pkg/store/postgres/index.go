package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/voicescribe/pkg/store"
)

// IndexImpl is the semantic index backed by the transcript_chunks table with
// a pgvector HNSW index. Obtain one via [Store.Index].
type IndexImpl struct {
	pool *pgxpool.Pool
}

// IndexChunk implements [store.SemanticIndex].
func (x *IndexImpl) IndexChunk(ctx context.Context, c store.Chunk) error {
	const q = `
		INSERT INTO transcript_chunks
		    (id, transcript_id, session_id, speaker_id, content, embedding, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    transcript_id = EXCLUDED.transcript_id,
		    session_id    = EXCLUDED.session_id,
		    speaker_id    = EXCLUDED.speaker_id,
		    content       = EXCLUDED.content,
		    embedding     = EXCLUDED.embedding,
		    timestamp     = EXCLUDED.timestamp`

	var transcriptID *int64
	if c.TranscriptID != 0 {
		transcriptID = &c.TranscriptID
	}
	ts := c.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := x.pool.Exec(ctx, q,
		c.ID,
		transcriptID,
		c.SessionID,
		c.SpeakerID,
		c.Content,
		pgvector.NewVector(c.Embedding),
		ts,
	)
	if err != nil {
		return fmt.Errorf("semantic index: index chunk: %w", err)
	}
	return nil
}

// Search implements [store.SemanticIndex]. Results are ordered by ascending
// cosine distance.
func (x *IndexImpl) Search(ctx context.Context, embedding []float32, topK int, f store.ChunkFilter) ([]store.ChunkResult, error) {
	if topK <= 0 {
		return []store.ChunkResult{}, nil
	}
	w := newWhere()
	vecArg := w.arg(pgvector.NewVector(embedding))
	w.filters(store.SearchOpts{
		SessionID: f.SessionID,
		SpeakerID: f.SpeakerID,
		After:     f.After,
		Before:    f.Before,
	})

	q := fmt.Sprintf(`
		SELECT id, COALESCE(transcript_id, 0), session_id, speaker_id, content, embedding, timestamp,
		       embedding <=> %s AS distance
		FROM   transcript_chunks
		%s
		ORDER  BY distance
		LIMIT  %s`, vecArg, w.clause(), w.arg(topK))

	rows, err := x.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, fmt.Errorf("semantic index: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ChunkResult, error) {
		var (
			cr  store.ChunkResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&cr.Chunk.ID,
			&cr.Chunk.TranscriptID,
			&cr.Chunk.SessionID,
			&cr.Chunk.SpeakerID,
			&cr.Chunk.Content,
			&vec,
			&cr.Chunk.Timestamp,
			&cr.Distance,
		); err != nil {
			return store.ChunkResult{}, err
		}
		cr.Chunk.Embedding = vec.Slice()
		return cr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("semantic index: scan rows: %w", err)
	}
	if results == nil {
		results = []store.ChunkResult{}
	}
	return results, nil
}
