// Package postgres provides the PostgreSQL-backed transcript store.
//
// The transcript log and the semantic index share a single [pgxpool.Pool].
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	id, _ := st.Log().Write(ctx, transcript)
//	_ = st.Index().IndexChunk(ctx, chunk)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Transcript log
// ─────────────────────────────────────────────────────────────────────────────

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL DEFAULT '',
    speaker_id   TEXT         NOT NULL,
    speaker_name TEXT         NOT NULL DEFAULT '',
    text         TEXT         NOT NULL,
    raw_text     TEXT         NOT NULL DEFAULT '',
    language     TEXT         NOT NULL DEFAULT '',
    trigger      TEXT         NOT NULL DEFAULT '',
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns  BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transcripts_timestamp
    ON transcripts (timestamp);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_timestamp
    ON transcripts (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_transcripts_speaker
    ON transcripts (speaker_id);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('simple', text));
`

// ─────────────────────────────────────────────────────────────────────────────
// Semantic index
// ─────────────────────────────────────────────────────────────────────────────

// ddlChunks returns the chunk DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcript_chunks (
    id            TEXT         PRIMARY KEY,
    transcript_id BIGINT       REFERENCES transcripts (id) ON DELETE CASCADE,
    session_id    TEXT         NOT NULL DEFAULT '',
    speaker_id    TEXT         NOT NULL DEFAULT '',
    content       TEXT         NOT NULL,
    embedding     vector(%d),
    timestamp     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_chunks_session_id
    ON transcript_chunks (session_id);

CREATE INDEX IF NOT EXISTS idx_transcript_chunks_embedding
    ON transcript_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates all required tables, indexes and extensions. It is
// idempotent and safe to call on every start.
//
// embeddingDimensions must match the embeddings model (1536 for
// text-embedding-3-small, 768 for nomic-embed-text). Changing it after the
// first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{
		ddlTranscripts,
		ddlChunks(embeddingDimensions),
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
