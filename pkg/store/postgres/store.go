package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voicescribe/pkg/store"
)

// TranscriptLog and SemanticIndex both define Search with different
// signatures, so they are exposed as separate types via [Store.Log] and
// [Store.Index].
var (
	_ store.TranscriptLog = (*LogImpl)(nil)
	_ store.SemanticIndex = (*IndexImpl)(nil)
)

// Store owns the connection pool shared by the transcript log and the
// semantic index. All operations are safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	log   *LogImpl
	index *IndexImpl
}

// NewStore connects to dsn, registers pgvector types on every connection and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:  pool,
		log:   &LogImpl{pool: pool},
		index: &IndexImpl{pool: pool},
	}, nil
}

// Log returns the transcript log.
func (s *Store) Log() *LogImpl { return s.log }

// Index returns the semantic index.
func (s *Store) Index() *IndexImpl { return s.index }

// Ping checks database connectivity. The readiness endpoint calls it.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
