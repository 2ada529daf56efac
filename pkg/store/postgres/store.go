package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store"
)

// Compile-time interface checks.
var (
	_ store.SessionStore = (*SessionStoreImpl)(nil)
	_ store.VectorStore  = (*VectorStoreImpl)(nil)
	_ store.GraphStore   = (*GraphStoreImpl)(nil)
	_ store.EpisodeStore = (*EpisodeStoreImpl)(nil)
	_ store.FactStore    = (*FactStoreImpl)(nil)
)

// pgxExecutor is the subset of pgx's query surface that both [pgxpool.Pool]
// and [pgx.Tx] satisfy. Each sub-store is implemented against this interface
// rather than a concrete pool, so the same Insert/WriteEvent methods can run
// standalone or inside a transaction.
type pgxExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the central PostgreSQL-backed memory store. It holds a single
// [pgxpool.Pool] and exposes each sub-store as an accessor, matching the
// layered structure of [store].
type Store struct {
	pool     *pgxpool.Pool
	sessions *SessionStoreImpl
	vectors  *VectorStoreImpl
	graph    *GraphStoreImpl
	episodes *EpisodeStoreImpl
	facts    *FactStoreImpl
}

// NewStore opens a connection pool to dsn, registers pgvector types on
// every connection, and runs [Migrate]. embeddingDimensions must match the
// active embedding backend's declared dimension.
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
		pool:     pool,
		sessions: &SessionStoreImpl{pool: pool},
		vectors:  &VectorStoreImpl{pool: pool},
		graph:    &GraphStoreImpl{pool: pool},
		episodes: &EpisodeStoreImpl{pool: pool},
		facts:    &FactStoreImpl{pool: pool},
	}, nil
}

// Sessions returns the session event store.
func (s *Store) Sessions() *SessionStoreImpl { return s.sessions }

// Vectors returns the memory vector store.
func (s *Store) Vectors() *VectorStoreImpl { return s.vectors }

// Graph returns the graph edge store.
func (s *Store) Graph() *GraphStoreImpl { return s.graph }

// Episodes returns the episodic trace store.
func (s *Store) Episodes() *EpisodeStoreImpl { return s.episodes }

// Facts returns the semantic fact store.
func (s *Store) Facts() *FactStoreImpl { return s.facts }

// Pool exposes the underlying pool for transactional ingest (session event +
// memory vector written atomically).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// IngestEpisode writes a session event, its episodic trace, and the
// trace's (initially unembedded) memory-vector projection in a single
// transaction — the one cross-row invariant ingest requires. The caller is
// expected to embed and link the new vector afterward, outside this
// transaction, since embedding is an external, potentially slow call.
func (s *Store) IngestEpisode(ctx context.Context, event ethos.SessionEvent, trace ethos.EpisodicTrace, vector ethos.MemoryVector) (eventID, episodeID, vectorID uuid.UUID, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fmt.Errorf("postgres store: ingest: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sessions := &SessionStoreImpl{pool: tx}
	episodes := &EpisodeStoreImpl{pool: tx}
	vectors := &VectorStoreImpl{pool: tx}

	eventID, err = sessions.WriteEvent(ctx, event)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fmt.Errorf("postgres store: ingest: %w", err)
	}

	episodeID, err = episodes.Insert(ctx, trace)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fmt.Errorf("postgres store: ingest: %w", err)
	}

	vector.SourceType = ethos.SourceEpisode
	vector.SourceID = episodeID
	vectorID, err = vectors.Insert(ctx, vector)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fmt.Errorf("postgres store: ingest: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fmt.Errorf("postgres store: ingest: commit: %w", err)
	}
	return eventID, episodeID, vectorID, nil
}
