// Package postgres provides the PostgreSQL/pgvector-backed implementation
// of pkg/store: session events, memory vectors, graph edges, episodic
// traces, and semantic facts, all sharing a single connection pool.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	id, _ := st.Episodes().Insert(ctx, episode)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessionEvents = `
CREATE TABLE IF NOT EXISTS session_events (
    id         UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    session_id TEXT         NOT NULL,
    agent_id   TEXT         NOT NULL DEFAULT '',
    role       TEXT         NOT NULL,
    content    TEXT         NOT NULL,
    metadata   JSONB        NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_events_session_id
    ON session_events (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_session_events_created_at
    ON session_events (created_at);
`

const ddlEpisodicTraces = `
CREATE TABLE IF NOT EXISTS episodic_traces (
    id               UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    session_id       TEXT         NOT NULL,
    agent_id         TEXT         NOT NULL DEFAULT '',
    turn_index       INT          NOT NULL DEFAULT 0,
    role             TEXT         NOT NULL,
    content          TEXT         NOT NULL,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    importance       DOUBLE PRECISION NOT NULL DEFAULT 0,
    salience         DOUBLE PRECISION NOT NULL DEFAULT 1,
    emotional_tone   DOUBLE PRECISION NOT NULL DEFAULT 0,
    retrieval_count  INT          NOT NULL DEFAULT 0,
    last_retrieved_at TIMESTAMPTZ,
    consolidated_at  TIMESTAMPTZ,
    pruned           BOOLEAN      NOT NULL DEFAULT false,
    topics           TEXT[]       NOT NULL DEFAULT '{}',
    entities         TEXT[]       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_episodic_traces_consolidation
    ON episodic_traces (importance DESC)
    WHERE consolidated_at IS NULL AND pruned = false;

CREATE INDEX IF NOT EXISTS idx_episodic_traces_fts
    ON episodic_traces USING GIN (to_tsvector('english', content));
`

const ddlSemanticFacts = `
CREATE TABLE IF NOT EXISTS semantic_facts (
    id                 UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    kind               TEXT         NOT NULL,
    statement          TEXT         NOT NULL,
    subject            TEXT         NOT NULL,
    predicate          TEXT         NOT NULL,
    object             TEXT         NOT NULL,
    confidence         DOUBLE PRECISION NOT NULL,
    salience           DOUBLE PRECISION NOT NULL DEFAULT 1,
    source_episodes    UUID[]       NOT NULL DEFAULT '{}',
    source_agent       TEXT         NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    retrieval_count    INT          NOT NULL DEFAULT 0,
    last_retrieved_at  TIMESTAMPTZ,
    superseded_by      UUID,
    flagged_for_review BOOLEAN      NOT NULL DEFAULT false,
    pruned             BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_semantic_facts_active
    ON semantic_facts (subject, predicate)
    WHERE pruned = false AND superseded_by IS NULL;
`

// ddlMemoryVectors returns the memory_vectors DDL with the embedding
// dimension baked into the vector column type.
func ddlMemoryVectors(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_vectors (
    id               UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    source_type      TEXT         NOT NULL,
    source_id        UUID         NOT NULL,
    content          TEXT         NOT NULL,
    vector           vector(%d),
    model_name       TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_accessed_at TIMESTAMPTZ,
    access_count     INT          NOT NULL DEFAULT 0,
    importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    expires_at       TIMESTAMPTZ,
    pruned           BOOLEAN      NOT NULL DEFAULT false
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_vectors_source
    ON memory_vectors (source_type, source_id);

CREATE INDEX IF NOT EXISTS idx_memory_vectors_embedding
    ON memory_vectors USING hnsw (vector vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_memory_vectors_null
    ON memory_vectors (created_at)
    WHERE vector IS NULL AND content IS NOT NULL;
`, dimensions)
}

const ddlGraphLinks = `
CREATE TABLE IF NOT EXISTS memory_graph_links (
    from_type   TEXT         NOT NULL,
    from_id     UUID         NOT NULL,
    to_type     TEXT         NOT NULL,
    to_id       UUID         NOT NULL,
    relation    TEXT         NOT NULL,
    weight      DOUBLE PRECISION NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (from_type, from_id, to_type, to_id, relation)
);

CREATE INDEX IF NOT EXISTS idx_graph_links_from
    ON memory_graph_links (from_id, weight DESC);

CREATE INDEX IF NOT EXISTS idx_graph_links_to
    ON memory_graph_links (to_id, weight DESC);
`

// Migrate creates or ensures all required tables, indexes, and extensions
// exist. Idempotent; safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessionEvents,
		ddlEpisodicTraces,
		ddlSemanticFacts,
		ddlMemoryVectors(embeddingDimensions),
		ddlGraphLinks,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres store: migrate: %w", err)
		}
	}
	return nil
}
