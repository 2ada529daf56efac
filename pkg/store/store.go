// Package store defines the durable memory store: CRUD for session events,
// memory vectors, graph edges, semantic facts, and episodic traces, plus
// the vector-distance queries the retrieval engine depends on.
//
// The architecture is organised as a hierarchy mirroring the data model:
//
//   - Session store: append-only, time-ordered session event log.
//   - Vector store: embedding-indexed memory vectors, queryable by cosine
//     distance.
//   - Graph store: directed similarity edges between memory items, with
//     bounded subgraph loading for spreading activation.
//   - Episode store / Fact store: typed CRUD plus the consolidation-specific
//     queries (candidate selection, active-fact lookup, supersession).
//
// All interfaces are public so that alternative backends can be substituted
// in tests. The only production implementation lives in the postgres
// subpackage. Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/ethos"
)

// SessionStore is the append-only log of session events.
type SessionStore interface {
	// WriteEvent appends a new session event.
	WriteEvent(ctx context.Context, e ethos.SessionEvent) (uuid.UUID, error)

	// GetRecent returns the most recent n events for a session, newest last.
	GetRecent(ctx context.Context, sessionID string, n int) ([]ethos.SessionEvent, error)

	// HasRecentActivity reports whether any event for any session was
	// written within the last `within` duration. Used by the idle
	// predicate (pkg/consolidation).
	HasRecentActivity(ctx context.Context, within time.Duration) (bool, error)
}

// VectorFilter narrows a TopK vector search.
type VectorFilter struct {
	SourceTypes []ethos.SourceType
}

// VectorMatch pairs a memory vector with its cosine distance from a query.
type VectorMatch struct {
	Vector   ethos.MemoryVector
	Distance float64
}

// VectorStore is durable CRUD for memory vectors plus cosine-distance
// nearest-neighbor queries.
type VectorStore interface {
	// Insert creates a new memory vector row. Vector may be nil (NULL —
	// keyword-only until a later backfill).
	Insert(ctx context.Context, v ethos.MemoryVector) (uuid.UUID, error)

	// SetVector writes a (now non-NULL) embedding for an existing row.
	SetVector(ctx context.Context, id uuid.UUID, vec []float32, modelName string) error

	// Get fetches a single memory vector by id.
	Get(ctx context.Context, id uuid.UUID) (ethos.MemoryVector, error)

	// GetBySource fetches a single memory vector by its (sourceType,
	// sourceID) pair — the natural key the linker and ingest path address
	// memory items by, rather than the memory_vectors row id.
	GetBySource(ctx context.Context, sourceType ethos.SourceType, sourceID uuid.UUID) (ethos.MemoryVector, bool, error)

	// TopK returns the k nearest rows to query by cosine distance, skipping
	// rows with a NULL vector.
	TopK(ctx context.Context, query []float32, k int, filter VectorFilter) ([]VectorMatch, error)

	// NullVectorCount counts rows with vector IS NULL AND content IS NOT NULL.
	NullVectorCount(ctx context.Context) (int, error)

	// FetchNullVectorBatch fetches up to batchSize rows needing re-embedding,
	// ordered by source_type (episode, then fact, then other) and created_at
	// descending.
	FetchNullVectorBatch(ctx context.Context, batchSize int) ([]ethos.MemoryVector, error)

	// BatchForDecay returns up to batchSize non-pruned rows for the decay
	// sweep, paging via the lastID cursor (exclusive).
	BatchForDecay(ctx context.Context, lastID uuid.UUID, batchSize int) ([]ethos.MemoryVector, error)

	// ApplyDecay writes a recomputed importance and prune flag for a row.
	ApplyDecay(ctx context.Context, id uuid.UUID, importance float64, pruned bool) error

	// RecordRetrieval increments access_count and sets last_accessed_at; the
	// importance boost is applied by the decay engine.
	RecordRetrieval(ctx context.Context, id uuid.UUID) error
}

// GraphStore is CRUD for directed similarity edges between memory items.
type GraphStore interface {
	// Upsert creates an edge with the given weight, or overwrites it if
	// present. Used when the caller has already computed the final weight.
	Upsert(ctx context.Context, e ethos.GraphEdge) error

	// UpsertSimilarity creates an edge with initialWeight if absent, or
	// applies the Hebbian strengthening rule — weight = min(maxWeight,
	// weight + increment) — if present. This is what the linker uses so the
	// read-modify-write stays atomic in the database.
	UpsertSimilarity(ctx context.Context, e ethos.GraphEdge, increment, maxWeight float64) error

	// SubgraphFor loads up to limit edges touching any id in anchors,
	// ordered by weight descending.
	SubgraphFor(ctx context.Context, anchors []uuid.UUID, limit int) ([]ethos.GraphEdge, error)
}

// EpisodeStore is CRUD for episodic traces plus consolidation-specific
// queries.
type EpisodeStore interface {
	Insert(ctx context.Context, e ethos.EpisodicTrace) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (ethos.EpisodicTrace, error)

	// CandidatesForConsolidation returns unconsolidated, non-pruned episodes
	// exceeding importanceThreshold or retrievalThreshold, or matching a
	// lexicon trigger, ordered by importance descending, capped at limit.
	CandidatesForConsolidation(ctx context.Context, importanceThreshold float64, retrievalThreshold int, triggerPhrases []string, limit int) ([]ethos.EpisodicTrace, error)

	// MarkConsolidated sets consolidated_at = now() for the given ids, in
	// batches of batchSize.
	MarkConsolidated(ctx context.Context, ids []uuid.UUID, batchSize int) error

	// BatchForDecay returns up to batchSize non-pruned episodes for the
	// decay sweep, paging via the lastID cursor.
	BatchForDecay(ctx context.Context, lastID uuid.UUID, batchSize int) ([]ethos.EpisodicTrace, error)

	// ApplyDecay writes recomputed salience and prune flag.
	ApplyDecay(ctx context.Context, id uuid.UUID, salience float64, pruned bool) error

	// RecordRetrieval increments retrieval_count and sets last_retrieved_at;
	// the salience boost is applied by the decay engine.
	RecordRetrieval(ctx context.Context, id uuid.UUID) error
}

// FactStore is CRUD for semantic facts plus the conflict-resolution
// operations the consolidation engine needs.
type FactStore interface {
	Insert(ctx context.Context, f ethos.SemanticFact) (uuid.UUID, error)

	// Get fetches a single fact by id.
	Get(ctx context.Context, id uuid.UUID) (ethos.SemanticFact, error)

	// FindActive returns the active fact (pruned=false, superseded_by IS
	// NULL) with the given subject/predicate, if any.
	FindActive(ctx context.Context, subject, predicate string) (ethos.SemanticFact, bool, error)

	// Refine updates an existing fact's object/confidence/source_episodes
	// in place (the Refine conflict-resolution outcome).
	Refine(ctx context.Context, id uuid.UUID, object string, confidence float64, addSourceEpisode uuid.UUID) error

	// Supersede marks old as superseded by newID.
	Supersede(ctx context.Context, oldID, newID uuid.UUID) error

	// Flag sets flagged_for_review = true on both ids.
	Flag(ctx context.Context, ids ...uuid.UUID) error

	// BatchForDecay returns up to batchSize active (superseded_by IS NULL,
	// pruned=false) facts for the decay sweep, paging via lastID.
	BatchForDecay(ctx context.Context, lastID uuid.UUID, batchSize int) ([]ethos.SemanticFact, error)

	// ApplyDecay writes recomputed confidence/salience and prune flag.
	ApplyDecay(ctx context.Context, id uuid.UUID, confidence, salience float64, pruned bool) error

	// RecordRetrieval increments retrieval_count and sets last_retrieved_at;
	// the confidence/salience boost is applied by the decay engine.
	RecordRetrieval(ctx context.Context, id uuid.UUID) error
}
