// Package linker automatically creates associative edges between memory
// items right after ingest. For a newly embedded item it finds the top-K
// most similar existing vectors and, above a similarity threshold, upserts
// a bidirectional "similarity" edge with Hebbian strengthening.
package linker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store"
)

const (
	// SimilarityThreshold is the minimum cosine similarity required to
	// create or strengthen a link.
	SimilarityThreshold = 0.6

	// WeightIncrement is added to an edge's weight on repeated co-retrieval
	// or re-linking (Hebbian strengthening).
	WeightIncrement = 0.1

	// MaxWeight caps an edge's weight.
	MaxWeight = 1.0

	// TopKSimilar is the number of nearest neighbors considered per link pass.
	TopKSimilar = 3

	relationSimilarity = "similarity"
)

// Linker wires the vector store and graph store together to maintain the
// associative memory graph.
type Linker struct {
	vectors store.VectorStore
	graph   store.GraphStore
	log     *slog.Logger
}

// New constructs a Linker over the given stores.
func New(vectors store.VectorStore, graph store.GraphStore, log *slog.Logger) *Linker {
	if log == nil {
		log = slog.Default()
	}
	return &Linker{vectors: vectors, graph: graph, log: log}
}

// LinkMemory finds the top-K memories most similar to sourceType/sourceID's
// embedding and upserts bidirectional similarity edges for matches at or
// above [SimilarityThreshold]. It returns the number of neighbours linked;
// each gets an edge in both directions. A memory item with no embedding yet
// (vector IS NULL) is a no-op, not an error. The re-embed worker does not
// call the linker, so a row embedded later by backfill is not linked.
func (l *Linker) LinkMemory(ctx context.Context, sourceType ethos.SourceType, sourceID uuid.UUID) (int, error) {
	mv, found, err := l.vectors.GetBySource(ctx, sourceType, sourceID)
	if err != nil {
		return 0, fmt.Errorf("linker: get source vector: %w", err)
	}
	if !found || mv.Vector == nil {
		l.log.Debug("linker: no embedding yet, skipping", "source_type", sourceType, "source_id", sourceID)
		return 0, nil
	}

	matches, err := l.vectors.TopK(ctx, mv.Vector, TopKSimilar+1, store.VectorFilter{})
	if err != nil {
		return 0, fmt.Errorf("linker: top k: %w", err)
	}

	created := 0
	for _, m := range matches {
		if m.Vector.SourceID == sourceID && m.Vector.SourceType == sourceType {
			continue
		}
		similarity := 1 - m.Distance
		if similarity < SimilarityThreshold {
			continue
		}

		forward := ethos.GraphEdge{
			FromType: sourceType, FromID: sourceID,
			ToType: m.Vector.SourceType, ToID: m.Vector.SourceID,
			Relation: relationSimilarity, Weight: similarity,
		}
		if err := l.graph.UpsertSimilarity(ctx, forward, WeightIncrement, MaxWeight); err != nil {
			return created, fmt.Errorf("linker: upsert forward edge: %w", err)
		}

		reverse := ethos.GraphEdge{
			FromType: m.Vector.SourceType, FromID: m.Vector.SourceID,
			ToType: sourceType, ToID: sourceID,
			Relation: relationSimilarity, Weight: similarity,
		}
		if err := l.graph.UpsertSimilarity(ctx, reverse, WeightIncrement, MaxWeight); err != nil {
			return created, fmt.Errorf("linker: upsert reverse edge: %w", err)
		}

		created++
	}

	if created > 0 {
		l.log.Info("linker: created graph links", "source_type", sourceType, "source_id", sourceID, "links", created)
	}
	return created, nil
}
