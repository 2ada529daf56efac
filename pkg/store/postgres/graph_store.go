package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modernmethod/ethos/pkg/ethos"
)

// GraphStoreImpl is CRUD over the memory_graph_links table: directed,
// weighted similarity edges between memory items.
//
// Obtain one via [Store.Graph] rather than constructing directly.
// All methods are safe for concurrent use.
type GraphStoreImpl struct {
	pool *pgxpool.Pool
}

// Upsert implements [store.GraphStore]. The caller supplies the final
// weight (already clamped and incremented per the Hebbian rule); this just
// persists it.
func (s *GraphStoreImpl) Upsert(ctx context.Context, e ethos.GraphEdge) error {
	const q = `
		INSERT INTO memory_graph_links (from_type, from_id, to_type, to_id, relation, weight, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (from_type, from_id, to_type, to_id, relation) DO UPDATE SET
		    weight     = EXCLUDED.weight,
		    updated_at = now()`

	_, err := s.pool.Exec(ctx, q,
		string(e.FromType), e.FromID, string(e.ToType), e.ToID, e.Relation, e.Weight,
	)
	if err != nil {
		return fmt.Errorf("graph store: upsert: %w", err)
	}
	return nil
}

// UpsertSimilarity implements [store.GraphStore]. The weight increment is
// applied by the database itself so concurrent linker runs never lose an
// update to a race.
func (s *GraphStoreImpl) UpsertSimilarity(ctx context.Context, e ethos.GraphEdge, increment, maxWeight float64) error {
	const q = `
		INSERT INTO memory_graph_links (from_type, from_id, to_type, to_id, relation, weight, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (from_type, from_id, to_type, to_id, relation) DO UPDATE SET
		    weight     = LEAST($7, memory_graph_links.weight + $8),
		    updated_at = now()`

	_, err := s.pool.Exec(ctx, q,
		string(e.FromType), e.FromID, string(e.ToType), e.ToID, e.Relation, e.Weight, maxWeight, increment,
	)
	if err != nil {
		return fmt.Errorf("graph store: upsert similarity: %w", err)
	}
	return nil
}

// SubgraphFor implements [store.GraphStore]. It returns edges where either
// endpoint is in anchors, ordered by weight descending.
func (s *GraphStoreImpl) SubgraphFor(ctx context.Context, anchors []uuid.UUID, limit int) ([]ethos.GraphEdge, error) {
	const q = `
		SELECT from_type, from_id, to_type, to_id, relation, weight, updated_at
		FROM   memory_graph_links
		WHERE  from_id = ANY($1) OR to_id = ANY($1)
		ORDER  BY weight DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, anchors, limit)
	if err != nil {
		return nil, fmt.Errorf("graph store: subgraph for: %w", err)
	}

	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ethos.GraphEdge, error) {
		var (
			e         ethos.GraphEdge
			fromType  string
			toType    string
		)
		if err := row.Scan(&fromType, &e.FromID, &toType, &e.ToID, &e.Relation, &e.Weight, &e.UpdatedAt); err != nil {
			return ethos.GraphEdge{}, err
		}
		e.FromType = ethos.SourceType(fromType)
		e.ToType = ethos.SourceType(toType)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph store: scan rows: %w", err)
	}
	if edges == nil {
		edges = []ethos.GraphEdge{}
	}
	return edges, nil
}
