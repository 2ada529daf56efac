package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store"
)

// VectorStoreImpl is durable CRUD plus cosine-distance search over the
// memory_vectors table.
//
// Obtain one via [Store.Vectors] rather than constructing directly.
// All methods are safe for concurrent use.
type VectorStoreImpl struct {
	pool pgxExecutor
}

// Insert implements [store.VectorStore]. v.Vector may be nil.
func (s *VectorStoreImpl) Insert(ctx context.Context, v ethos.MemoryVector) (uuid.UUID, error) {
	const q = `
		INSERT INTO memory_vectors
		    (source_type, source_id, content, vector, model_name, importance, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var vec any
	if v.Vector != nil {
		vec = pgvector.NewVector(v.Vector)
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, q,
		string(v.SourceType), v.SourceID, v.Content, vec, v.ModelName, v.Importance, v.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("vector store: insert: %w", err)
	}
	return id, nil
}

// SetVector implements [store.VectorStore].
func (s *VectorStoreImpl) SetVector(ctx context.Context, id uuid.UUID, vec []float32, modelName string) error {
	const q = `UPDATE memory_vectors SET vector = $2, model_name = $3 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, pgvector.NewVector(vec), modelName)
	if err != nil {
		return fmt.Errorf("vector store: set vector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vector store: set vector: row %s not found", id)
	}
	return nil
}

// Get implements [store.VectorStore].
func (s *VectorStoreImpl) Get(ctx context.Context, id uuid.UUID) (ethos.MemoryVector, error) {
	const q = `
		SELECT id, source_type, source_id, content, vector, model_name, created_at,
		       last_accessed_at, access_count, importance, expires_at, pruned
		FROM   memory_vectors
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return ethos.MemoryVector{}, fmt.Errorf("vector store: get: %w", err)
	}
	vectors, err := pgx.CollectRows(rows, scanMemoryVector)
	if err != nil {
		return ethos.MemoryVector{}, fmt.Errorf("vector store: scan row: %w", err)
	}
	if len(vectors) == 0 {
		return ethos.MemoryVector{}, fmt.Errorf("vector store: get: row %s not found", id)
	}
	return vectors[0], nil
}

// GetBySource implements [store.VectorStore].
func (s *VectorStoreImpl) GetBySource(ctx context.Context, sourceType ethos.SourceType, sourceID uuid.UUID) (ethos.MemoryVector, bool, error) {
	const q = `
		SELECT id, source_type, source_id, content, vector, model_name, created_at,
		       last_accessed_at, access_count, importance, expires_at, pruned
		FROM   memory_vectors
		WHERE  source_type = $1 AND source_id = $2`

	rows, err := s.pool.Query(ctx, q, string(sourceType), sourceID)
	if err != nil {
		return ethos.MemoryVector{}, false, fmt.Errorf("vector store: get by source: %w", err)
	}
	vectors, err := pgx.CollectRows(rows, scanMemoryVector)
	if err != nil {
		return ethos.MemoryVector{}, false, fmt.Errorf("vector store: scan row: %w", err)
	}
	if len(vectors) == 0 {
		return ethos.MemoryVector{}, false, nil
	}
	return vectors[0], true, nil
}

// TopK implements [store.VectorStore]. Rows with a NULL vector are excluded.
func (s *VectorStoreImpl) TopK(ctx context.Context, query []float32, k int, filter store.VectorFilter) ([]store.VectorMatch, error) {
	queryVec := pgvector.NewVector(query)

	args := []any{queryVec}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"vector IS NOT NULL", "pruned = false"}
	if len(filter.SourceTypes) > 0 {
		types := make([]string, len(filter.SourceTypes))
		for i, t := range filter.SourceTypes {
			types[i] = string(t)
		}
		conditions = append(conditions, "source_type = ANY("+next(types)+"::text[])")
	}

	args = append(args, k)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, source_type, source_id, content, vector, model_name, created_at,
		       last_accessed_at, access_count, importance, expires_at, pruned,
		       vector <=> $1 AS distance
		FROM   memory_vectors
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, " AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector store: top k: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.VectorMatch, error) {
		var (
			v          ethos.MemoryVector
			sourceType string
			vec        *pgvector.Vector
			distance   float64
		)
		if err := row.Scan(
			&v.ID, &sourceType, &v.SourceID, &v.Content, &vec, &v.ModelName, &v.CreatedAt,
			&v.LastAccessedAt, &v.AccessCount, &v.Importance, &v.ExpiresAt, &v.Pruned,
			&distance,
		); err != nil {
			return store.VectorMatch{}, err
		}
		v.SourceType = ethos.SourceType(sourceType)
		if vec != nil {
			v.Vector = vec.Slice()
		}
		return store.VectorMatch{Vector: v, Distance: distance}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector store: scan rows: %w", err)
	}
	if matches == nil {
		matches = []store.VectorMatch{}
	}
	return matches, nil
}

// NullVectorCount implements [store.VectorStore].
func (s *VectorStoreImpl) NullVectorCount(ctx context.Context) (int, error) {
	const q = `SELECT count(*) FROM memory_vectors WHERE vector IS NULL AND content IS NOT NULL AND pruned = false`

	var n int
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("vector store: null vector count: %w", err)
	}
	return n, nil
}

// FetchNullVectorBatch implements [store.VectorStore]. Rows are ordered by
// source_type priority (episode, fact, other) then created_at descending,
// matching the re-embed worker's prioritisation.
func (s *VectorStoreImpl) FetchNullVectorBatch(ctx context.Context, batchSize int) ([]ethos.MemoryVector, error) {
	const q = `
		SELECT id, source_type, source_id, content, vector, model_name, created_at,
		       last_accessed_at, access_count, importance, expires_at, pruned
		FROM   memory_vectors
		WHERE  vector IS NULL AND content IS NOT NULL AND pruned = false
		ORDER  BY CASE source_type
		              WHEN 'episode' THEN 0
		              WHEN 'fact'    THEN 1
		              ELSE 2
		          END,
		          created_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, batchSize)
	if err != nil {
		return nil, fmt.Errorf("vector store: fetch null vector batch: %w", err)
	}
	vectors, err := pgx.CollectRows(rows, scanMemoryVector)
	if err != nil {
		return nil, fmt.Errorf("vector store: scan rows: %w", err)
	}
	if vectors == nil {
		vectors = []ethos.MemoryVector{}
	}
	return vectors, nil
}

// BatchForDecay implements [store.VectorStore].
func (s *VectorStoreImpl) BatchForDecay(ctx context.Context, lastID uuid.UUID, batchSize int) ([]ethos.MemoryVector, error) {
	const q = `
		SELECT id, source_type, source_id, content, vector, model_name, created_at,
		       last_accessed_at, access_count, importance, expires_at, pruned
		FROM   memory_vectors
		WHERE  pruned = false AND id > $1
		ORDER  BY id
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, lastID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("vector store: batch for decay: %w", err)
	}
	vectors, err := pgx.CollectRows(rows, scanMemoryVector)
	if err != nil {
		return nil, fmt.Errorf("vector store: scan rows: %w", err)
	}
	if vectors == nil {
		vectors = []ethos.MemoryVector{}
	}
	return vectors, nil
}

// ApplyDecay implements [store.VectorStore].
func (s *VectorStoreImpl) ApplyDecay(ctx context.Context, id uuid.UUID, importance float64, pruned bool) error {
	const q = `UPDATE memory_vectors SET importance = $2, pruned = $3 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, importance, pruned); err != nil {
		return fmt.Errorf("vector store: apply decay: %w", err)
	}
	return nil
}

// RecordRetrieval implements [store.VectorStore].
func (s *VectorStoreImpl) RecordRetrieval(ctx context.Context, id uuid.UUID) error {
	const q = `
		UPDATE memory_vectors
		SET    access_count = access_count + 1,
		       last_accessed_at = now()
		WHERE  id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("vector store: record retrieval: %w", err)
	}
	return nil
}

func scanMemoryVector(row pgx.CollectableRow) (ethos.MemoryVector, error) {
	var (
		v          ethos.MemoryVector
		sourceType string
		vec        *pgvector.Vector
	)
	if err := row.Scan(
		&v.ID, &sourceType, &v.SourceID, &v.Content, &vec, &v.ModelName, &v.CreatedAt,
		&v.LastAccessedAt, &v.AccessCount, &v.Importance, &v.ExpiresAt, &v.Pruned,
	); err != nil {
		return ethos.MemoryVector{}, err
	}
	v.SourceType = ethos.SourceType(sourceType)
	if vec != nil {
		v.Vector = vec.Slice()
	}
	return v, nil
}
