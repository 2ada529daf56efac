package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modernmethod/ethos/pkg/ethos"
)

// FactStoreImpl is CRUD over the semantic_facts table plus the
// conflict-resolution operations the consolidation engine needs.
//
// Obtain one via [Store.Facts] rather than constructing directly.
// All methods are safe for concurrent use.
type FactStoreImpl struct {
	pool *pgxpool.Pool
}

// Insert implements [store.FactStore].
func (s *FactStoreImpl) Insert(ctx context.Context, f ethos.SemanticFact) (uuid.UUID, error) {
	const q = `
		INSERT INTO semantic_facts
		    (kind, statement, subject, predicate, object, confidence, salience,
		     source_episodes, source_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, q,
		string(f.Kind), f.Statement, f.Subject, f.Predicate, f.Object,
		f.Confidence, f.Salience, f.SourceEpisodes, f.SourceAgent,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("fact store: insert: %w", err)
	}
	return id, nil
}

// Get implements [store.FactStore].
func (s *FactStoreImpl) Get(ctx context.Context, id uuid.UUID) (ethos.SemanticFact, error) {
	q := factSelectColumns + `
		FROM   semantic_facts
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return ethos.SemanticFact{}, fmt.Errorf("fact store: get: %w", err)
	}
	facts, err := pgx.CollectRows(rows, scanFact)
	if err != nil {
		return ethos.SemanticFact{}, fmt.Errorf("fact store: scan row: %w", err)
	}
	if len(facts) == 0 {
		return ethos.SemanticFact{}, fmt.Errorf("fact store: get: row %s not found", id)
	}
	return facts[0], nil
}

// FindActive implements [store.FactStore].
func (s *FactStoreImpl) FindActive(ctx context.Context, subject, predicate string) (ethos.SemanticFact, bool, error) {
	q := factSelectColumns + `
		FROM   semantic_facts
		WHERE  subject = $1 AND predicate = $2 AND pruned = false AND superseded_by IS NULL`

	rows, err := s.pool.Query(ctx, q, subject, predicate)
	if err != nil {
		return ethos.SemanticFact{}, false, fmt.Errorf("fact store: find active: %w", err)
	}
	facts, err := pgx.CollectRows(rows, scanFact)
	if err != nil {
		return ethos.SemanticFact{}, false, fmt.Errorf("fact store: scan rows: %w", err)
	}
	if len(facts) == 0 {
		return ethos.SemanticFact{}, false, nil
	}
	return facts[0], true, nil
}

// Refine implements [store.FactStore].
func (s *FactStoreImpl) Refine(ctx context.Context, id uuid.UUID, object string, confidence float64, addSourceEpisode uuid.UUID) error {
	const q = `
		UPDATE semantic_facts
		SET    object          = $2,
		       confidence      = $3,
		       source_episodes = array_append(source_episodes, $4),
		       updated_at      = now()
		WHERE  id = $1`
	if _, err := s.pool.Exec(ctx, q, id, object, confidence, addSourceEpisode); err != nil {
		return fmt.Errorf("fact store: refine: %w", err)
	}
	return nil
}

// Supersede implements [store.FactStore].
func (s *FactStoreImpl) Supersede(ctx context.Context, oldID, newID uuid.UUID) error {
	const q = `UPDATE semantic_facts SET superseded_by = $2, updated_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, oldID, newID); err != nil {
		return fmt.Errorf("fact store: supersede: %w", err)
	}
	return nil
}

// Flag implements [store.FactStore].
func (s *FactStoreImpl) Flag(ctx context.Context, ids ...uuid.UUID) error {
	const q = `UPDATE semantic_facts SET flagged_for_review = true, updated_at = now() WHERE id = ANY($1)`
	if _, err := s.pool.Exec(ctx, q, ids); err != nil {
		return fmt.Errorf("fact store: flag: %w", err)
	}
	return nil
}

// BatchForDecay implements [store.FactStore].
func (s *FactStoreImpl) BatchForDecay(ctx context.Context, lastID uuid.UUID, batchSize int) ([]ethos.SemanticFact, error) {
	q := factSelectColumns + `
		FROM   semantic_facts
		WHERE  pruned = false AND superseded_by IS NULL AND id > $1
		ORDER  BY id
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, lastID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("fact store: batch for decay: %w", err)
	}
	facts, err := pgx.CollectRows(rows, scanFact)
	if err != nil {
		return nil, fmt.Errorf("fact store: scan rows: %w", err)
	}
	if facts == nil {
		facts = []ethos.SemanticFact{}
	}
	return facts, nil
}

// ApplyDecay implements [store.FactStore].
func (s *FactStoreImpl) ApplyDecay(ctx context.Context, id uuid.UUID, confidence, salience float64, pruned bool) error {
	const q = `UPDATE semantic_facts SET confidence = $2, salience = $3, pruned = $4 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, confidence, salience, pruned); err != nil {
		return fmt.Errorf("fact store: apply decay: %w", err)
	}
	return nil
}

// RecordRetrieval implements [store.FactStore].
func (s *FactStoreImpl) RecordRetrieval(ctx context.Context, id uuid.UUID) error {
	const q = `
		UPDATE semantic_facts
		SET    retrieval_count = retrieval_count + 1,
		       last_retrieved_at = now()
		WHERE  id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("fact store: record retrieval: %w", err)
	}
	return nil
}

const factSelectColumns = `
		SELECT id, kind, statement, subject, predicate, object, confidence, salience,
		       source_episodes, source_agent, created_at, updated_at, retrieval_count,
		       last_retrieved_at, superseded_by, flagged_for_review, pruned`

func scanFact(row pgx.CollectableRow) (ethos.SemanticFact, error) {
	var (
		f    ethos.SemanticFact
		kind string
	)
	if err := row.Scan(
		&f.ID, &kind, &f.Statement, &f.Subject, &f.Predicate, &f.Object, &f.Confidence, &f.Salience,
		&f.SourceEpisodes, &f.SourceAgent, &f.CreatedAt, &f.UpdatedAt, &f.RetrievalCount,
		&f.LastRetrievedAt, &f.SupersededBy, &f.FlaggedForReview, &f.Pruned,
	); err != nil {
		return ethos.SemanticFact{}, err
	}
	f.Kind = ethos.FactKind(kind)
	return f, nil
}
