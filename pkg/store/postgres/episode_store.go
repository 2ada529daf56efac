package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/modernmethod/ethos/pkg/ethos"
)

// EpisodeStoreImpl is CRUD over the episodic_traces table plus the queries
// the consolidation and decay subsystems need.
//
// Obtain one via [Store.Episodes] rather than constructing directly.
// All methods are safe for concurrent use.
type EpisodeStoreImpl struct {
	pool pgxExecutor
}

// Insert implements [store.EpisodeStore].
func (s *EpisodeStoreImpl) Insert(ctx context.Context, e ethos.EpisodicTrace) (uuid.UUID, error) {
	const q = `
		INSERT INTO episodic_traces
		    (session_id, agent_id, turn_index, role, content, importance, salience,
		     emotional_tone, topics, entities)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, q,
		e.SessionID, e.AgentID, e.TurnIndex, string(e.Role), e.Content,
		e.Importance, e.Salience, e.EmotionalTone, e.Topics, e.Entities,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("episode store: insert: %w", err)
	}
	return id, nil
}

// Get implements [store.EpisodeStore].
func (s *EpisodeStoreImpl) Get(ctx context.Context, id uuid.UUID) (ethos.EpisodicTrace, error) {
	const q = episodeSelectColumns + `
		FROM   episodic_traces
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return ethos.EpisodicTrace{}, fmt.Errorf("episode store: get: %w", err)
	}
	episodes, err := pgx.CollectRows(rows, scanEpisode)
	if err != nil {
		return ethos.EpisodicTrace{}, fmt.Errorf("episode store: scan row: %w", err)
	}
	if len(episodes) == 0 {
		return ethos.EpisodicTrace{}, fmt.Errorf("episode store: get: row %s not found", id)
	}
	return episodes[0], nil
}

// CandidatesForConsolidation implements [store.EpisodeStore].
func (s *EpisodeStoreImpl) CandidatesForConsolidation(ctx context.Context, importanceThreshold float64, retrievalThreshold int, triggerPhrases []string, limit int) ([]ethos.EpisodicTrace, error) {
	conditions := []string{
		"consolidated_at IS NULL",
		"pruned = false",
		"(importance >= $1 OR retrieval_count >= $2",
	}
	args := []any{importanceThreshold, retrievalThreshold}

	if len(triggerPhrases) > 0 {
		var ors []string
		for _, phrase := range triggerPhrases {
			args = append(args, "%"+phrase+"%")
			ors = append(ors, fmt.Sprintf("content ILIKE $%d", len(args)))
		}
		conditions[len(conditions)-1] += " OR " + strings.Join(ors, " OR ")
	}
	conditions[len(conditions)-1] += ")"

	args = append(args, limit)
	q := episodeSelectColumns + `
		FROM   episodic_traces
		WHERE  ` + strings.Join(conditions, "\n  AND  ") + fmt.Sprintf(`
		ORDER  BY importance DESC
		LIMIT  $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("episode store: candidates for consolidation: %w", err)
	}
	episodes, err := pgx.CollectRows(rows, scanEpisode)
	if err != nil {
		return nil, fmt.Errorf("episode store: scan rows: %w", err)
	}
	if episodes == nil {
		episodes = []ethos.EpisodicTrace{}
	}
	return episodes, nil
}

// MarkConsolidated implements [store.EpisodeStore], batching ids in groups
// of batchSize to bound statement size.
func (s *EpisodeStoreImpl) MarkConsolidated(ctx context.Context, ids []uuid.UUID, batchSize int) error {
	const q = `UPDATE episodic_traces SET consolidated_at = now() WHERE id = ANY($1)`
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		if _, err := s.pool.Exec(ctx, q, ids[start:end]); err != nil {
			return fmt.Errorf("episode store: mark consolidated: %w", err)
		}
	}
	return nil
}

// BatchForDecay implements [store.EpisodeStore].
func (s *EpisodeStoreImpl) BatchForDecay(ctx context.Context, lastID uuid.UUID, batchSize int) ([]ethos.EpisodicTrace, error) {
	q := episodeSelectColumns + `
		FROM   episodic_traces
		WHERE  pruned = false AND id > $1
		ORDER  BY id
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, lastID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("episode store: batch for decay: %w", err)
	}
	episodes, err := pgx.CollectRows(rows, scanEpisode)
	if err != nil {
		return nil, fmt.Errorf("episode store: scan rows: %w", err)
	}
	if episodes == nil {
		episodes = []ethos.EpisodicTrace{}
	}
	return episodes, nil
}

// ApplyDecay implements [store.EpisodeStore].
func (s *EpisodeStoreImpl) ApplyDecay(ctx context.Context, id uuid.UUID, salience float64, pruned bool) error {
	const q = `UPDATE episodic_traces SET salience = $2, pruned = $3 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, salience, pruned); err != nil {
		return fmt.Errorf("episode store: apply decay: %w", err)
	}
	return nil
}

// RecordRetrieval implements [store.EpisodeStore].
func (s *EpisodeStoreImpl) RecordRetrieval(ctx context.Context, id uuid.UUID) error {
	const q = `
		UPDATE episodic_traces
		SET    retrieval_count = retrieval_count + 1,
		       last_retrieved_at = now()
		WHERE  id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("episode store: record retrieval: %w", err)
	}
	return nil
}

const episodeSelectColumns = `
		SELECT id, session_id, agent_id, turn_index, role, content, created_at,
		       importance, salience, emotional_tone, retrieval_count, last_retrieved_at,
		       consolidated_at, pruned, topics, entities`

func scanEpisode(row pgx.CollectableRow) (ethos.EpisodicTrace, error) {
	var (
		e    ethos.EpisodicTrace
		role string
	)
	if err := row.Scan(
		&e.ID, &e.SessionID, &e.AgentID, &e.TurnIndex, &role, &e.Content, &e.CreatedAt,
		&e.Importance, &e.Salience, &e.EmotionalTone, &e.RetrievalCount, &e.LastRetrievedAt,
		&e.ConsolidatedAt, &e.Pruned, &e.Topics, &e.Entities,
	); err != nil {
		return ethos.EpisodicTrace{}, err
	}
	e.Role = ethos.Role(role)
	return e, nil
}
