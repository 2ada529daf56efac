package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/modernmethod/ethos/pkg/ethos"
)

// SessionStoreImpl is the append-only session event log backed by the
// session_events table.
//
// Obtain one via [Store.Sessions] rather than constructing directly.
// All methods are safe for concurrent use.
type SessionStoreImpl struct {
	pool pgxExecutor
}

// WriteEvent implements [store.SessionStore].
func (s *SessionStoreImpl) WriteEvent(ctx context.Context, e ethos.SessionEvent) (uuid.UUID, error) {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("session store: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO session_events (session_id, agent_id, role, content, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, q, e.SessionID, e.AgentID, string(e.Role), e.Content, metaJSON).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("session store: write event: %w", err)
	}
	return id, nil
}

// GetRecent implements [store.SessionStore]. Results are returned oldest
// first.
func (s *SessionStoreImpl) GetRecent(ctx context.Context, sessionID string, n int) ([]ethos.SessionEvent, error) {
	const q = `
		SELECT id, session_id, agent_id, role, content, metadata, created_at
		FROM (
		    SELECT id, session_id, agent_id, role, content, metadata, created_at
		    FROM   session_events
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC
		    LIMIT  $2
		) recent
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("session store: get recent: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanSessionEvent)
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if events == nil {
		events = []ethos.SessionEvent{}
	}
	return events, nil
}

// HasRecentActivity implements [store.SessionStore].
func (s *SessionStoreImpl) HasRecentActivity(ctx context.Context, within time.Duration) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM session_events WHERE created_at >= now() - $1::interval)`

	var exists bool
	if err := s.pool.QueryRow(ctx, q, fmt.Sprintf("%d microseconds", within.Microseconds())).Scan(&exists); err != nil {
		return false, fmt.Errorf("session store: has recent activity: %w", err)
	}
	return exists, nil
}

func scanSessionEvent(row pgx.CollectableRow) (ethos.SessionEvent, error) {
	var (
		e        ethos.SessionEvent
		role     string
		metaJSON []byte
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.AgentID, &role, &e.Content, &metaJSON, &e.CreatedAt); err != nil {
		return ethos.SessionEvent{}, err
	}
	e.Role = ethos.Role(role)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return ethos.SessionEvent{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return e, nil
}
