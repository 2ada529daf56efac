// Package storemock provides in-memory fakes for the five store interfaces
// in pkg/store. Unlike a canned-response mock, these fakes implement real
// CRUD semantics (including filtering, ordering, and conflict-resolution
// operations) so that retrieval, decay, and consolidation logic can be
// exercised end to end without a PostgreSQL instance.
package storemock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store"
)

var (
	_ store.SessionStore = (*SessionStore)(nil)
	_ store.VectorStore  = (*VectorStore)(nil)
	_ store.GraphStore   = (*GraphStore)(nil)
	_ store.EpisodeStore = (*EpisodeStore)(nil)
	_ store.FactStore    = (*FactStore)(nil)
)

// SessionStore is an in-memory fake for [store.SessionStore].
type SessionStore struct {
	mu     sync.Mutex
	events []ethos.SessionEvent
}

func (s *SessionStore) WriteEvent(ctx context.Context, e ethos.SessionEvent) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.events = append(s.events, e)
	return e.ID, nil
}

func (s *SessionStore) GetRecent(ctx context.Context, sessionID string, n int) ([]ethos.SessionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []ethos.SessionEvent
	for _, e := range s.events {
		if e.SessionID == sessionID {
			matched = append(matched, e)
		}
	}
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched, nil
}

func (s *SessionStore) HasRecentActivity(ctx context.Context, within time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-within)
	for _, e := range s.events {
		if e.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// GraphStore is an in-memory fake for [store.GraphStore].
type GraphStore struct {
	mu    sync.Mutex
	edges map[string]ethos.GraphEdge
}

func edgeKey(e ethos.GraphEdge) string {
	return string(e.FromType) + "|" + e.FromID.String() + "|" + string(e.ToType) + "|" + e.ToID.String() + "|" + e.Relation
}

func (g *GraphStore) Upsert(ctx context.Context, e ethos.GraphEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.edges == nil {
		g.edges = make(map[string]ethos.GraphEdge)
	}
	e.UpdatedAt = time.Now()
	g.edges[edgeKey(e)] = e
	return nil
}

func (g *GraphStore) UpsertSimilarity(ctx context.Context, e ethos.GraphEdge, increment, maxWeight float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.edges == nil {
		g.edges = make(map[string]ethos.GraphEdge)
	}
	key := edgeKey(e)
	existing, ok := g.edges[key]
	if ok {
		e.Weight = existing.Weight + increment
		if e.Weight > maxWeight {
			e.Weight = maxWeight
		}
	}
	e.UpdatedAt = time.Now()
	g.edges[key] = e
	return nil
}

func (g *GraphStore) SubgraphFor(ctx context.Context, anchors []uuid.UUID, limit int) ([]ethos.GraphEdge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	anchorSet := make(map[uuid.UUID]bool, len(anchors))
	for _, a := range anchors {
		anchorSet[a] = true
	}
	var matched []ethos.GraphEdge
	for _, e := range g.edges {
		if anchorSet[e.FromID] || anchorSet[e.ToID] {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Weight > matched[j].Weight })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
