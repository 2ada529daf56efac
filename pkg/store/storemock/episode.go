package storemock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/ethos"
)

// EpisodeStore is an in-memory fake for [store.EpisodeStore].
type EpisodeStore struct {
	mu       sync.Mutex
	episodes map[uuid.UUID]ethos.EpisodicTrace
	order    []uuid.UUID
}

func (e *EpisodeStore) ensure() {
	if e.episodes == nil {
		e.episodes = make(map[uuid.UUID]ethos.EpisodicTrace)
	}
}

func (e *EpisodeStore) Insert(ctx context.Context, ep ethos.EpisodicTrace) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensure()
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	e.episodes[ep.ID] = ep
	e.order = append(e.order, ep.ID)
	return ep.ID, nil
}

func (e *EpisodeStore) Get(ctx context.Context, id uuid.UUID) (ethos.EpisodicTrace, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ep, ok := e.episodes[id]
	if !ok {
		return ethos.EpisodicTrace{}, fmt.Errorf("episode %s not found", id)
	}
	return ep, nil
}

func (e *EpisodeStore) CandidatesForConsolidation(ctx context.Context, importanceThreshold float64, retrievalThreshold int, triggerPhrases []string, limit int) ([]ethos.EpisodicTrace, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var candidates []ethos.EpisodicTrace
	for _, id := range e.order {
		ep := e.episodes[id]
		if ep.ConsolidatedAt != nil || ep.Pruned {
			continue
		}
		if ep.Importance >= importanceThreshold || ep.RetrievalCount >= retrievalThreshold || matchesAny(ep.Content, triggerPhrases) {
			candidates = append(candidates, ep)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Importance > candidates[j].Importance })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func matchesAny(content string, phrases []string) bool {
	lower := strings.ToLower(content)
	for _, p := range phrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (e *EpisodeStore) MarkConsolidated(ctx context.Context, ids []uuid.UUID, batchSize int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		ep, ok := e.episodes[id]
		if !ok {
			continue
		}
		ep.ConsolidatedAt = &now
		e.episodes[id] = ep
	}
	return nil
}

func (e *EpisodeStore) BatchForDecay(ctx context.Context, lastID uuid.UUID, batchSize int) ([]ethos.EpisodicTrace, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ethos.EpisodicTrace
	started := lastID == uuid.Nil
	for _, id := range e.order {
		if !started {
			if id == lastID {
				started = true
			}
			continue
		}
		ep := e.episodes[id]
		if ep.Pruned {
			continue
		}
		out = append(out, ep)
		if len(out) >= batchSize {
			break
		}
	}
	return out, nil
}

func (e *EpisodeStore) ApplyDecay(ctx context.Context, id uuid.UUID, salience float64, pruned bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ep, ok := e.episodes[id]
	if !ok {
		return fmt.Errorf("episode %s not found", id)
	}
	ep.Salience = salience
	ep.Pruned = pruned
	e.episodes[id] = ep
	return nil
}

func (e *EpisodeStore) RecordRetrieval(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ep, ok := e.episodes[id]
	if !ok {
		return fmt.Errorf("episode %s not found", id)
	}
	ep.RetrievalCount++
	now := time.Now()
	ep.LastRetrievedAt = &now
	e.episodes[id] = ep
	return nil
}
