package storemock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/ethos"
)

// FactStore is an in-memory fake for [store.FactStore].
type FactStore struct {
	mu    sync.Mutex
	facts map[uuid.UUID]ethos.SemanticFact
}

func (f *FactStore) ensure() {
	if f.facts == nil {
		f.facts = make(map[uuid.UUID]ethos.SemanticFact)
	}
}

func (f *FactStore) Insert(ctx context.Context, fact ethos.SemanticFact) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	if fact.ID == uuid.Nil {
		fact.ID = uuid.New()
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}
	fact.UpdatedAt = fact.CreatedAt
	f.facts[fact.ID] = fact
	return fact.ID, nil
}

func (f *FactStore) Get(ctx context.Context, id uuid.UUID) (ethos.SemanticFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fact, ok := f.facts[id]
	if !ok {
		return ethos.SemanticFact{}, fmt.Errorf("fact %s not found", id)
	}
	return fact, nil
}

func (f *FactStore) FindActive(ctx context.Context, subject, predicate string) (ethos.SemanticFact, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fact := range f.facts {
		if fact.Subject == subject && fact.Predicate == predicate && !fact.Pruned && fact.SupersededBy == nil {
			return fact, true, nil
		}
	}
	return ethos.SemanticFact{}, false, nil
}

func (f *FactStore) Refine(ctx context.Context, id uuid.UUID, object string, confidence float64, addSourceEpisode uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fact, ok := f.facts[id]
	if !ok {
		return fmt.Errorf("fact %s not found", id)
	}
	fact.Object = object
	fact.Confidence = confidence
	fact.SourceEpisodes = append(fact.SourceEpisodes, addSourceEpisode)
	fact.UpdatedAt = time.Now()
	f.facts[id] = fact
	return nil
}

func (f *FactStore) Supersede(ctx context.Context, oldID, newID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fact, ok := f.facts[oldID]
	if !ok {
		return fmt.Errorf("fact %s not found", oldID)
	}
	id := newID
	fact.SupersededBy = &id
	fact.UpdatedAt = time.Now()
	f.facts[oldID] = fact
	return nil
}

func (f *FactStore) Flag(ctx context.Context, ids ...uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		fact, ok := f.facts[id]
		if !ok {
			continue
		}
		fact.FlaggedForReview = true
		fact.UpdatedAt = time.Now()
		f.facts[id] = fact
	}
	return nil
}

func (f *FactStore) BatchForDecay(ctx context.Context, lastID uuid.UUID, batchSize int) ([]ethos.SemanticFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id := range f.facts {
		ids = append(ids, id)
	}
	// Deterministic order keyed by string form since map order isn't stable.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1].String() > ids[j].String(); j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	var out []ethos.SemanticFact
	started := lastID == uuid.Nil
	for _, id := range ids {
		if !started {
			if id == lastID {
				started = true
			}
			continue
		}
		fact := f.facts[id]
		if fact.Pruned || fact.SupersededBy != nil {
			continue
		}
		out = append(out, fact)
		if len(out) >= batchSize {
			break
		}
	}
	return out, nil
}

func (f *FactStore) ApplyDecay(ctx context.Context, id uuid.UUID, confidence, salience float64, pruned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fact, ok := f.facts[id]
	if !ok {
		return fmt.Errorf("fact %s not found", id)
	}
	fact.Confidence = confidence
	fact.Salience = salience
	fact.Pruned = pruned
	f.facts[id] = fact
	return nil
}

func (f *FactStore) RecordRetrieval(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fact, ok := f.facts[id]
	if !ok {
		return fmt.Errorf("fact %s not found", id)
	}
	fact.RetrievalCount++
	now := time.Now()
	fact.LastRetrievedAt = &now
	f.facts[id] = fact
	return nil
}
