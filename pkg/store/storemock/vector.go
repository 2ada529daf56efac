package storemock

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store"
)

// VectorStore is an in-memory fake for [store.VectorStore]. Distance is
// computed as 1 - cosine similarity, matching the pgvector `<=>` operator
// this fake stands in for.
type VectorStore struct {
	mu      sync.Mutex
	vectors map[uuid.UUID]ethos.MemoryVector
	order   []uuid.UUID
}

func (v *VectorStore) ensure() {
	if v.vectors == nil {
		v.vectors = make(map[uuid.UUID]ethos.MemoryVector)
	}
}

func (v *VectorStore) Insert(ctx context.Context, mv ethos.MemoryVector) (uuid.UUID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ensure()
	if mv.ID == uuid.Nil {
		mv.ID = uuid.New()
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now()
	}
	v.vectors[mv.ID] = mv
	v.order = append(v.order, mv.ID)
	return mv.ID, nil
}

func (v *VectorStore) SetVector(ctx context.Context, id uuid.UUID, vec []float32, modelName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	mv, ok := v.vectors[id]
	if !ok {
		return fmt.Errorf("vector %s not found", id)
	}
	mv.Vector = vec
	mv.ModelName = modelName
	v.vectors[id] = mv
	return nil
}

func (v *VectorStore) Get(ctx context.Context, id uuid.UUID) (ethos.MemoryVector, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	mv, ok := v.vectors[id]
	if !ok {
		return ethos.MemoryVector{}, fmt.Errorf("vector %s not found", id)
	}
	return mv, nil
}

func (v *VectorStore) GetBySource(ctx context.Context, sourceType ethos.SourceType, sourceID uuid.UUID) (ethos.MemoryVector, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range v.order {
		mv := v.vectors[id]
		if mv.SourceType == sourceType && mv.SourceID == sourceID {
			return mv, true, nil
		}
	}
	return ethos.MemoryVector{}, false, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (v *VectorStore) TopK(ctx context.Context, query []float32, k int, filter store.VectorFilter) ([]store.VectorMatch, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	allowed := make(map[ethos.SourceType]bool, len(filter.SourceTypes))
	for _, t := range filter.SourceTypes {
		allowed[t] = true
	}

	var matches []store.VectorMatch
	for _, id := range v.order {
		mv := v.vectors[id]
		if mv.Pruned || mv.Vector == nil {
			continue
		}
		if len(filter.SourceTypes) > 0 && !allowed[mv.SourceType] {
			continue
		}
		matches = append(matches, store.VectorMatch{
			Vector:   mv,
			Distance: 1 - cosine(query, mv.Vector),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (v *VectorStore) NullVectorCount(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, mv := range v.vectors {
		if mv.Vector == nil && mv.Content != "" && !mv.Pruned {
			n++
		}
	}
	return n, nil
}

var sourcePriority = map[ethos.SourceType]int{
	ethos.SourceEpisode: 0,
	ethos.SourceFact:    1,
}

func (v *VectorStore) FetchNullVectorBatch(ctx context.Context, batchSize int) ([]ethos.MemoryVector, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var candidates []ethos.MemoryVector
	for _, id := range v.order {
		mv := v.vectors[id]
		if mv.Vector == nil && mv.Content != "" && !mv.Pruned {
			candidates = append(candidates, mv)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := sourcePriority[candidates[i].SourceType], sourcePriority[candidates[j].SourceType]
		if pi != pj {
			return pi < pj
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}
	return candidates, nil
}

func (v *VectorStore) BatchForDecay(ctx context.Context, lastID uuid.UUID, batchSize int) ([]ethos.MemoryVector, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []ethos.MemoryVector
	started := lastID == uuid.Nil
	for _, id := range v.order {
		if !started {
			if id == lastID {
				started = true
			}
			continue
		}
		mv := v.vectors[id]
		if mv.Pruned {
			continue
		}
		out = append(out, mv)
		if len(out) >= batchSize {
			break
		}
	}
	return out, nil
}

func (v *VectorStore) ApplyDecay(ctx context.Context, id uuid.UUID, importance float64, pruned bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	mv, ok := v.vectors[id]
	if !ok {
		return fmt.Errorf("vector %s not found", id)
	}
	mv.Importance = importance
	mv.Pruned = pruned
	v.vectors[id] = mv
	return nil
}

func (v *VectorStore) RecordRetrieval(ctx context.Context, id uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	mv, ok := v.vectors[id]
	if !ok {
		return fmt.Errorf("vector %s not found", id)
	}
	mv.AccessCount++
	now := time.Now()
	mv.LastAccessedAt = &now
	v.vectors[id] = mv
	return nil
}
