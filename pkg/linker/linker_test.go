package linker

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store/storemock"
)

func TestLinkMemory_CreatesEdgeAboveThreshold(t *testing.T) {
	ctx := context.Background()
	vectors := &storemock.VectorStore{}
	graph := &storemock.GraphStore{}
	l := New(vectors, graph, nil)

	existingID, err := vectors.Insert(ctx, ethos.MemoryVector{
		SourceType: ethos.SourceEpisode, SourceID: uuid.New(),
		Content: "existing", Vector: []float32{1, 0, 0},
	})
	if err != nil {
		t.Fatalf("insert existing: %v", err)
	}
	existing, _ := vectors.Get(ctx, existingID)

	newSourceID := uuid.New()
	newID, err := vectors.Insert(ctx, ethos.MemoryVector{
		SourceType: ethos.SourceEpisode, SourceID: newSourceID,
		Content: "new", Vector: []float32{0.99, 0.01, 0},
	})
	if err != nil {
		t.Fatalf("insert new: %v", err)
	}
	_ = newID

	created, err := l.LinkMemory(ctx, ethos.SourceEpisode, newSourceID)
	if err != nil {
		t.Fatalf("link memory: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 link created, got %d", created)
	}

	edges, err := graph.SubgraphFor(ctx, []uuid.UUID{newSourceID}, 10)
	if err != nil {
		t.Fatalf("subgraph for: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges (bidirectional), got %d", len(edges))
	}
	for _, e := range edges {
		if e.Relation != relationSimilarity {
			t.Fatalf("expected relation %q, got %q", relationSimilarity, e.Relation)
		}
	}
	_ = existing.SourceID
}

func TestLinkMemory_NoEmbeddingYet(t *testing.T) {
	ctx := context.Background()
	vectors := &storemock.VectorStore{}
	graph := &storemock.GraphStore{}
	l := New(vectors, graph, nil)

	sourceID := uuid.New()
	if _, err := vectors.Insert(ctx, ethos.MemoryVector{
		SourceType: ethos.SourceEpisode, SourceID: sourceID, Content: "pending",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	created, err := l.LinkMemory(ctx, ethos.SourceEpisode, sourceID)
	if err != nil {
		t.Fatalf("link memory: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected 0 links for a null-vector row, got %d", created)
	}
}

func TestLinkMemory_BelowThresholdNoLink(t *testing.T) {
	ctx := context.Background()
	vectors := &storemock.VectorStore{}
	graph := &storemock.GraphStore{}
	l := New(vectors, graph, nil)

	if _, err := vectors.Insert(ctx, ethos.MemoryVector{
		SourceType: ethos.SourceEpisode, SourceID: uuid.New(),
		Content: "unrelated", Vector: []float32{0, 1, 0},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	newSourceID := uuid.New()
	if _, err := vectors.Insert(ctx, ethos.MemoryVector{
		SourceType: ethos.SourceEpisode, SourceID: newSourceID,
		Content: "new", Vector: []float32{1, 0, 0},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	created, err := l.LinkMemory(ctx, ethos.SourceEpisode, newSourceID)
	if err != nil {
		t.Fatalf("link memory: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected 0 links below threshold, got %d", created)
	}
}
