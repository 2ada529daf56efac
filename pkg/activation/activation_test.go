package activation

import (
	"testing"

	"github.com/google/uuid"
)

func TestSpread_EmptyAnchors(t *testing.T) {
	result := Spread(nil, []Edge{{Weight: 1}}, Config{Iterations: 3})
	if len(result.Nodes) != 0 {
		t.Fatalf("expected empty nodes, got %d", len(result.Nodes))
	}
	if result.Iterations != 0 {
		t.Fatalf("expected 0 iterations recorded, got %d", result.Iterations)
	}
}

func TestSpread_EmptyEdges(t *testing.T) {
	a := uuid.New()
	result := Spread([]Anchor{{ID: a, CosineScore: 0.8}}, nil, Config{
		WeightSimilarity: 0.6, WeightActivation: 0.3, WeightStructural: 0.1, Iterations: 5,
	})
	if len(result.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(result.Nodes))
	}
	n := result.Nodes[0]
	if n.SpreadScore != 0 || n.StructuralScore != 0 {
		t.Fatalf("expected zero spread/structural, got %+v", n)
	}
	want := float32(0.6) * 0.8
	if n.FinalScore != want {
		t.Fatalf("final score = %v, want %v", n.FinalScore, want)
	}
}

func TestSpread_ZeroStrengthEqualsWeightedCosine(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	result := Spread(
		[]Anchor{{ID: a, CosineScore: 0.9}},
		[]Edge{{FromID: a, ToID: b, Weight: 0.7}},
		Config{WeightSimilarity: 0.6, WeightActivation: 0.3, WeightStructural: 0.1, SpreadingStrength: 0, Iterations: 3},
	)
	for _, n := range result.Nodes {
		if n.ID == a {
			want := float32(0.6) * 0.9
			if abs(n.FinalScore-want) > 1e-6 {
				t.Fatalf("anchor final score = %v, want %v", n.FinalScore, want)
			}
		}
	}
}

func TestSpread_PropagatesAndRanks(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	edges := []Edge{
		{FromID: a, ToID: b, Weight: 0.8},
		{FromID: b, ToID: c, Weight: 0.5},
	}
	cfg := Config{WeightSimilarity: 0.5, WeightActivation: 0.4, WeightStructural: 0.1, SpreadingStrength: 0.5, Iterations: 2}
	result := Spread([]Anchor{{ID: a, CosineScore: 1.0}}, edges, cfg)

	byID := map[uuid.UUID]Node{}
	for _, n := range result.Nodes {
		byID[n.ID] = n
	}
	if byID[a].FinalScore <= byID[b].FinalScore {
		t.Fatalf("expected anchor a to outrank b: a=%v b=%v", byID[a].FinalScore, byID[b].FinalScore)
	}
	if byID[c].SpreadScore <= 0 {
		t.Fatalf("expected c to receive spread activation from b, got %v", byID[c].SpreadScore)
	}
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
