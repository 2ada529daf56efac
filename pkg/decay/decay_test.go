package decay

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store/storemock"
)

func testConfig() Config {
	return Config{
		BaseTauDays:     7,
		LTPMultiplier:   1.5,
		FrequencyWeight: 0.3,
		EmotionalWeight: 0.2,
		PruneThreshold:  0.05,
	}
}

func TestSalience_LTPProtectsFrequentlyRetrieved(t *testing.T) {
	cfg := testConfig()
	// salience=0.5, retrieval_count=10, last retrieved 30 days ago.
	s := cfg.Salience(0.5, 30, 60, 10, 0)
	if s < cfg.PruneThreshold {
		t.Fatalf("expected LTP to protect item from pruning, got salience %v", s)
	}
	// τ_eff = 7 * 1.5^10 ≈ 403.7 days, decay factor ≈ exp(-30/403.7) ≈ 0.928
	want := 0.5 * math.Exp(-30.0/403.7)
	if math.Abs(s-want*1.0) > 0.05 {
		t.Fatalf("salience = %v, expected roughly %v (within frequency/emotional adjustment)", s, want)
	}
}

func TestSalience_DecaysBelowThresholdWithoutRetrieval(t *testing.T) {
	cfg := testConfig()
	s := cfg.Salience(0.5, 60, 60, 0, 0)
	if s >= cfg.PruneThreshold {
		t.Fatalf("expected stale item to decay below prune threshold, got %v", s)
	}
}

func TestRecordRetrieval_EpisodeBoostsSalienceAndCounters(t *testing.T) {
	ctx := context.Background()
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	vectors := &storemock.VectorStore{}
	e := New(vectors, episodes, facts, testConfig(), nil)

	id, err := episodes.Insert(ctx, ethos.EpisodicTrace{Salience: 0.5, RetrievalCount: 0})
	if err != nil {
		t.Fatalf("insert episode: %v", err)
	}

	if err := e.RecordRetrieval(ctx, ethos.SourceEpisode, id); err != nil {
		t.Fatalf("record retrieval: %v", err)
	}

	ep, err := episodes.Get(ctx, id)
	if err != nil {
		t.Fatalf("get episode: %v", err)
	}
	if ep.RetrievalCount != 1 {
		t.Fatalf("expected retrieval_count = 1, got %d", ep.RetrievalCount)
	}
	if ep.LastRetrievedAt == nil {
		t.Fatalf("expected last_retrieved_at to be set")
	}
	want := ethos.Clamp01(0.5 * 1.1)
	if math.Abs(ep.Salience-want) > 1e-9 {
		t.Fatalf("expected salience boosted to %v, got %v", want, ep.Salience)
	}
}

func TestRecordRetrieval_FactBoostsConfidenceAndSalience(t *testing.T) {
	ctx := context.Background()
	facts := &storemock.FactStore{}
	episodes := &storemock.EpisodeStore{}
	vectors := &storemock.VectorStore{}
	e := New(vectors, episodes, facts, testConfig(), nil)

	id, err := facts.Insert(ctx, ethos.SemanticFact{Confidence: 0.8, Salience: 0.6})
	if err != nil {
		t.Fatalf("insert fact: %v", err)
	}

	if err := e.RecordRetrieval(ctx, ethos.SourceFact, id); err != nil {
		t.Fatalf("record retrieval: %v", err)
	}

	f, err := facts.Get(ctx, id)
	if err != nil {
		t.Fatalf("get fact: %v", err)
	}
	if math.Abs(f.Confidence-ethos.Clamp01(0.82)) > 1e-9 {
		t.Fatalf("expected confidence boosted to 0.82, got %v", f.Confidence)
	}
	if math.Abs(f.Salience-ethos.Clamp01(0.6*1.1)) > 1e-9 {
		t.Fatalf("expected salience boosted, got %v", f.Salience)
	}
}

func TestRunSweep_PrunesStaleVector(t *testing.T) {
	ctx := context.Background()
	vectors := &storemock.VectorStore{}
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	e := New(vectors, episodes, facts, testConfig(), nil)

	now := time.Now()
	old := now.AddDate(0, 0, -365)
	id, err := vectors.Insert(ctx, ethos.MemoryVector{
		Content: "ancient", Vector: []float32{1, 0}, Importance: 0.2, CreatedAt: old,
	})
	if err != nil {
		t.Fatalf("insert vector: %v", err)
	}

	report, err := e.RunSweep(ctx, now)
	if err != nil {
		t.Fatalf("run sweep: %v", err)
	}
	if report.VectorsPruned != 1 {
		t.Fatalf("expected 1 vector pruned, got %d", report.VectorsPruned)
	}

	v, err := vectors.Get(ctx, id)
	if err != nil {
		t.Fatalf("get vector: %v", err)
	}
	if !v.Pruned {
		t.Fatalf("expected vector to be pruned")
	}
}
