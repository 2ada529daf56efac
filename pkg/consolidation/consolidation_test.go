package consolidation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store/storemock"
)

func newTestEngine(t *testing.T, episodes *storemock.EpisodeStore, facts *storemock.FactStore) *Engine {
	t.Helper()
	inboxPath := filepath.Join(t.TempDir(), "review.md")
	inbox, err := NewReviewInbox(inboxPath)
	if err != nil {
		t.Fatalf("NewReviewInbox: %v", err)
	}
	cfg := Config{ImportanceThreshold: 0.6, RetrievalThreshold: 3, AutoSupersedeConfidenceDelta: 0.15}
	return New(&storemock.SessionStore{}, episodes, facts, inbox, cfg, nil, nil)
}

func TestRunCycle_CreatesFactFromDecision(t *testing.T) {
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	engine := newTestEngine(t, episodes, facts)

	ctx := context.Background()
	if _, err := episodes.Insert(ctx, ethos.EpisodicTrace{
		SessionID: "s1", AgentID: "a1", Content: "We decided Acme will use Postgres for storage.",
		Importance: 0.9,
	}); err != nil {
		t.Fatalf("insert episode: %v", err)
	}

	report, err := engine.RunCycle(ctx, time.Now())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.FactsCreated != 1 {
		t.Fatalf("FactsCreated = %d, want 1", report.FactsCreated)
	}
	if report.EpisodesPromoted != 1 {
		t.Fatalf("EpisodesPromoted = %d, want 1", report.EpisodesPromoted)
	}
}

func TestRunCycle_RefinesCompatibleObject(t *testing.T) {
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	engine := newTestEngine(t, episodes, facts)
	ctx := context.Background()

	existingID, err := facts.Insert(ctx, ethos.SemanticFact{
		Kind: ethos.KindPreference, Subject: "Dana", Predicate: "prefers", Object: "dark mode",
		Confidence: 0.80,
	})
	if err != nil {
		t.Fatalf("insert fact: %v", err)
	}

	if _, err := episodes.Insert(ctx, ethos.EpisodicTrace{
		SessionID: "s1", Content: "Dana prefers dark mode themes in the editor.", Importance: 0.9,
	}); err != nil {
		t.Fatalf("insert episode: %v", err)
	}

	report, err := engine.RunCycle(ctx, time.Now())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.FactsUpdated != 1 {
		t.Fatalf("FactsUpdated = %d, want 1", report.FactsUpdated)
	}
	updated, err := facts.Get(ctx, existingID)
	if err != nil {
		t.Fatalf("get fact: %v", err)
	}
	if !strings.Contains(updated.Object, "dark mode") {
		t.Fatalf("refined object %q lost original content", updated.Object)
	}
	if updated.Confidence <= 0.80 {
		t.Fatalf("refined confidence %v did not increase", updated.Confidence)
	}
}

func TestRunCycle_SupersedesOnDecision(t *testing.T) {
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	engine := newTestEngine(t, episodes, facts)
	ctx := context.Background()

	oldID, err := facts.Insert(ctx, ethos.SemanticFact{
		Kind: ethos.KindDecision, Subject: "Acme", Predicate: "uses", Object: "MySQL", Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("insert fact: %v", err)
	}

	if _, err := episodes.Insert(ctx, ethos.EpisodicTrace{
		SessionID: "s1", Content: "Acme decided to use Postgres going forward.", Importance: 0.95,
	}); err != nil {
		t.Fatalf("insert episode: %v", err)
	}

	report, err := engine.RunCycle(ctx, time.Now())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.FactsSuperseded != 1 {
		t.Fatalf("FactsSuperseded = %d, want 1", report.FactsSuperseded)
	}
	old, err := facts.Get(ctx, oldID)
	if err != nil {
		t.Fatalf("get old fact: %v", err)
	}
	if old.SupersededBy == nil {
		t.Fatalf("old fact was not marked superseded")
	}
}

func TestRunCycle_FlagsIncompatibleLowConfidenceConflict(t *testing.T) {
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	engine := newTestEngine(t, episodes, facts)
	ctx := context.Background()

	existingID, err := facts.Insert(ctx, ethos.SemanticFact{
		Kind: ethos.KindFact, Subject: "team", Predicate: "contains", Object: "alpha project notes", Confidence: 0.70,
	})
	if err != nil {
		t.Fatalf("insert fact: %v", err)
	}

	if _, err := episodes.Insert(ctx, ethos.EpisodicTrace{
		SessionID: "s1", Content: "Just some ordinary chatter that happens to be long enough to count as notable for testing purposes.", Importance: 0.85,
	}); err != nil {
		t.Fatalf("insert episode: %v", err)
	}

	report, err := engine.RunCycle(ctx, time.Now())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.FactsFlagged != 1 {
		t.Fatalf("FactsFlagged = %d, want 1", report.FactsFlagged)
	}
	existing, err := facts.Get(ctx, existingID)
	if err != nil {
		t.Fatalf("get fact: %v", err)
	}
	if !existing.FlaggedForReview {
		t.Fatalf("existing fact was not flagged")
	}

	contents, err := os.ReadFile(engine.inbox.path)
	if err != nil {
		t.Fatalf("read review inbox: %v", err)
	}
	if strings.Count(string(contents), "Conflict flagged") != 1 {
		t.Fatalf("expected exactly one review-inbox entry, got:\n%s", contents)
	}
}

func TestRunCycle_ReconflictDoesNotDuplicateReviewEntry(t *testing.T) {
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	engine := newTestEngine(t, episodes, facts)
	ctx := context.Background()

	if _, err := facts.Insert(ctx, ethos.SemanticFact{
		Kind: ethos.KindFact, Subject: "team", Predicate: "contains", Object: "alpha project notes",
		Confidence: 0.70, FlaggedForReview: true,
	}); err != nil {
		t.Fatalf("insert fact: %v", err)
	}

	if _, err := episodes.Insert(ctx, ethos.EpisodicTrace{
		SessionID: "s1", Content: "Just some ordinary chatter that happens to be long enough to count as notable for testing purposes.", Importance: 0.85,
	}); err != nil {
		t.Fatalf("insert episode: %v", err)
	}

	if _, err := engine.RunCycle(ctx, time.Now()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if _, err := os.Stat(engine.inbox.path); err == nil {
		t.Fatalf("review inbox should not have been written for an already-flagged fact")
	} else if !os.IsNotExist(err) {
		t.Fatalf("unexpected stat error: %v", err)
	}
}

func TestRunCycle_MarksConsolidatedEpisodes(t *testing.T) {
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	engine := newTestEngine(t, episodes, facts)
	ctx := context.Background()

	id, err := episodes.Insert(ctx, ethos.EpisodicTrace{
		SessionID: "s1", Content: "We decided to always prefer async APIs here.", Importance: 0.95,
	})
	if err != nil {
		t.Fatalf("insert episode: %v", err)
	}

	if _, err := engine.RunCycle(ctx, time.Now()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	ep, err := episodes.Get(ctx, id)
	if err != nil {
		t.Fatalf("get episode: %v", err)
	}
	if ep.ConsolidatedAt == nil {
		t.Fatalf("episode was not marked consolidated")
	}
}

func TestRunCycle_SkipsEpisodesWithNoExtractableFact(t *testing.T) {
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	engine := newTestEngine(t, episodes, facts)
	ctx := context.Background()

	if _, err := episodes.Insert(ctx, ethos.EpisodicTrace{
		SessionID: "s1", Content: "just some ordinary chatter with nothing notable at all today", Importance: 0.65,
	}); err != nil {
		t.Fatalf("insert episode: %v", err)
	}

	report, err := engine.RunCycle(ctx, time.Now())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.EpisodesPromoted != 0 {
		t.Fatalf("EpisodesPromoted = %d, want 0", report.EpisodesPromoted)
	}
}

func TestRunCycle_DecaySweepFailureIsNotFatal(t *testing.T) {
	episodes := &storemock.EpisodeStore{}
	facts := &storemock.FactStore{}
	inboxPath := filepath.Join(t.TempDir(), "review.md")
	inbox, err := NewReviewInbox(inboxPath)
	if err != nil {
		t.Fatalf("NewReviewInbox: %v", err)
	}
	cfg := Config{ImportanceThreshold: 0.6, RetrievalThreshold: 3}
	failingSweep := func(ctx context.Context, now time.Time) error {
		return context.DeadlineExceeded
	}
	engine := New(&storemock.SessionStore{}, episodes, facts, inbox, cfg, failingSweep, nil)

	if _, err := engine.RunCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("RunCycle should tolerate a failing sweep, got: %v", err)
	}
}
