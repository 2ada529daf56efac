// Package consolidation implements the episodic-to-semantic promotion
// engine: an idle-gated background cycle that selects high-signal
// episodes, extracts candidate facts from their content, resolves
// conflicts against the active fact store, and triggers a decay sweep on
// success.
package consolidation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store"
)

const (
	candidateCap          = 100
	markConsolidatedBatch = 50
	// defaultAutoSupersedeConfidenceDelta is used when Config doesn't set
	// AutoSupersedeConfidenceDelta.
	defaultAutoSupersedeConfidenceDelta = 0.15
)

// Config holds the consolidation cycle's tunables.
type Config struct {
	IntervalMinutes              int
	ImportanceThreshold          float64
	RetrievalThreshold           int
	AutoSupersedeConfidenceDelta float64
	Idle                         IdleConfig
}

func (c Config) supersedeDelta() float64 {
	if c.AutoSupersedeConfidenceDelta == 0 {
		return defaultAutoSupersedeConfidenceDelta
	}
	return c.AutoSupersedeConfidenceDelta
}

// Engine runs the consolidation cycle.
type Engine struct {
	sessions store.SessionStore
	episodes store.EpisodeStore
	facts    store.FactStore
	inbox    *ReviewInbox
	cfg      Config
	log      *slog.Logger

	runSweep func(ctx context.Context, now time.Time) error
}

// New constructs a consolidation Engine. runSweep is typically a thin
// adapter over a decay engine's RunSweep that drops the sweep report; it
// may be nil to skip the post-cycle sweep (e.g. in tests).
func New(sessions store.SessionStore, episodes store.EpisodeStore, facts store.FactStore, inbox *ReviewInbox, cfg Config, runSweep func(ctx context.Context, now time.Time) error, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{sessions: sessions, episodes: episodes, facts: facts, inbox: inbox, cfg: cfg, runSweep: runSweep, log: log}
}

// ConsolidationReport tallies one cycle's effect.
type ConsolidationReport struct {
	EpisodesScanned  int
	EpisodesPromoted int
	FactsCreated     int
	FactsUpdated     int
	FactsSuperseded  int
	FactsFlagged     int
}

// IsIdle reports whether the background scheduler should run a cycle now.
func (e *Engine) IsIdle(ctx context.Context) (bool, error) {
	return IsIdle(ctx, e.sessions, e.cfg.Idle)
}

// RunCycle selects candidates, extracts and resolves facts, marks promoted
// episodes consolidated, and (best effort) triggers a decay sweep.
// Idleness must already have been checked by the caller for scheduled
// runs; RunCycle itself never checks it, so a manual trigger can bypass it
// by simply calling RunCycle directly.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) (ConsolidationReport, error) {
	var report ConsolidationReport

	candidates, err := e.episodes.CandidatesForConsolidation(ctx, e.cfg.ImportanceThreshold, e.cfg.RetrievalThreshold, triggerLexicon, candidateCap)
	if err != nil {
		return report, fmt.Errorf("consolidation: candidates: %w", err)
	}
	report.EpisodesScanned = len(candidates)

	promoted := make([]uuid.UUID, 0, len(candidates))

	for _, ep := range candidates {
		fact, ok := ExtractFact(ep.Content, ep.Importance)
		if !ok {
			continue
		}

		outcome, err := e.resolveConflict(ctx, ep, fact, now)
		if err != nil {
			e.log.Warn("consolidation: resolve conflict failed", "episode_id", ep.ID, "error", err)
			continue
		}
		switch outcome {
		case outcomeCreate:
			report.FactsCreated++
		case outcomeRefine:
			report.FactsUpdated++
		case outcomeSupersede:
			report.FactsSuperseded++
		case outcomeFlag:
			report.FactsFlagged++
		}

		promoted = append(promoted, ep.ID)
		report.EpisodesPromoted++
	}

	if len(promoted) > 0 {
		if err := e.episodes.MarkConsolidated(ctx, promoted, markConsolidatedBatch); err != nil {
			return report, fmt.Errorf("consolidation: mark consolidated: %w", err)
		}
	}

	if e.runSweep != nil {
		if err := e.runSweep(ctx, now); err != nil {
			e.log.Warn("consolidation: decay sweep failed", "error", err)
		}
	}

	return report, nil
}

type conflictOutcome int

const (
	outcomeCreate conflictOutcome = iota
	outcomeRefine
	outcomeSupersede
	outcomeFlag
)

// resolveConflict implements the four-way conflict resolution table:
// no active fact -> create; a decision -> supersede; compatible objects on
// a non-decision -> refine; a large confidence jump -> supersede;
// otherwise -> flag for human review.
func (e *Engine) resolveConflict(ctx context.Context, ep ethos.EpisodicTrace, extracted ExtractedFact, now time.Time) (conflictOutcome, error) {
	existing, found, err := e.facts.FindActive(ctx, extracted.Subject, extracted.Predicate)
	if err != nil {
		return 0, err
	}

	newFact := ethos.SemanticFact{
		Kind:           extracted.Kind,
		Statement:      extracted.Statement,
		Subject:        extracted.Subject,
		Predicate:      extracted.Predicate,
		Object:         extracted.Object,
		Confidence:     extracted.Confidence,
		Salience:       1,
		SourceEpisodes: []uuid.UUID{ep.ID},
		SourceAgent:    ep.AgentID,
	}

	if !found {
		if _, err := e.facts.Insert(ctx, newFact); err != nil {
			return 0, err
		}
		return outcomeCreate, nil
	}

	if extracted.Kind == ethos.KindDecision {
		return e.supersede(ctx, existing.ID, newFact)
	}

	if objectsCompatible(existing.Object, extracted.Object) {
		merged := existing.Object + " " + extracted.Object
		confidence := minFloat(1, existing.Confidence+0.05)
		if err := e.facts.Refine(ctx, existing.ID, merged, confidence, ep.ID); err != nil {
			return 0, err
		}
		return outcomeRefine, nil
	}

	if extracted.Confidence-existing.Confidence >= e.cfg.supersedeDelta() {
		return e.supersede(ctx, existing.ID, newFact)
	}

	return e.flag(ctx, ep, existing, extracted, newFact, now)
}

func (e *Engine) supersede(ctx context.Context, oldID uuid.UUID, newFact ethos.SemanticFact) (conflictOutcome, error) {
	newID, err := e.facts.Insert(ctx, newFact)
	if err != nil {
		return 0, err
	}
	if err := e.facts.Supersede(ctx, oldID, newID); err != nil {
		return 0, err
	}
	return outcomeSupersede, nil
}

func (e *Engine) flag(ctx context.Context, ep ethos.EpisodicTrace, existing ethos.SemanticFact, extracted ExtractedFact, newFact ethos.SemanticFact, now time.Time) (conflictOutcome, error) {
	wasAlreadyFlagged := existing.FlaggedForReview
	newID, err := e.facts.Insert(ctx, newFact)
	if err != nil {
		return 0, err
	}
	if err := e.facts.Flag(ctx, existing.ID, newID); err != nil {
		return 0, err
	}
	if !wasAlreadyFlagged && e.inbox != nil {
		if err := e.inbox.Append(FlaggedConflict{
			Subject:         extracted.Subject,
			Predicate:       extracted.Predicate,
			ExistingID:      existing.ID,
			NewStatement:    extracted.Statement,
			NewConfidence:   extracted.Confidence,
			SourceEpisodeID: ep.ID,
		}, now); err != nil {
			e.log.Warn("consolidation: review inbox append failed", "error", err)
		}
	}
	return outcomeFlag, nil
}

// objectsCompatible implements the "compatible objects" test: either
// object is a case-insensitive substring of the other.
func objectsCompatible(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
