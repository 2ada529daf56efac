// Package decay implements the Ebbinghaus decay-with-LTP salience equation,
// the periodic sweep that applies it across all three memory tables, and
// record_retrieval, the long-term-potentiation hook invoked whenever a
// memory item is returned by a search.
package decay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store"
)

const sweepBatchSize = 500

// Config holds the salience equation's tunable parameters.
type Config struct {
	BaseTauDays      float64 // τ₀
	LTPMultiplier    float64 // μ
	FrequencyWeight  float64 // α
	EmotionalWeight  float64 // β
	PruneThreshold   float64 // θ
}

// Engine applies decay and records retrievals across the three memory
// tables: vectors, episodic traces, and semantic facts.
type Engine struct {
	vectors  store.VectorStore
	episodes store.EpisodeStore
	facts    store.FactStore
	cfg      Config
	log      *slog.Logger
}

// New constructs a decay Engine.
func New(vectors store.VectorStore, episodes store.EpisodeStore, facts store.FactStore, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{vectors: vectors, episodes: episodes, facts: facts, cfg: cfg, log: log}
}

// Salience computes S' from the equation in spec §4.F:
//
//	S' = clamp01( S · exp(-t/τ_eff) · (1 + α·f) · (1 + β·E) )
//	τ_eff = τ₀ · μ^r
//	f = min(1, r / max(1, daysAlive))
func (cfg Config) Salience(s float64, daysSinceAccess, daysAlive float64, retrievalCount int, emotionalTone float64) float64 {
	r := float64(retrievalCount)
	tauEff := cfg.BaseTauDays * math.Pow(cfg.LTPMultiplier, r)
	if tauEff <= 0 {
		tauEff = cfg.BaseTauDays
	}
	f := r / math.Max(1, daysAlive)
	if f > 1 {
		f = 1
	}
	e := ethos.Clamp01(emotionalTone)
	decayed := s * math.Exp(-daysSinceAccess/tauEff) * (1 + cfg.FrequencyWeight*f) * (1 + cfg.EmotionalWeight*e)
	return ethos.Clamp01(decayed)
}

// daysSince returns the number of days between t and now, treating a nil t
// as "never" (falling back to fallback).
func daysSince(t *time.Time, fallback time.Time, now time.Time) float64 {
	ref := fallback
	if t != nil {
		ref = *t
	}
	return now.Sub(ref).Hours() / 24
}

// RunSweep iterates in batches of 500 over memory vectors, episodic traces,
// and semantic facts, recomputing salience/importance/confidence and
// pruning items that fall below the threshold.
func (e *Engine) RunSweep(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport

	if err := e.sweepVectors(ctx, now, &report); err != nil {
		return report, fmt.Errorf("decay: sweep vectors: %w", err)
	}
	if err := e.sweepEpisodes(ctx, now, &report); err != nil {
		return report, fmt.Errorf("decay: sweep episodes: %w", err)
	}
	if err := e.sweepFacts(ctx, now, &report); err != nil {
		return report, fmt.Errorf("decay: sweep facts: %w", err)
	}
	return report, nil
}

// SweepReport tallies the effect of one RunSweep call.
type SweepReport struct {
	VectorsUpdated, VectorsPruned   int
	EpisodesUpdated, EpisodesPruned int
	FactsUpdated, FactsPruned       int
}

func (e *Engine) sweepVectors(ctx context.Context, now time.Time, report *SweepReport) error {
	var last uuid.UUID
	for {
		batch, err := e.vectors.BatchForDecay(ctx, last, sweepBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, v := range batch {
			last = v.ID
			if v.ExpiresAt != nil && v.ExpiresAt.Before(now) {
				if err := e.vectors.ApplyDecay(ctx, v.ID, v.Importance, true); err != nil {
					return err
				}
				report.VectorsPruned++
				continue
			}
			daysAlive := now.Sub(v.CreatedAt).Hours() / 24
			newImportance := e.cfg.Salience(v.Importance, daysSince(v.LastAccessedAt, v.CreatedAt, now), daysAlive, v.AccessCount, 0)
			prune := newImportance < e.cfg.PruneThreshold
			if prune || math.Abs(newImportance-v.Importance) > 0.001 {
				if err := e.vectors.ApplyDecay(ctx, v.ID, newImportance, prune); err != nil {
					return err
				}
				report.VectorsUpdated++
				if prune {
					report.VectorsPruned++
				}
			}
		}
		if len(batch) < sweepBatchSize {
			return nil
		}
	}
}

func (e *Engine) sweepEpisodes(ctx context.Context, now time.Time, report *SweepReport) error {
	var last uuid.UUID
	for {
		batch, err := e.episodes.BatchForDecay(ctx, last, sweepBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, ep := range batch {
			last = ep.ID
			daysAlive := now.Sub(ep.CreatedAt).Hours() / 24
			newSalience := e.cfg.Salience(ep.Salience, daysSince(ep.LastRetrievedAt, ep.CreatedAt, now), daysAlive, ep.RetrievalCount, ep.EmotionalTone)
			prune := newSalience < e.cfg.PruneThreshold
			if prune || math.Abs(newSalience-ep.Salience) > 0.001 {
				if err := e.episodes.ApplyDecay(ctx, ep.ID, newSalience, prune); err != nil {
					return err
				}
				report.EpisodesUpdated++
				if prune {
					report.EpisodesPruned++
				}
			}
		}
		if len(batch) < sweepBatchSize {
			return nil
		}
	}
}

func (e *Engine) sweepFacts(ctx context.Context, now time.Time, report *SweepReport) error {
	var last uuid.UUID
	for {
		batch, err := e.facts.BatchForDecay(ctx, last, sweepBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, f := range batch {
			last = f.ID
			daysAlive := now.Sub(f.CreatedAt).Hours() / 24
			daysAccess := daysSince(f.LastRetrievedAt, f.CreatedAt, now)
			newConfidence := e.cfg.Salience(f.Confidence, daysAccess, daysAlive, f.RetrievalCount, 0)
			newSalience := e.cfg.Salience(f.Salience, daysAccess, daysAlive, f.RetrievalCount, 0)
			prune := newConfidence < e.cfg.PruneThreshold
			changed := math.Abs(newConfidence-f.Confidence) > 0.001 || math.Abs(newSalience-f.Salience) > 0.001
			if prune || changed {
				if err := e.facts.ApplyDecay(ctx, f.ID, newConfidence, newSalience, prune); err != nil {
					return err
				}
				report.FactsUpdated++
				if prune {
					report.FactsPruned++
				}
			}
		}
		if len(batch) < sweepBatchSize {
			return nil
		}
	}
}

// RecordRetrieval implements record_retrieval(id, kind): it increments the
// appropriate counter and timestamp and applies the source-specific LTP
// boost (episode salience ×1.1, fact confidence +0.02 & salience ×1.1,
// vector importance ×1.05, all clamped to [0,1]).
func (e *Engine) RecordRetrieval(ctx context.Context, sourceType ethos.SourceType, sourceID uuid.UUID) error {
	switch sourceType {
	case ethos.SourceEpisode:
		ep, err := e.episodes.Get(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("decay: record retrieval: get episode: %w", err)
		}
		if err := e.episodes.RecordRetrieval(ctx, sourceID); err != nil {
			return fmt.Errorf("decay: record retrieval: episode: %w", err)
		}
		boosted := ethos.Clamp01(ep.Salience * 1.1)
		if err := e.episodes.ApplyDecay(ctx, sourceID, boosted, false); err != nil {
			return fmt.Errorf("decay: record retrieval: boost episode salience: %w", err)
		}
	case ethos.SourceFact:
		f, err := e.facts.Get(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("decay: record retrieval: get fact: %w", err)
		}
		if err := e.facts.RecordRetrieval(ctx, sourceID); err != nil {
			return fmt.Errorf("decay: record retrieval: fact: %w", err)
		}
		boostedConf := ethos.Clamp01(f.Confidence + 0.02)
		boostedSal := ethos.Clamp01(f.Salience * 1.1)
		if err := e.facts.ApplyDecay(ctx, sourceID, boostedConf, boostedSal, false); err != nil {
			return fmt.Errorf("decay: record retrieval: boost fact: %w", err)
		}
	default:
		// workflow/query memory items carry no decay state of their own.
	}

	mv, found, err := e.vectors.GetBySource(ctx, sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("decay: record retrieval: get vector: %w", err)
	}
	if !found {
		return nil
	}
	if err := e.vectors.RecordRetrieval(ctx, mv.ID); err != nil {
		return fmt.Errorf("decay: record retrieval: vector: %w", err)
	}
	boosted := ethos.Clamp01(mv.Importance * 1.05)
	if err := e.vectors.ApplyDecay(ctx, mv.ID, boosted, false); err != nil {
		return fmt.Errorf("decay: record retrieval: boost vector importance: %w", err)
	}
	return nil
}
