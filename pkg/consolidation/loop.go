package consolidation

import (
	"context"
	"time"
)

// Run starts the background consolidation loop: every IntervalMinutes it
// checks idleness and, only when idle, runs one cycle. It blocks until ctx
// is cancelled. A manual trigger (RunCycle called directly) bypasses the
// idle gate entirely.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.tick(ctx, now)
		}
	}
}

func (e *Engine) tick(ctx context.Context, now time.Time) {
	idle, err := e.IsIdle(ctx)
	if err != nil {
		e.log.Warn("consolidation: idleness check failed, skipping cycle", "error", err)
		return
	}
	if !idle {
		e.log.Debug("consolidation: skipping cycle, system not idle")
		return
	}

	report, err := e.RunCycle(ctx, now)
	if err != nil {
		e.log.Warn("consolidation: cycle failed", "error", err)
		return
	}
	e.log.Info("consolidation: cycle complete",
		"episodes_scanned", report.EpisodesScanned,
		"episodes_promoted", report.EpisodesPromoted,
		"facts_created", report.FactsCreated,
		"facts_updated", report.FactsUpdated,
		"facts_superseded", report.FactsSuperseded,
		"facts_flagged", report.FactsFlagged,
	)
}
