// Package reembed implements the background backfill worker that turns
// NULL memory-vector rows (left behind by graceful degradation in
// pkg/embedding) into embedded rows once the backend recovers.
package reembed

import (
	"context"
	"log/slog"
	"time"

	"github.com/modernmethod/ethos/pkg/embedding"
	"github.com/modernmethod/ethos/pkg/store"
)

// Config holds the worker's tunables.
type Config struct {
	// Enabled gates the whole worker off when false.
	Enabled bool

	// IntervalSeconds between ticks.
	IntervalSeconds int

	// BatchSize is the max rows fetched per tick.
	BatchSize int

	// RateLimitRPM throttles embed calls; 0 disables throttling.
	RateLimitRPM int
}

// Report tallies one tick's effect.
type Report struct {
	Embedded int
	Skipped  int
}

// Worker periodically backfills NULL-vector rows.
type Worker struct {
	vectors store.VectorStore
	backend embedding.Backend
	cfg     Config
	log     *slog.Logger

	sleep func(time.Duration)
}

// New constructs a backfill Worker.
func New(vectors store.VectorStore, backend embedding.Backend, cfg Config, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{vectors: vectors, backend: backend, cfg: cfg, log: log, sleep: time.Sleep}
}

// Run ticks on IntervalSeconds until ctx is cancelled. It is a no-op if
// the worker is disabled.
func (w *Worker) Run(ctx context.Context) {
	if !w.cfg.Enabled {
		w.log.Info("reembed: worker disabled, not starting")
		return
	}
	interval := time.Duration(w.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := w.Tick(ctx)
			if err != nil {
				w.log.Warn("reembed: tick failed", "error", err)
				continue
			}
			if report.Embedded > 0 || report.Skipped > 0 {
				w.log.Info("reembed: tick complete", "embedded", report.Embedded, "skipped", report.Skipped)
			}
		}
	}
}

// Tick runs a single backfill pass: count, fetch a batch, embed each row
// in priority order, stopping the batch early if the backend reports
// degraded (nil vector, no error).
func (w *Worker) Tick(ctx context.Context) (Report, error) {
	var report Report

	count, err := w.vectors.NullVectorCount(ctx)
	if err != nil {
		return report, err
	}
	if count == 0 {
		return report, nil
	}

	batchSize := w.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	batch, err := w.vectors.FetchNullVectorBatch(ctx, batchSize)
	if err != nil {
		return report, err
	}

	for i, row := range batch {
		if ctx.Err() != nil {
			report.Skipped += len(batch) - i
			return report, nil
		}

		outcome, err := w.backend.Embed(ctx, row.Content)
		if err != nil {
			w.log.Warn("reembed: embed failed for row, skipping", "id", row.ID, "error", err)
			report.Skipped++
			continue
		}
		if !outcome.Available {
			// Backend still degraded: stop the batch rather than thrash
			// through every remaining row.
			report.Skipped += len(batch) - i
			return report, nil
		}

		if err := w.vectors.SetVector(ctx, row.ID, outcome.Vector, w.backend.Name()); err != nil {
			return report, err
		}
		report.Embedded++

		if w.cfg.RateLimitRPM > 0 {
			delay := time.Duration(60_000/w.cfg.RateLimitRPM) * time.Millisecond
			w.sleep(delay)
		}
	}

	return report, nil
}
