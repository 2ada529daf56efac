// Command ethosd is the ethos memory service daemon: it loads
// configuration, opens the pgvector-backed store, wires the embedding
// backend through linking, retrieval, decay, consolidation, and re-embed,
// and serves the HTTP and IPC transports until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modernmethod/ethos/internal/app"
	"github.com/modernmethod/ethos/internal/config"
	"github.com/modernmethod/ethos/internal/httpapi"
	"github.com/modernmethod/ethos/internal/ipcapi"
	"github.com/modernmethod/ethos/internal/observe"
	"github.com/modernmethod/ethos/pkg/consolidation"
	"github.com/modernmethod/ethos/pkg/decay"
	"github.com/modernmethod/ethos/pkg/embedding"
	"github.com/modernmethod/ethos/pkg/embedding/local"
	"github.com/modernmethod/ethos/pkg/embedding/openai"
	"github.com/modernmethod/ethos/pkg/ingest"
	"github.com/modernmethod/ethos/pkg/linker"
	"github.com/modernmethod/ethos/pkg/reembed"
	"github.com/modernmethod/ethos/pkg/retrieval"
	"github.com/modernmethod/ethos/pkg/store/postgres"
)

// version is stamped into /health and /version responses. It has no
// release-automation attached yet; "dev" is the only value a local build
// produces.
const version = "dev"

func main() {
	configPath := flag.String("config", "ethos.yaml", "path to the ethos configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ethosd: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, log)
	if err != nil {
		log.Error("ethosd: startup failed", "err", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		log.Error("ethosd: run failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error("ethosd: shutdown failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// build constructs the full dependency graph and returns an [app.App] ready
// to Run. Nothing here starts a goroutine; app.Run owns that.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app.App, error) {
	st, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN, cfg.Storage.EmbeddingDimensions)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := config.NewRegistry()
	registry.RegisterEmbedding("openai", func(e config.ProviderEntry) (embedding.Backend, error) {
		return openai.New(e.APIKey, e.Model,
			openai.WithBaseURL(e.BaseURL),
			openai.WithDimensions(cfg.Storage.EmbeddingDimensions),
		)
	})
	registry.RegisterEmbedding("local", func(e config.ProviderEntry) (embedding.Backend, error) {
		dims := cfg.Storage.EmbeddingDimensions
		return local.New(local.HashRuntime{Dimensions: dims}, dims, orDefault(e.Model, "hash")), nil
	})

	backend, err := registry.BuildEmbeddingBackend(cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build embedding backend: %w", err)
	}

	l := linker.New(st.Vectors(), st.Graph(), log)

	decayEngine := decay.New(st.Vectors(), st.Episodes(), st.Facts(), decay.Config{
		BaseTauDays:          cfg.Decay.BaseTauDays,
		LTPMultiplier:        cfg.Decay.LTPMultiplier,
		FrequencyWeight:      cfg.Decay.FrequencyWeight,
		EmotionalWeight:      cfg.Decay.EmotionalWeight,
		PruneThreshold:       cfg.Decay.PruneThreshold,
		SweepIntervalMinutes: cfg.Decay.SweepIntervalMinutes,
	}, log)

	retrievalEngine := retrieval.New(backend, st.Vectors(), st.Graph(), decayEngine, retrieval.Config{
		SpreadingStrength:  float32(cfg.Retrieval.SpreadingStrength),
		Iterations:         cfg.Retrieval.Iterations,
		AnchorTopKEpisodes: cfg.Retrieval.AnchorTopKEpisodes,
		AnchorTopKFacts:    cfg.Retrieval.AnchorTopKFacts,
		WeightSimilarity:   float32(cfg.Retrieval.WeightSimilarity),
		WeightActivation:   float32(cfg.Retrieval.WeightActivation),
		WeightStructural:   float32(cfg.Retrieval.WeightStructural),
		ConfidenceGate:     float32(cfg.Retrieval.ConfidenceGate),
		DefaultLimit:       cfg.Retrieval.DefaultLimit,
		MaxLimit:           cfg.Retrieval.MaxLimit,
	}, log)

	inbox, err := consolidation.NewReviewInbox(cfg.Consolidation.ReviewInboxPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open review inbox: %w", err)
	}

	// Consolidation's sweep hook drives decay's Ebbinghaus pass on the same
	// idle-gated cadence; its per-vector report is dropped here since
	// ConsolidationReport has no field for it (see DESIGN.md).
	consolidationEngine := consolidation.New(st.Sessions(), st.Episodes(), st.Facts(), inbox, consolidation.Config{
		IntervalMinutes:              cfg.Consolidation.IntervalMinutes,
		ImportanceThreshold:          cfg.Consolidation.ImportanceThreshold,
		RetrievalThreshold:           cfg.Consolidation.RetrievalThreshold,
		AutoSupersedeConfidenceDelta: cfg.Consolidation.AutoSupersedeConfidenceDelta,
		Idle: consolidation.IdleConfig{
			IdleThresholdSeconds: cfg.Consolidation.IdleThresholdSeconds,
			CPUThresholdPercent:  cfg.Consolidation.CPUThresholdPercent,
		},
	}, func(ctx context.Context, now time.Time) error {
		_, err := decayEngine.RunSweep(ctx, now)
		return err
	}, log)

	reembedWorker := reembed.New(st.Vectors(), backend, reembed.Config{
		Enabled:         cfg.Reembed.Enabled,
		IntervalSeconds: cfg.Reembed.IntervalSeconds,
		BatchSize:       cfg.Reembed.BatchSize,
		RateLimitRPM:    cfg.Reembed.RateLimitRPM,
	}, log)

	ingestPipeline := ingest.New(st.Sessions(), st.Episodes(), st.Vectors(), backend, l, log, ingest.WithTxIngester(st))

	metrics, err := observe.New("ethosd")
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build metrics: %w", err)
	}

	httpServer := httpapi.New(httpapi.Deps{
		Version:       version,
		Retrieval:     retrievalEngine,
		Ingest:        ingestPipeline,
		Consolidation: consolidationEngine,
		Postgres:      func(ctx context.Context) error { return st.Pool().Ping(ctx) },
		Pgvector:      func(ctx context.Context) error { return st.Pool().Ping(ctx) },
		SocketPath:    cfg.Server.IPCSocketPath,
		Log:           log,
		Metrics:       metrics,
	})

	ipcServer := ipcapi.New(cfg.Server.IPCSocketPath, ipcapi.Deps{
		Version:       version,
		Retrieval:     retrievalEngine,
		Ingest:        ingestPipeline,
		Consolidation: consolidationEngine,
		Embedding:     backend,
		Vectors:       st.Vectors(),
		Log:           log,
		Metrics:       metrics,
	})

	httpRunner := httpRunnerFunc(func(ctx context.Context) {
		srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: httpServer}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.Info("ethosd: http listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && ctx.Err() == nil {
			log.Error("ethosd: http server failed", "err", err)
		}
	})

	return app.New(log,
		app.WithRunner(httpRunner),
		app.WithRunner(ipcServer),
		app.WithRunner(consolidationEngine),
		app.WithRunner(reembedWorker),
		app.WithCloser(func() error { st.Close(); return nil }),
		app.WithCloser(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metrics.Shutdown(ctx)
		}),
	), nil
}

type httpRunnerFunc func(ctx context.Context)

func (f httpRunnerFunc) Run(ctx context.Context) { f(ctx) }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
