package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// validLogLevels lists the recognised values for server.log_level.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// defaults is the value LoadFromReader decodes into, so a field the document
// omits keeps its default and a minimal config file still yields a workable
// service. A field set explicitly in the document, even to zero, takes the
// document's value.
var defaults = Config{
	Storage: StorageConfig{EmbeddingDimensions: 1536},
	Retrieval: RetrievalConfig{
		SpreadingStrength: 0.5, Iterations: 2,
		AnchorTopKEpisodes: 5, AnchorTopKFacts: 5,
		WeightSimilarity: 0.5, WeightActivation: 0.3, WeightStructural: 0.2,
		ConfidenceGate: 0.5, DefaultLimit: 5, MaxLimit: 20,
	},
	Decay: DecayConfig{
		BaseTauDays: 7, LTPMultiplier: 1.5, FrequencyWeight: 0.3, EmotionalWeight: 0.2,
		PruneThreshold: 0.05, SweepIntervalMinutes: 60,
	},
	Consolidation: ConsolidationConfig{
		IntervalMinutes: 5, ImportanceThreshold: 0.6, RetrievalThreshold: 3,
		AutoSupersedeConfidenceDelta: 0.15, IdleThresholdSeconds: 300, CPUThresholdPercent: 20,
		ReviewInboxPath: "~/.ethos/review-inbox.md",
	},
	Reembed: ReembedConfig{IntervalSeconds: 30, BatchSize: 50},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults to
// unset fields, and validates the result. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := defaults
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; non-fatal oddities
// are logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, validLogLevels))
	}

	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required"))
	}
	if cfg.Storage.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("storage.embedding_dimensions must be positive"))
	}

	if cfg.Embedding.Primary.Name == "" {
		errs = append(errs, errors.New("embedding.primary.name is required"))
	}
	if cfg.Embedding.Primary.Name == "openai" && cfg.Embedding.Primary.APIKey == "" {
		slog.Warn("embedding.primary is openai but no api_key is set; construction will fail at startup")
	}

	if cfg.Retrieval.MaxLimit < cfg.Retrieval.DefaultLimit {
		errs = append(errs, fmt.Errorf("retrieval.max_limit (%d) must be >= retrieval.default_limit (%d)", cfg.Retrieval.MaxLimit, cfg.Retrieval.DefaultLimit))
	}

	if cfg.Decay.BaseTauDays <= 0 {
		errs = append(errs, errors.New("decay.base_tau_days must be positive"))
	}
	if cfg.Decay.LTPMultiplier < 1 {
		slog.Warn("decay.ltp_multiplier below 1.0 means retrieval accelerates decay instead of protecting memory", "value", cfg.Decay.LTPMultiplier)
	}

	if cfg.Consolidation.AutoSupersedeConfidenceDelta <= 0 || cfg.Consolidation.AutoSupersedeConfidenceDelta > 1 {
		errs = append(errs, fmt.Errorf("consolidation.auto_supersede_confidence_delta (%.2f) must be in (0, 1]", cfg.Consolidation.AutoSupersedeConfidenceDelta))
	}
	if cfg.Consolidation.ReviewInboxPath == "" {
		errs = append(errs, errors.New("consolidation.review_inbox_path is required"))
	}

	if cfg.Reembed.Enabled && cfg.Reembed.BatchSize <= 0 {
		errs = append(errs, errors.New("reembed.batch_size must be positive when reembed.enabled is true"))
	}

	return errors.Join(errs...)
}
