package config_test

import (
	"strings"
	"testing"

	"github.com/modernmethod/ethos/internal/config"
)

const minimalYAML = `
server:
  listen_addr: ":8080"
  log_level: info
storage:
  postgres_dsn: "postgres://localhost/ethos"
  embedding_dimensions: 1536
embedding:
  primary:
    name: openai
    api_key: sk-test
`

func TestLoadFromReader_MinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Decay.BaseTauDays != 7 {
		t.Errorf("decay.base_tau_days default = %v, want 7", cfg.Decay.BaseTauDays)
	}
	if cfg.Decay.LTPMultiplier != 1.5 {
		t.Errorf("decay.ltp_multiplier default = %v, want 1.5", cfg.Decay.LTPMultiplier)
	}
	if cfg.Consolidation.AutoSupersedeConfidenceDelta != 0.15 {
		t.Errorf("consolidation.auto_supersede_confidence_delta default = %v, want 0.15", cfg.Consolidation.AutoSupersedeConfidenceDelta)
	}
	if cfg.Retrieval.MaxLimit != 20 {
		t.Errorf("retrieval.max_limit default = %v, want 20", cfg.Retrieval.MaxLimit)
	}
	if cfg.Consolidation.ReviewInboxPath == "" {
		t.Error("consolidation.review_inbox_path default should not be empty")
	}
}

func TestLoadFromReader_OverridesDefaults(t *testing.T) {
	const yamlDoc = minimalYAML + `
decay:
  base_tau_days: 14
retrieval:
  max_limit: 50
  default_limit: 10
`
	cfg, err := config.LoadFromReader(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Decay.BaseTauDays != 14 {
		t.Errorf("decay.base_tau_days = %v, want 14 (override)", cfg.Decay.BaseTauDays)
	}
	if cfg.Retrieval.MaxLimit != 50 {
		t.Errorf("retrieval.max_limit = %v, want 50 (override)", cfg.Retrieval.MaxLimit)
	}
}

func TestLoadFromReader_FallbackEmbeddingParses(t *testing.T) {
	yamlDoc := strings.Replace(minimalYAML, "embedding:\n", "embedding:\n  fallback:\n    name: local\n", 1)
	cfg, err := config.LoadFromReader(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Embedding.Fallback == nil {
		t.Fatal("expected a non-nil fallback entry")
	}
	if cfg.Embedding.Fallback.Name != "local" {
		t.Errorf("embedding.fallback.name = %q, want \"local\"", cfg.Embedding.Fallback.Name)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	const yamlDoc = minimalYAML + "\nbogus_top_level: true\n"
	if _, err := config.LoadFromReader(strings.NewReader(yamlDoc)); err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestLoadFromReader_RejectsMissingPostgresDSN(t *testing.T) {
	const yamlDoc = `
embedding:
  primary:
    name: local
`
	if _, err := config.LoadFromReader(strings.NewReader(yamlDoc)); err == nil {
		t.Fatal("expected an error for a missing storage.postgres_dsn")
	}
}

func TestLoadFromReader_RejectsInvalidLogLevel(t *testing.T) {
	const yamlDoc = `
server:
  log_level: loud
storage:
  postgres_dsn: "postgres://localhost/ethos"
embedding:
  primary:
    name: local
`
	if _, err := config.LoadFromReader(strings.NewReader(yamlDoc)); err == nil {
		t.Fatal("expected an error for an invalid log level")
	}
}

func TestLoadFromReader_RejectsMissingEmbeddingPrimaryName(t *testing.T) {
	const yamlDoc = `
storage:
  postgres_dsn: "postgres://localhost/ethos"
`
	if _, err := config.LoadFromReader(strings.NewReader(yamlDoc)); err == nil {
		t.Fatal("expected an error for a missing embedding.primary.name")
	}
}

func TestLoadFromReader_RejectsMaxLimitBelowDefaultLimit(t *testing.T) {
	const yamlDoc = minimalYAML + `
retrieval:
  default_limit: 30
  max_limit: 10
`
	if _, err := config.LoadFromReader(strings.NewReader(yamlDoc)); err == nil {
		t.Fatal("expected an error when max_limit < default_limit")
	}
}

func TestLoadFromReader_RejectsAutoSupersedeDeltaOutOfRange(t *testing.T) {
	const yamlDoc = minimalYAML + `
consolidation:
  auto_supersede_confidence_delta: 1.5
`
	if _, err := config.LoadFromReader(strings.NewReader(yamlDoc)); err == nil {
		t.Fatal("expected an error for an out-of-range auto_supersede_confidence_delta")
	}
}

func TestLoadFromReader_RejectsReembedEnabledWithoutBatchSize(t *testing.T) {
	const yamlDoc = minimalYAML + `
reembed:
  enabled: true
  batch_size: 0
`
	if _, err := config.LoadFromReader(strings.NewReader(yamlDoc)); err == nil {
		t.Fatal("expected an error when reembed is enabled with batch_size <= 0")
	}
}

func TestLoadFromReader_ReturnsJoinedErrorsForMultipleFailures(t *testing.T) {
	const yamlDoc = `
server:
  log_level: deafening
`
	_, err := config.LoadFromReader(strings.NewReader(yamlDoc))
	if err == nil {
		t.Fatal("expected an error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log_level") {
		t.Errorf("expected joined error to mention log_level, got: %s", msg)
	}
	if !strings.Contains(msg, "postgres_dsn") {
		t.Errorf("expected joined error to mention postgres_dsn, got: %s", msg)
	}
}
