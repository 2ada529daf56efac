package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded — the background workers'
// tunables and the log level — are tracked; storage and embedding backend
// selection require a restart and are intentionally not diffed.
type ConfigDiff struct {
	LogLevelChanged      bool
	NewLogLevel          string
	RetrievalChanged     bool
	NewRetrieval         RetrievalConfig
	DecayChanged         bool
	NewDecay             DecayConfig
	ConsolidationChanged bool
	NewConsolidation     ConsolidationConfig
	ReembedChanged       bool
	NewReembed           ReembedConfig
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Retrieval != new.Retrieval {
		d.RetrievalChanged = true
		d.NewRetrieval = new.Retrieval
	}
	if old.Decay != new.Decay {
		d.DecayChanged = true
		d.NewDecay = new.Decay
	}
	if old.Consolidation != new.Consolidation {
		d.ConsolidationChanged = true
		d.NewConsolidation = new.Consolidation
	}
	if old.Reembed != new.Reembed {
		d.ReembedChanged = true
		d.NewReembed = new.Reembed
	}

	return d
}

// Any reports whether the diff carries any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.RetrievalChanged || d.DecayChanged || d.ConsolidationChanged || d.ReembedChanged
}
