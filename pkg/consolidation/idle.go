package consolidation

import (
	"context"
	"runtime"
	"time"

	"github.com/modernmethod/ethos/pkg/store"
)

// IdleConfig holds the thresholds for the idleness predicate.
type IdleConfig struct {
	IdleThresholdSeconds int
	CPUThresholdPercent  float64
}

// loadAverageReader abstracts the platform-specific 1-minute load average
// probe so IsIdle stays testable without a real kernel call.
type loadAverageReader func() (load1 float64, ok bool)

// defaultLoadAverageReader is replaced per-GOOS in load_linux.go /
// load_other.go.
var defaultLoadAverageReader loadAverageReader = readLoadAverage

// IsIdle implements the conservative idleness predicate from spec §4.G:
// not idle unless there has been no session activity within
// IdleThresholdSeconds AND (the load average is unreadable, or
// load1/NumCPU*100 <= CPUThresholdPercent). A probe failure never makes the
// system look idle — it only skips the CPU half of the check.
func IsIdle(ctx context.Context, sessions store.SessionStore, cfg IdleConfig) (bool, error) {
	recent, err := sessions.HasRecentActivity(ctx, time.Duration(cfg.IdleThresholdSeconds)*time.Second)
	if err != nil {
		return false, err
	}
	if recent {
		return false, nil
	}

	load1, ok := defaultLoadAverageReader()
	if !ok {
		return true, nil
	}
	cpuPercent := (load1 / float64(runtime.NumCPU())) * 100
	return cpuPercent <= cfg.CPUThresholdPercent, nil
}
