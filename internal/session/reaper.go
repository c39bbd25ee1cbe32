package session

import (
	"context"
	"log"
	"time"

	"github.com/mindful/upload-service/internal/metrics"
)

// ReaperConfig controls the background loop that evicts idle sessions.
type ReaperConfig struct {
	// SweepPeriod is how often the reaper scans the store.
	SweepPeriod time.Duration

	// InactivityWindow is how long a session may go without a write
	// before it is evicted.
	InactivityWindow time.Duration
}

// DefaultReaperConfig returns the production defaults: sweep once a
// minute, evict sessions idle for more than 30 minutes.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		SweepPeriod:      60 * time.Second,
		InactivityWindow: 30 * time.Minute,
	}
}

// StartReaper runs the eviction loop until ctx is cancelled. Each tick it
// removes every session whose last write is older than the inactivity
// window. Run it in its own goroutine; it blocks.
//
// Non-positive durations in cfg fall back to the defaults, so a zero
// ReaperConfig behaves like DefaultReaperConfig().
func StartReaper(ctx context.Context, store *Store, cfg ReaperConfig) {
	if cfg.SweepPeriod <= 0 {
		cfg.SweepPeriod = DefaultReaperConfig().SweepPeriod
	}
	if cfg.InactivityWindow <= 0 {
		cfg.InactivityWindow = DefaultReaperConfig().InactivityWindow
	}

	ticker := time.NewTicker(cfg.SweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[reaper] stopped")
			return
		case <-ticker.C:
			cutoff := store.now().Add(-cfg.InactivityWindow)
			removed := store.sweep(cutoff)
			if removed > 0 {
				log.Printf("[reaper] evicted %d idle sessions", removed)
				metrics.SessionsEvictedTotal.Add(float64(removed))
			}
			metrics.ActiveSessions.Set(float64(store.Len()))
		}
	}
}
