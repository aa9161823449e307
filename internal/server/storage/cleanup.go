package storage

import (
	"context"
	"log/slog"
	"time"

	"squash/internal/server/metrics"
)

// Reaper periodically removes files that outlived maxAge from the staging
// namespaces: outputs that were never downloaded and leftovers from crashed
// requests.
type Reaper struct {
	stores   map[string]Store
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	done     chan struct{}
}

// NewReaper creates a reaper over the given namespaces, keyed by a name used
// in logs and metrics.
func NewReaper(stores map[string]Store, interval, maxAge time.Duration) *Reaper {
	return &Reaper{
		stores:   stores,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (r *Reaper) Start(ctx context.Context) {
	slog.Info("reaper started", "interval", r.interval, "max_age", r.maxAge)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		// Run once immediately on start
		r.RunOnce()

		for {
			select {
			case <-ticker.C:
				r.RunOnce()
			case <-ctx.Done():
				slog.Info("reaper stopping")
				close(r.done)
				return
			}
		}
	}()
}

// Wait blocks until the reaper has fully stopped.
func (r *Reaper) Wait() {
	<-r.done
}

// RunOnce performs a single sweep over every namespace and returns the
// number of files removed.
func (r *Reaper) RunOnce() int {
	cutoff := r.now().Add(-r.maxAge)

	var total int
	for name, store := range r.stores {
		removed, err := store.Sweep(cutoff)
		if err != nil {
			slog.Error("failed to sweep namespace", "namespace", name, "error", err)
		}
		if removed > 0 {
			metrics.FilesReaped.WithLabelValues(name).Add(float64(removed))
			slog.Info("reaped orphaned files", "namespace", name, "removed", removed)
		}
		total += removed
	}
	return total
}
