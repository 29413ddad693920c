package reaper

import (
	"context"
	"log/slog"
	"time"
)

// ProcessRegistry abstracts the process-cleanup operation needed by the reaper.
type ProcessRegistry interface {
	CleanupCompleted() int
}

// PortManager abstracts the port-cleanup operation needed by the reaper.
type PortManager interface {
	CleanupStale() (int, error)
}

// Reaper periodically drops terminal process records past their retention
// window and inactive port entries past their staleness threshold.
type Reaper struct {
	processes ProcessRegistry
	ports     PortManager
	interval  time.Duration
	logger    *slog.Logger
}

func New(processes ProcessRegistry, ports PortManager, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		processes: processes,
		ports:     ports,
		interval:  interval,
		logger:    logger,
	}
}

// Run starts the reaper loop. It blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	if removed := r.processes.CleanupCompleted(); removed > 0 {
		r.logger.Debug("reaper: dropped completed processes", "count", removed)
	}

	removed, err := r.ports.CleanupStale()
	if err != nil {
		r.logger.Error("reaper: cleanup stale ports", "error", err)
		return
	}
	if removed > 0 {
		r.logger.Debug("reaper: dropped stale port entries", "count", removed)
	}
}
