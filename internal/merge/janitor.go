package merge

import (
	"context"
	"time"

	"github.com/tripletake/tripletake/internal/logger"
)

// JanitorConfig holds configuration for the retention janitor.
type JanitorConfig struct {
	// Interval is how often the janitor sweeps.
	Interval time.Duration
	// Retention is how long terminal groups (and their sessions and chunk
	// data) are kept before being garbage-collected.
	Retention time.Duration
}

// Janitor garbage-collects groups that have been terminal for longer than
// the retention window. Runs in-process alongside the server.
type Janitor struct {
	orc    *Orchestrator
	config JanitorConfig
}

// NewJanitor creates a retention janitor over the orchestrator.
func NewJanitor(orc *Orchestrator, config JanitorConfig) *Janitor {
	return &Janitor{orc: orc, config: config}
}

// Run executes the sweep loop until ctx is cancelled. Sweeps once
// immediately on startup.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

// runOnce executes a single sweep cycle.
func (j *Janitor) runOnce(ctx context.Context) {
	removed := j.orc.Sweep(ctx, j.config.Retention)
	if removed > 0 {
		logger.Info("retention sweep complete",
			"groups_removed", removed,
			"retention", j.config.Retention.String())
	}
}
