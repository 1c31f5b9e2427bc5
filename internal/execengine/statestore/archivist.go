package statestore

import (
	"context"
	"time"

	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

// ArchivistConfig controls the background archival sweep.
type ArchivistConfig struct {
	Interval       time.Duration
	StaleThreshold time.Duration
}

// Archivist periodically moves hot entries that have aged past a
// threshold into the cold tier, freeing hot-tier capacity for active
// sessions.
type Archivist struct {
	store *Store
	cfg   ArchivistConfig
}

// NewArchivist builds an Archivist bound to store.
func NewArchivist(store *Store, cfg ArchivistConfig) *Archivist {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 30 * time.Minute
	}
	return &Archivist{store: store, cfg: cfg}
}

// Run blocks, sweeping on cfg.Interval until ctx is cancelled.
func (a *Archivist) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *Archivist) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-a.cfg.StaleThreshold)
	moved, err := a.store.ArchiveStale(ctx, cutoff)
	if err != nil {
		logger.Warn(ctx, "archivist sweep failed", zap.Error(err))
		return
	}
	if moved > 0 {
		logger.Info(ctx, "archivist moved stale sessions to cold tier", zap.Int("count", moved))
	}
}
