// Package statestore persists interactive-language session snapshots
// across two tiers: a hot Redis tier for recently active sessions and
// a cold object-storage tier for archived ones, with an Archivist loop
// that moves entries between them on an access-age threshold.
package statestore

import (
	"context"
	"time"

	appErr "coderunner/pkg/errors"
)

// MaxSnapshotBytes bounds a session snapshot accepted by Save.
const MaxSnapshotBytes = 50 * 1024 * 1024

// HotTier is the fast, short-TTL snapshot tier.
type HotTier interface {
	Save(ctx context.Context, sessionID string, data []byte, ttl time.Duration) error
	Load(ctx context.Context, sessionID string) ([]byte, error) // NotFound-class error on miss
	Delete(ctx context.Context, sessionID string) error
	// LastAccessed returns the most recent Load/Save time recorded for
	// sessionID, used by the Archivist to find cold candidates.
	LastAccessed(ctx context.Context, sessionID string) (time.Time, error)
	// ListStale returns session IDs whose last access predates cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ColdTier is the durable, long-TTL archive tier.
type ColdTier interface {
	Archive(ctx context.Context, sessionID string, data []byte, ttl time.Duration) error
	Restore(ctx context.Context, sessionID string) ([]byte, error) // NotFound-class error on miss
}

// Store is the Orchestrator-facing facade: Load transparently falls
// through hot to cold and re-populates hot on a cold hit, matching
// spec.md §4.7's "Load always returns the most recent Save across
// tiers; ties are resolved by hot" invariant.
type Store struct {
	hot              HotTier
	cold             ColdTier
	hotTTL           time.Duration
	coldTTL          time.Duration
	maxSnapshotBytes int64
}

// Config controls default TTLs and size limits applied by Save/Archive.
type Config struct {
	HotTTL           time.Duration
	ColdTTL          time.Duration
	MaxSnapshotBytes int64
}

// New builds a Store.
func New(hot HotTier, cold ColdTier, cfg Config) *Store {
	if cfg.HotTTL <= 0 {
		cfg.HotTTL = 2 * time.Hour
	}
	if cfg.ColdTTL <= 0 {
		cfg.ColdTTL = 24 * time.Hour
	}
	if cfg.MaxSnapshotBytes <= 0 {
		cfg.MaxSnapshotBytes = MaxSnapshotBytes
	}
	return &Store{hot: hot, cold: cold, hotTTL: cfg.HotTTL, coldTTL: cfg.ColdTTL, maxSnapshotBytes: cfg.MaxSnapshotBytes}
}

// Save writes a snapshot to the hot tier with the store's configured
// TTL. Oversized snapshots are rejected without touching either tier.
func (s *Store) Save(ctx context.Context, sessionID string, data []byte) error {
	if int64(len(data)) > s.maxSnapshotBytes {
		return appErr.New(appErr.StateTooLarge).WithDetail("session_id", sessionID).
			WithMessagef("snapshot exceeds max size of %d bytes", s.maxSnapshotBytes)
	}
	return s.hot.Save(ctx, sessionID, data, s.hotTTL)
}

// Load reads a snapshot, falling through to the cold tier on a hot
// miss and re-populating hot with a fresh TTL on a cold hit.
func (s *Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := s.hot.Load(ctx, sessionID)
	if err == nil {
		return data, nil
	}
	if !appErr.Is(err, appErr.NotFound) && !appErr.Is(err, appErr.SessionNotFound) {
		return nil, err
	}

	data, err = s.cold.Restore(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if saveErr := s.hot.Save(ctx, sessionID, data, s.hotTTL); saveErr != nil {
		return data, nil // a repopulation failure must not fail the Load
	}
	return data, nil
}

// Delete removes a session from the hot tier only, matching spec.md
// §4.7's hot-tier Delete contract.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.hot.Delete(ctx, sessionID)
}

// ArchiveStale moves every hot entry whose last access predates cutoff
// to the cold tier, write-then-delete: a crash between the two steps
// leaves a harmless duplicate rather than data loss.
func (s *Store) ArchiveStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.hot.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, sessionID := range stale {
		data, err := s.hot.Load(ctx, sessionID)
		if err != nil {
			continue
		}
		if err := s.cold.Archive(ctx, sessionID, data, s.coldTTL); err != nil {
			continue
		}
		if err := s.hot.Delete(ctx, sessionID); err != nil {
			continue
		}
		moved++
	}
	return moved, nil
}
