package api

import (
	"context"

	"coderunner/internal/execengine/pool"
)

// HotTierPinger and ColdTierPinger are the narrow health-check seams
// onto statestore's two tiers; statestore.RedisHotTier and
// statestore.MinIOColdTier satisfy them directly.
type HotTierPinger interface {
	Ping(ctx context.Context) error
}

type ColdTierPinger interface {
	Ping(ctx context.Context) error
}

// PoolStats is the subset of pool.Pool's health surface used here.
type PoolStats interface {
	Stats() map[string]pool.LanguageStats
}

// StoreHealthChecker implements HealthChecker against the real hot/cold
// tiers and sandbox pool.
type StoreHealthChecker struct {
	Hot  HotTierPinger
	Cold ColdTierPinger
	Pool PoolStats
}

// CheckHealth pings both state-store tiers and reports pool
// utilization per language.
func (h *StoreHealthChecker) CheckHealth(ctx context.Context) Health {
	status := Health{HotStoreOK: true, ColdStoreOK: true}
	if h.Hot != nil {
		status.HotStoreOK = h.Hot.Ping(ctx) == nil
	}
	if h.Cold != nil {
		status.ColdStoreOK = h.Cold.Ping(ctx) == nil
	}
	if h.Pool != nil {
		status.PoolUtilization = make(map[string]int)
		for lang, s := range h.Pool.Stats() {
			status.PoolUtilization[lang] = s.Ready
			status.InterpreterWarm += s.Ready
		}
	}
	return status
}
