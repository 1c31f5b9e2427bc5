package statestore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErr "coderunner/pkg/errors"
)

const (
	stateKeyPrefix      = "state:"
	lastAccessKeyPrefix = "state:access:"
	staleIndexKey       = "state:access-index"
	lastAccessClockSkew = time.Minute
)

// RedisHotTier implements HotTier on top of go-redis, grounded on the
// reference's RedisCache wrapper: redis.Nil is translated into a typed
// not-found rather than surfaced as a raw driver error.
type RedisHotTier struct {
	client *redis.Client
}

// NewRedisHotTier wraps an existing redis.Client.
func NewRedisHotTier(client *redis.Client) *RedisHotTier {
	return &RedisHotTier{client: client}
}

func (h *RedisHotTier) Save(ctx context.Context, sessionID string, data []byte, ttl time.Duration) error {
	key := stateKeyPrefix + sessionID
	if err := h.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return appErr.Wrap(err, appErr.StorageUnavailable).WithMessage("save session state to hot tier")
	}
	return h.touchAccess(ctx, sessionID, ttl)
}

func (h *RedisHotTier) Load(ctx context.Context, sessionID string) ([]byte, error) {
	key := stateKeyPrefix + sessionID
	data, err := h.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, appErr.New(appErr.SessionNotFound).WithDetail("session_id", sessionID)
	}
	if err != nil {
		return nil, appErr.Wrap(err, appErr.StorageUnavailable).WithMessage("load session state from hot tier")
	}
	ttl, err := h.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = 2 * time.Hour
	}
	_ = h.touchAccess(ctx, sessionID, ttl)
	return data, nil
}

func (h *RedisHotTier) Delete(ctx context.Context, sessionID string) error {
	if err := h.client.Del(ctx, stateKeyPrefix+sessionID, lastAccessKeyPrefix+sessionID).Err(); err != nil {
		return appErr.Wrap(err, appErr.StorageUnavailable).WithMessage("delete session state from hot tier")
	}
	return h.client.ZRem(ctx, staleIndexKey, sessionID).Err()
}

func (h *RedisHotTier) LastAccessed(ctx context.Context, sessionID string) (time.Time, error) {
	score, err := h.client.ZScore(ctx, staleIndexKey, sessionID).Result()
	if err == redis.Nil {
		return time.Time{}, appErr.New(appErr.SessionNotFound).WithDetail("session_id", sessionID)
	}
	if err != nil {
		return time.Time{}, appErr.Wrap(err, appErr.StorageUnavailable).WithMessage("read last access time")
	}
	return time.Unix(0, int64(score)), nil
}

// ListStale returns session IDs in the access index whose recorded
// access time predates cutoff. Entries are indexed in a sorted set
// keyed by access timestamp so this is a single range query rather
// than a full keyspace scan.
func (h *RedisHotTier) ListStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := h.client.ZRangeByScore(ctx, staleIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.UnixNano()),
	}).Result()
	if err != nil {
		return nil, appErr.Wrap(err, appErr.StorageUnavailable).WithMessage("scan stale session index")
	}
	return ids, nil
}

// Ping reports whether the hot tier is reachable, for health checks.
func (h *RedisHotTier) Ping(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		return appErr.Wrap(err, appErr.StorageUnavailable).WithMessage("ping hot tier")
	}
	return nil
}

func (h *RedisHotTier) touchAccess(ctx context.Context, sessionID string, ttl time.Duration) error {
	now := time.Now()
	pipe := h.client.TxPipeline()
	pipe.ZAdd(ctx, staleIndexKey, redis.Z{Score: float64(now.UnixNano()), Member: sessionID})
	pipe.Set(ctx, lastAccessKeyPrefix+sessionID, now.UnixNano(), ttl+lastAccessClockSkew)
	if _, err := pipe.Exec(ctx); err != nil {
		return appErr.Wrap(err, appErr.StorageUnavailable).WithMessage("record last access time")
	}
	return nil
}
