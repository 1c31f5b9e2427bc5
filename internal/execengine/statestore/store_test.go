package statestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"coderunner/internal/execengine/statestore"
	appErr "coderunner/pkg/errors"
)

type fakeColdTier struct {
	data map[string][]byte
}

func newFakeColdTier() *fakeColdTier {
	return &fakeColdTier{data: make(map[string][]byte)}
}

func (c *fakeColdTier) Archive(ctx context.Context, sessionID string, data []byte, ttl time.Duration) error {
	c.data[sessionID] = data
	return nil
}

func (c *fakeColdTier) Restore(ctx context.Context, sessionID string) ([]byte, error) {
	data, ok := c.data[sessionID]
	if !ok {
		return nil, appErr.New(appErr.SessionNotFound).WithDetail("session_id", sessionID)
	}
	return data, nil
}

func newHotTier(t *testing.T) *statestore.RedisHotTier {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return statestore.NewRedisHotTier(client)
}

func TestSaveThenLoadHitsHotTier(t *testing.T) {
	store := statestore.New(newHotTier(t), newFakeColdTier(), statestore.Config{})
	ctx := context.Background()

	if err := store.Save(ctx, "s1", []byte("payload")); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("expected payload, got %q", data)
	}
}

func TestLoadFallsThroughToColdOnHotMiss(t *testing.T) {
	cold := newFakeColdTier()
	cold.data["s2"] = []byte("archived")
	store := statestore.New(newHotTier(t), cold, statestore.Config{})
	ctx := context.Background()

	data, err := store.Load(ctx, "s2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != "archived" {
		t.Fatalf("expected archived, got %q", data)
	}

	// a cold hit must repopulate hot with a fresh TTL
	data, err = store.Load(ctx, "s2")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if string(data) != "archived" {
		t.Fatalf("expected archived on second load, got %q", data)
	}
}

func TestLoadMissOnBothTiersReturnsNotFound(t *testing.T) {
	store := statestore.New(newHotTier(t), newFakeColdTier(), statestore.Config{})
	_, err := store.Load(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestSaveRejectsOversizedSnapshot(t *testing.T) {
	store := statestore.New(newHotTier(t), newFakeColdTier(), statestore.Config{})
	oversized := make([]byte, statestore.MaxSnapshotBytes+1)
	err := store.Save(context.Background(), "s3", oversized)
	if !appErr.Is(err, appErr.StateTooLarge) {
		t.Fatalf("expected StateTooLarge, got %v", err)
	}
}

func TestArchiveStaleMovesAgedEntries(t *testing.T) {
	cold := newFakeColdTier()
	hot := newHotTier(t)
	store := statestore.New(hot, cold, statestore.Config{})
	ctx := context.Background()

	if err := store.Save(ctx, "s4", []byte("data")); err != nil {
		t.Fatalf("save: %v", err)
	}

	moved, err := store.ArchiveStale(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("archive stale: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 moved entry, got %d", moved)
	}
	if _, ok := cold.data["s4"]; !ok {
		t.Fatal("expected session archived to cold tier")
	}
	if _, err := hot.Load(ctx, "s4"); err == nil {
		t.Fatal("expected hot entry removed after archival")
	}
}
