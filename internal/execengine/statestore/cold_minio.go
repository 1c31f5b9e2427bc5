package statestore

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"strings"
	"time"

	"coderunner/internal/common/storage"
	appErr "coderunner/pkg/errors"
)

const archiveKeyPrefix = "state-archive/"

// objectStore is the narrow slice of storage.ObjectStorage plus the
// single-shot PutObject the cold tier needs; storage.MinIOStorage
// satisfies it directly.
type objectStore interface {
	storage.ObjectStorage
	PutObject(ctx context.Context, bucket, objectKey string, reader storage.ObjectReader, sizeBytes int64, contentType string) error
}

// MinIOColdTier implements ColdTier on an S3-compatible object store.
// Object storage has no native per-key TTL without bucket lifecycle
// rules, so ttl is enforced here instead: each archived payload is
// prefixed with an 8-byte expiry timestamp, checked lazily on Restore.
type MinIOColdTier struct {
	store  objectStore
	bucket string
}

// NewMinIOColdTier wraps an existing object store client.
func NewMinIOColdTier(store objectStore, bucket string) *MinIOColdTier {
	return &MinIOColdTier{store: store, bucket: bucket}
}

func (c *MinIOColdTier) Archive(ctx context.Context, sessionID string, data []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).UnixNano()
	body := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(body[:8], uint64(expiresAt))
	copy(body[8:], data)

	key := archiveKeyPrefix + sessionID
	err := c.store.PutObject(ctx, c.bucket, key, io.NopCloser(bytes.NewReader(body)), int64(len(body)), "application/octet-stream")
	if err != nil {
		return appErr.Wrap(err, appErr.StorageUnavailable).WithMessage("archive session state to cold tier")
	}
	return nil
}

// Ping reports whether the cold tier is reachable, for health checks.
// A missing marker object is the expected case, not a failure; only a
// transport-level error counts as unreachable.
func (c *MinIOColdTier) Ping(ctx context.Context) error {
	_, err := c.store.StatObject(ctx, c.bucket, archiveKeyPrefix+"_health")
	if err == nil || strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "key does not exist") {
		return nil
	}
	return appErr.Wrap(err, appErr.StorageUnavailable).WithMessage("ping cold tier")
}

func (c *MinIOColdTier) Restore(ctx context.Context, sessionID string) ([]byte, error) {
	key := archiveKeyPrefix + sessionID
	reader, err := c.store.GetObject(ctx, c.bucket, key)
	if err != nil {
		return nil, appErr.New(appErr.SessionNotFound).WithDetail("session_id", sessionID)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.StorageUnavailable).WithMessage("read archived session state")
	}
	if len(body) < 8 {
		return nil, appErr.New(appErr.StateDecodeFailed).WithMessage("archived snapshot envelope truncated")
	}

	expiresAt := int64(binary.BigEndian.Uint64(body[:8]))
	if time.Now().UnixNano() > expiresAt {
		return nil, appErr.New(appErr.SessionNotFound).WithDetail("session_id", sessionID).WithMessage("archived snapshot expired")
	}
	return body[8:], nil
}
