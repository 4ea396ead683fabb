package data

import (
	"context"
	"errors"
	"time"

	"InsightLane/internal/model"
	pkglog "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// RedisLayer stores entries as JSON under tier:{layer}:{storageID} with a native TTL.
// An entry read past its ExpiresAt is deleted even if Redis still holds it.
type RedisLayer struct {
	layer  model.Layer
	cache  CacheClient
	now    func() time.Time
	logger *pkglog.LogHelper
}

// NewRedisLayer creates the Redis backend of one layer.
func NewRedisLayer(layer model.Layer, cache CacheClient, logger log.Logger) *RedisLayer {
	return &RedisLayer{
		layer:  layer,
		cache:  cache,
		now:    time.Now,
		logger: pkglog.NewLogHelper(logger),
	}
}

func (l *RedisLayer) key(storageID string) string {
	return BuildCacheKey(CacheKeyTier, l.layer.String(), storageID)
}

func (l *RedisLayer) Put(ctx context.Context, entry *model.StorageEntry) error {
	start := time.Now()
	key := l.key(entry.Key)
	if err := l.cache.Set(ctx, key, entry, entry.TTL); err != nil {
		return err
	}
	l.logger.Redis("SET", "key", key, "ttl", entry.TTL.String(), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (l *RedisLayer) Get(ctx context.Context, storageID string) (*model.StorageEntry, error) {
	key := l.key(storageID)
	var entry model.StorageEntry
	if err := l.cache.Get(ctx, key, &entry); err != nil {
		if errors.Is(err, ErrCacheNotFound) {
			return nil, model.ErrEntryNotFound
		}
		return nil, err
	}
	if entry.Expired(l.now()) {
		if err := l.cache.Delete(ctx, key); err != nil {
			l.logger.Warnw("msg", "failed to delete expired entry", "key", key, "error", err, "type", "redis")
		} else {
			l.logger.Redis("DEL", "key", key, "reason", "expired")
		}
		return nil, model.ErrEntryNotFound
	}
	return &entry, nil
}
