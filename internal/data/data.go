// Package data provides the storage backends and outbound clients used by biz.
package data

import (
	"InsightLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
)

// Data contains the shared connections of the data layer.
type Data struct {
	// rdb backs the cache and personal layers and the circuit snapshots
	rdb *redis.Client
	// db backs the archive layer; nil when no database is configured
	db    *gorm.DB
	cache CacheClient
}

// NewData creates a Data instance. Missing Redis or MySQL connections do not prevent
// startup; the layers that need them fall back to in-process storage.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB, cache CacheClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, redis-backed layers will use memory")
	}
	if db == nil {
		helper.Warn("MySQL client is nil, the archive layer will use memory")
	}

	d := &Data{
		rdb:   rdb,
		db:    db,
		cache: cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// GetCache returns the cache client.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the Redis client, or nil.
func (d *Data) GetRedisClient() *redis.Client {
	return d.rdb
}

// GetDB returns the MySQL client, or nil.
func (d *Data) GetDB() *gorm.DB {
	return d.db
}
