// Package biz contains the gateway, resilience and pipeline logic.
package biz

import (
	"context"
	"time"

	"InsightLane/internal/conf"
	"InsightLane/internal/data"
	"InsightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewServiceRegistry,
	NewGateway,
	NewRetryOrchestrator,
	NewStorageLayers,
	NewTieredStore,
	NewPipelineUsecase,
	// data layer implementations of biz interfaces
	data.NewHTTPServiceCaller,
	data.NewCircuitEventNotifier,
	data.NewRunStore,
	wire.Bind(new(ServiceCaller), new(*data.HTTPServiceCaller)),
	wire.Bind(new(CircuitEventNotifier), new(*data.CircuitEventNotifier)),
	wire.Bind(new(RunRepo), new(*data.RunStore)),
)

// Storage backends.
const (
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

const migrateTimeout = 10 * time.Second

// NewStorageLayers builds the three layers from config. Layers 1 and 2 default to
// Redis and layer 3 to MySQL; a layer whose backend has no connection falls back to
// an in-process memory layer.
func NewStorageLayers(c *conf.Storage, d *data.Data, logger log.Logger) (*StorageLayers, error) {
	helper := log.NewHelper(logger)
	if c == nil {
		c = &conf.Storage{}
	}

	build := func(layer model.Layer, lc *conf.Storage_Layer, fallback string) (StorageLayer, error) {
		backend, capacity := fallback, 0
		if lc != nil {
			if lc.Backend != "" {
				backend = lc.Backend
			}
			capacity = int(lc.Capacity)
		}

		switch backend {
		case BackendRedis:
			if d == nil || d.GetRedisClient() == nil {
				helper.Warnf("layer %s: redis unavailable, using memory", layer)
				return data.NewMemoryLayer(capacity), nil
			}
			return data.NewRedisLayer(layer, d.GetCache(), logger), nil
		case BackendMySQL:
			if d == nil || d.GetDB() == nil {
				helper.Warnf("layer %s: mysql unavailable, using memory", layer)
				return data.NewMemoryLayer(capacity), nil
			}
			archive := data.NewArchiveLayer(d.GetDB(), logger)
			ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
			defer cancel()
			if err := archive.Migrate(ctx); err != nil {
				return nil, newInvalidConfigError("layer %s: migrate archive table: %v", layer, err)
			}
			return archive, nil
		case BackendMemory:
			return data.NewMemoryLayer(capacity), nil
		default:
			return nil, newInvalidConfigError("layer %s: unknown storage backend %q", layer, backend)
		}
	}

	cache, err := build(model.LayerCache, c.Layer1, BackendRedis)
	if err != nil {
		return nil, err
	}
	personal, err := build(model.LayerPersonal, c.Layer2, BackendRedis)
	if err != nil {
		return nil, err
	}
	archive, err := build(model.LayerArchive, c.Layer3, BackendMySQL)
	if err != nil {
		return nil, err
	}
	return &StorageLayers{Cache: cache, Personal: personal, Archive: archive}, nil
}
