package biz

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"InsightLane/internal/conf"
	"InsightLane/internal/model"
	pkgerrors "InsightLane/pkg/errors"
	pkglog "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

const (
	day = 24 * time.Hour

	// Upper bounds of the ranges served by the cache and personal layers.
	cacheRangeLimit    = 24 * time.Hour
	personalRangeLimit = 31 * day

	layerStatusStored = "stored"
	// layerStatusRetryable prefixes transient layer failures.
	layerStatusRetryable = "retryable: "
)

// StorageLayer is one independently keyed store.
type StorageLayer interface {
	Put(ctx context.Context, entry *model.StorageEntry) error
	// Get returns model.ErrEntryNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (*model.StorageEntry, error)
}

// ExpiredPurger is implemented by layers that keep expired entries until swept.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// StorageLayers groups the three layers of a TieredStore.
type StorageLayers struct {
	Cache    StorageLayer
	Personal StorageLayer
	Archive  StorageLayer
}

// LayerTTLs holds one TTL per layer. A zero TTL selects the configured default.
type LayerTTLs struct {
	Layer1 time.Duration `json:"layer1"`
	Layer2 time.Duration `json:"layer2"`
	Layer3 time.Duration `json:"layer3"`
}

func (t LayerTTLs) forLayer(l model.Layer) time.Duration {
	switch l {
	case model.LayerCache:
		return t.Layer1
	case model.LayerPersonal:
		return t.Layer2
	default:
		return t.Layer3
	}
}

// RetrieveResult is the payload found for a query and the layer that served it.
type RetrieveResult struct {
	StorageID   string          `json:"storage_id"`
	Data        json.RawMessage `json:"data"`
	SourceLayer model.Layer     `json:"source_layer"`
	LayerName   string          `json:"layer_name"`
	StoredAt    time.Time       `json:"stored_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// TieredStore writes every payload to three layers and reads from the one layer
// matching the recency of a query.
type TieredStore struct {
	layers   map[model.Layer]StorageLayer
	defaults LayerTTLs
	now      func() time.Time
	logger   *pkglog.LogHelper
}

// NewTieredStore creates a TieredStore with the configured default TTLs.
func NewTieredStore(layers *StorageLayers, c *conf.Storage, logger log.Logger) *TieredStore {
	s := &TieredStore{
		layers: map[model.Layer]StorageLayer{
			model.LayerCache:    layers.Cache,
			model.LayerPersonal: layers.Personal,
			model.LayerArchive:  layers.Archive,
		},
		defaults: LayerTTLs{Layer1: time.Hour, Layer2: 7 * day, Layer3: 7 * 365 * day},
		now:      time.Now,
		logger:   pkglog.NewLogHelper(logger),
	}
	if c != nil {
		if c.Layer1 != nil && c.Layer1.Ttl != nil {
			s.defaults.Layer1 = c.Layer1.Ttl.AsDuration()
		}
		if c.Layer2 != nil && c.Layer2.Ttl != nil {
			s.defaults.Layer2 = c.Layer2.Ttl.AsDuration()
		}
		if c.Layer3 != nil && c.Layer3.Ttl != nil {
			s.defaults.Layer3 = c.Layer3.Ttl.AsDuration()
		}
	}
	return s
}

// DefaultTTLs returns the configured per-layer TTLs.
func (s *TieredStore) DefaultTTLs() LayerTTLs {
	return s.defaults
}

// Store writes data to all three layers concurrently. The receipt reports each
// layer; an error is returned only when every layer failed.
func (s *TieredStore) Store(ctx context.Context, id string, data any, ttls LayerTTLs) (*model.StorageReceipt, error) {
	if id == "" {
		return nil, newInvalidArgumentError("storage id is required")
	}
	if ttls.Layer1 < 0 || ttls.Layer2 < 0 || ttls.Layer3 < 0 {
		return nil, newInvalidArgumentError("storage TTLs must not be negative")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, newInvalidArgumentError("payload is not JSON serializable: %v", err)
	}

	now := s.now().UTC()
	receipt := &model.StorageReceipt{
		StorageID: id,
		Layers:    make(map[string]string, len(s.layers)),
		StoredAt:  now,
	}

	var (
		mu       sync.Mutex
		failures []error
		eg       errgroup.Group
	)
	for _, l := range []model.Layer{model.LayerCache, model.LayerPersonal, model.LayerArchive} {
		ttl := ttls.forLayer(l)
		if ttl == 0 {
			ttl = s.defaults.forLayer(l)
		}
		entry := &model.StorageEntry{
			Key:       id,
			Layer:     l,
			Data:      payload,
			TTL:       ttl,
			StoredAt:  now,
			ExpiresAt: now.Add(ttl),
		}
		eg.Go(func() error {
			err := s.layers[l].Put(ctx, entry)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				receipt.Layers[l.String()] = layerFailureStatus(err)
				failures = append(failures, fmt.Errorf("layer %s: %w", l, err))
				return nil
			}
			receipt.Layers[l.String()] = layerStatusStored
			return nil
		})
	}
	_ = eg.Wait()

	if len(failures) == len(s.layers) {
		return nil, ErrStorageUnavailable.WithCause(stderrors.Join(failures...))
	}
	if len(failures) > 0 {
		s.logger.Warnw("msg", "tiered write partially failed", "storage_id", id, "error", stderrors.Join(failures...), "type", "storage")
	}
	s.logger.Storage("tiered write", "storage_id", id, "bytes", len(payload), "failed_layers", len(failures))
	return receipt, nil
}

// Retrieve reads the payload stored under StorageKey(ownerID, kind) from the layer
// selected by timeRange. Only that layer is consulted.
func (s *TieredStore) Retrieve(ctx context.Context, ownerID, kind, timeRange string) (*RetrieveResult, error) {
	if ownerID == "" || kind == "" {
		return nil, newInvalidArgumentError("owner and kind are required")
	}
	d, err := ParseTimeRange(timeRange)
	if err != nil {
		return nil, err
	}
	layer := SelectLayer(d)
	key := StorageKey(ownerID, kind)

	entry, err := s.layers[layer].Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, model.ErrEntryNotFound) {
			return nil, ErrStorageNotFound.WithMetadata(map[string]string{"storage_id": key, "layer": layer.String()})
		}
		return nil, ErrStorageUnavailable.WithCause(err).WithMetadata(map[string]string{"layer": layer.String()})
	}
	if entry.Expired(s.now()) {
		return nil, ErrStorageNotFound.WithMetadata(map[string]string{"storage_id": key, "layer": layer.String()})
	}

	return &RetrieveResult{
		StorageID:   key,
		Data:        entry.Data,
		SourceLayer: layer,
		LayerName:   layer.String(),
		StoredAt:    entry.StoredAt,
		ExpiresAt:   entry.ExpiresAt,
	}, nil
}

// PurgeExpired sweeps every layer that implements ExpiredPurger and returns the
// number of entries removed. Layers are swept even when an earlier one fails.
func (s *TieredStore) PurgeExpired(ctx context.Context) (int64, error) {
	var (
		total    int64
		failures []error
	)
	now := s.now().UTC()
	for _, l := range []model.Layer{model.LayerCache, model.LayerPersonal, model.LayerArchive} {
		p, ok := s.layers[l].(ExpiredPurger)
		if !ok {
			continue
		}
		n, err := p.PurgeExpired(ctx, now)
		if err != nil {
			failures = append(failures, fmt.Errorf("layer %s: %w", l, err))
			continue
		}
		total += n
	}
	s.logger.Storage("expired entries purged", "removed", total, "failed_layers", len(failures))
	return total, stderrors.Join(failures...)
}

// layerFailureStatus is the receipt status of a failed layer write. Deadlocks and
// lost connections are marked retryable.
func layerFailureStatus(err error) string {
	if pkgerrors.IsTransientError(err) {
		return layerStatusRetryable + err.Error()
	}
	return err.Error()
}

// StorageKey is the storage id of an owner's payload of one kind.
func StorageKey(ownerID, kind string) string {
	return "analytics:" + ownerID + ":" + kind
}

// SelectLayer maps a query range to a layer: up to 24h is served by the cache,
// up to 31 days by the personal layer, anything longer by the archive.
func SelectLayer(r time.Duration) model.Layer {
	switch {
	case r <= cacheRangeLimit:
		return model.LayerCache
	case r <= personalRangeLimit:
		return model.LayerPersonal
	default:
		return model.LayerArchive
	}
}

var (
	rangePattern = regexp.MustCompile(`^(\d+)(h|d|w|mo|y)$`)
	rangeUnits   = map[string]time.Duration{"h": time.Hour, "d": day, "w": 7 * day, "mo": 30 * day, "y": 365 * day}
)

// ParseTimeRange accepts Nh, Nd, Nw, Nmo (30 days), Ny (365 days) and any positive
// Go duration. Ranges beyond the largest time.Duration are rejected.
func ParseTimeRange(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if m := rangePattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil && n > 0 {
			unit := rangeUnits[m[2]]
			if n > math.MaxInt64/int64(unit) {
				return 0, newInvalidArgumentError("time range %q is too long", s)
			}
			return time.Duration(n) * unit, nil
		}
	} else if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, nil
	}
	return 0, newInvalidArgumentError("invalid time range %q", s)
}
