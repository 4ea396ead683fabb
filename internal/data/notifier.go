package data

import (
	"context"
	"fmt"

	"InsightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// CircuitEventNotifier records breaker state changes. Each event is logged and the
// latest one per service is kept in Redis under circuit:{service} for operators.
// Snapshots are never read back by the breakers.
type CircuitEventNotifier struct {
	cache  CacheClient
	logger *log.Helper
}

// NewCircuitEventNotifier creates a notifier. Without Redis it only logs.
func NewCircuitEventNotifier(d *Data, logger log.Logger) *CircuitEventNotifier {
	n := &CircuitEventNotifier{logger: log.NewHelper(logger)}
	if d != nil && d.GetRedisClient() != nil {
		n.cache = d.GetCache()
	}
	return n
}

// NotifyStateChange implements biz.CircuitEventNotifier.
func (n *CircuitEventNotifier) NotifyStateChange(ctx context.Context, event *model.CircuitStateChangedEvent) error {
	n.logger.Infow("msg", "circuit state changed",
		"service", event.Service,
		"from", event.From,
		"to", event.To,
		"reason", event.Reason,
		"failure_count", event.FailureCount,
		"type", "circuit",
	)
	if n.cache == nil {
		return nil
	}
	if err := n.cache.Set(ctx, BuildCacheKey(CacheKeyCircuit, event.Service), event, TTLCircuitSnapshot); err != nil {
		return fmt.Errorf("persist circuit snapshot for %s: %w", event.Service, err)
	}
	return nil
}

// LastEvent returns the most recent persisted event of service.
func (n *CircuitEventNotifier) LastEvent(ctx context.Context, service string) (*model.CircuitStateChangedEvent, error) {
	if n.cache == nil {
		return nil, ErrCacheNotFound
	}
	var event model.CircuitStateChangedEvent
	if err := n.cache.Get(ctx, BuildCacheKey(CacheKeyCircuit, service), &event); err != nil {
		return nil, err
	}
	return &event, nil
}
