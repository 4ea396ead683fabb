package biz

import (
	"context"
	"time"

	"InsightLane/internal/conf"
	"InsightLane/internal/model"
	pkglog "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

// CollectResult is the outcome of one fan-out.
type CollectResult struct {
	Status    model.CollectStatus           `json:"status"`
	Successes map[string]*model.CallOutcome `json:"successes"`
	Failures  map[string]*model.CallOutcome `json:"failures"`
	ElapsedMs int64                         `json:"elapsed_ms"`
}

// Gateway fans one logical call out to many services.
type Gateway struct {
	registry       *ServiceRegistry
	maxConcurrency int
	logger         *pkglog.LogHelper
}

// NewGateway creates a Gateway. A MaxConcurrency of 0 runs every leg at once.
func NewGateway(registry *ServiceRegistry, c *conf.Gateway, logger log.Logger) *Gateway {
	g := &Gateway{
		registry: registry,
		logger:   pkglog.NewLogHelper(logger),
	}
	if c != nil && c.MaxConcurrency > 0 {
		g.maxConcurrency = int(c.MaxConcurrency)
	}
	return g
}

// Collect fires every named service concurrently and waits for all legs to settle.
//
// Leg failures are reported in the result and never cancel siblings. Duplicate names
// are called once. An empty set is an INVALID_ARGUMENT error, and unregistered names
// fail the whole call with UNKNOWN_SERVICE before any leg is issued.
func (g *Gateway) Collect(ctx context.Context, serviceNames []string, params map[string]any) (*CollectResult, error) {
	names := dedupe(serviceNames)
	if len(names) == 0 {
		return nil, newInvalidArgumentError("at least one service name is required")
	}

	breakers := make([]*CircuitBreaker, len(names))
	var unknown []string
	for i, name := range names {
		_, cb, err := g.registry.Resolve(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		breakers[i] = cb
	}
	if len(unknown) > 0 {
		return nil, newUnknownServiceError(unknown...)
	}

	start := time.Now()
	outcomes := make([]*model.CallOutcome, len(names))

	var eg errgroup.Group
	if g.maxConcurrency > 0 {
		eg.SetLimit(g.maxConcurrency)
	}
	for i, cb := range breakers {
		eg.Go(func() error {
			outcomes[i] = invoke(ctx, cb, params)
			return nil
		})
	}
	_ = eg.Wait()

	result := &CollectResult{
		Successes: make(map[string]*model.CallOutcome),
		Failures:  make(map[string]*model.CallOutcome),
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	for _, o := range outcomes {
		if o.Success {
			result.Successes[o.ServiceName] = o
		} else {
			result.Failures[o.ServiceName] = o
		}
	}
	result.Status = classifyCollect(len(result.Successes), len(names))

	g.logger.Gateway("fan-out settled",
		"services", len(names),
		"succeeded", len(result.Successes),
		"failed", len(result.Failures),
		"status", string(result.Status),
		"elapsed_ms", result.ElapsedMs,
	)
	return result, nil
}

func invoke(ctx context.Context, cb *CircuitBreaker, params map[string]any) *model.CallOutcome {
	start := time.Now()
	data, err := cb.Fire(ctx, params)
	outcome := &model.CallOutcome{
		ServiceName: cb.Name(),
		ElapsedMs:   time.Since(start).Milliseconds(),
		Attempts:    1,
	}
	if err != nil {
		outcome.Error, outcome.ErrorReason = describeError(err)
		return outcome
	}
	outcome.Success = true
	outcome.Data = data
	return outcome
}

func classifyCollect(succeeded, total int) model.CollectStatus {
	switch {
	case total > 0 && succeeded == total:
		return model.CollectCompleted
	case succeeded > 0:
		return model.CollectPartialSuccess
	default:
		return model.CollectFailed
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
