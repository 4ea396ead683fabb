// Package service adapts HTTP requests to the biz use cases.
package service

import (
	"context"
	"time"

	"InsightLane/internal/biz"
	"InsightLane/internal/model"
	pkglog "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewAnalyticsService)

const defaultRetrieveRange = "24h"

// AnalyzeOptions overrides the default analysis. Nil flags keep the default (enabled).
type AnalyzeOptions struct {
	Statistics       *bool   `json:"statistics,omitempty"`
	Anomalies        *bool   `json:"anomalies,omitempty"`
	Trends           *bool   `json:"trends,omitempty"`
	AnomalyThreshold float64 `json:"anomaly_threshold,omitempty"`
}

// TTLOptions holds per-layer TTLs as time ranges such as "1h" or "7d".
type TTLOptions struct {
	Layer1 string `json:"layer1,omitempty"`
	Layer2 string `json:"layer2,omitempty"`
	Layer3 string `json:"layer3,omitempty"`
}

// AggregateOptions overrides the default aggregation.
type AggregateOptions struct {
	Recommendations *bool       `json:"recommendations,omitempty"`
	Trends          *bool       `json:"trends,omitempty"`
	Persist         *bool       `json:"persist,omitempty"`
	TTL             *TTLOptions `json:"ttl,omitempty"`
}

type CollectRequest struct {
	UserID        string   `json:"user_id"`
	AnalyticsType string   `json:"analytics_type"`
	Services      []string `json:"services,omitempty"`
}

type AnalyzeRequest struct {
	CollectionID  string `json:"collection_id"`
	AnalyticsType string `json:"analytics_type,omitempty"`
	AnalyzeOptions
}

type AggregateRequest struct {
	AnalysisID string `json:"analysis_id"`
	AggregateOptions
}

type ExecuteRequest struct {
	UserID        string            `json:"user_id"`
	AnalyticsType string            `json:"analytics_type"`
	Services      []string          `json:"services,omitempty"`
	Params        map[string]any    `json:"params,omitempty"`
	FailFast      *bool             `json:"fail_fast,omitempty"`
	RetryFailed   *bool             `json:"retry_failed,omitempty"`
	Analysis      *AnalyzeOptions   `json:"analysis,omitempty"`
	Aggregation   *AggregateOptions `json:"aggregation,omitempty"`
}

type RetrieveRequest struct {
	Owner string `json:"owner"`
	Kind  string `json:"kind"`
	Range string `json:"range"`
}

type CircuitRequest struct {
	Service string `json:"service"`
}

// RetryRequest retries one service. Zero values select the configured policy.
type RetryRequest struct {
	Service     string         `json:"service"`
	MaxAttempts int            `json:"max_attempts,omitempty"`
	BaseDelay   string         `json:"base_delay,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// CircuitReply is the live breaker state plus the last persisted transition, if any.
type CircuitReply struct {
	*biz.CircuitSnapshot
	LastTransition *model.CircuitStateChangedEvent `json:"last_transition,omitempty"`
}

type ListCircuitsRequest struct{}

type ListCircuitsReply struct {
	Circuits []*biz.CircuitSnapshot `json:"circuits"`
}

// AnalyticsService exposes the pipeline, the tiered store and the breakers.
type AnalyticsService struct {
	pipeline *biz.PipelineUsecase
	store    *biz.TieredStore
	registry *biz.ServiceRegistry
	retry    *biz.RetryOrchestrator
	logger   *log.Helper
}

var _ AnalyticsHTTPServer = (*AnalyticsService)(nil)

// NewAnalyticsService creates an AnalyticsService.
func NewAnalyticsService(pipeline *biz.PipelineUsecase, store *biz.TieredStore, registry *biz.ServiceRegistry,
	retry *biz.RetryOrchestrator, logger log.Logger) *AnalyticsService {
	return &AnalyticsService{
		pipeline: pipeline,
		store:    store,
		registry: registry,
		retry:    retry,
		logger:   log.NewHelper(logger),
	}
}

func (s *AnalyticsService) Collect(ctx context.Context, req *CollectRequest) (*model.CollectionResult, error) {
	if req.UserID == "" {
		req.UserID = pkglog.GetUserID(ctx)
	}
	s.logger.Debugw("msg", "Collect called", "user_id", req.UserID, "analytics_type", req.AnalyticsType)
	return s.pipeline.Collect(ctx, req.UserID, req.AnalyticsType, req.Services)
}

func (s *AnalyticsService) Analyze(ctx context.Context, req *AnalyzeRequest) (*model.AnalysisResult, error) {
	if req.CollectionID == "" {
		return nil, errors.BadRequest(biz.ReasonInvalidArgument, "collection_id is required")
	}
	cfg := req.AnalyzeOptions.apply(s.pipeline.DefaultAnalysisConfig())
	return s.pipeline.Analyze(ctx, req.CollectionID, req.AnalyticsType, cfg)
}

func (s *AnalyticsService) Aggregate(ctx context.Context, req *AggregateRequest) (*model.AggregationResult, error) {
	if req.AnalysisID == "" {
		return nil, errors.BadRequest(biz.ReasonInvalidArgument, "analysis_id is required")
	}
	cfg, err := req.AggregateOptions.apply(s.pipeline.DefaultAggregationConfig())
	if err != nil {
		return nil, err
	}
	return s.pipeline.Aggregate(ctx, req.AnalysisID, cfg)
}

func (s *AnalyticsService) Execute(ctx context.Context, req *ExecuteRequest) (*biz.ExecutionResult, error) {
	if req.UserID == "" {
		req.UserID = pkglog.GetUserID(ctx)
	}
	s.logger.Debugw("msg", "Execute called", "user_id", req.UserID, "analytics_type", req.AnalyticsType)
	cfg := biz.PipelineConfig{
		Services:    req.Services,
		Params:      req.Params,
		FailFast:    req.FailFast,
		RetryFailed: req.RetryFailed,
	}
	if req.Analysis != nil {
		a := req.Analysis.apply(s.pipeline.DefaultAnalysisConfig())
		cfg.Analysis = &a
	}
	if req.Aggregation != nil {
		a, err := req.Aggregation.apply(s.pipeline.DefaultAggregationConfig())
		if err != nil {
			return nil, err
		}
		cfg.Aggregation = &a
	}
	return s.pipeline.ExecutePipeline(ctx, req.UserID, req.AnalyticsType, cfg)
}

func (s *AnalyticsService) Retrieve(ctx context.Context, req *RetrieveRequest) (*biz.RetrieveResult, error) {
	r := req.Range
	if r == "" {
		r = defaultRetrieveRange
	}
	return s.store.Retrieve(ctx, req.Owner, req.Kind, r)
}

func (s *AnalyticsService) ListCircuits(_ context.Context, _ *ListCircuitsRequest) (*ListCircuitsReply, error) {
	return &ListCircuitsReply{Circuits: s.registry.Snapshots()}, nil
}

// GetCircuit reports the breaker of one service. A failed history read only
// drops last_transition from the reply.
func (s *AnalyticsService) GetCircuit(ctx context.Context, req *CircuitRequest) (*CircuitReply, error) {
	snapshot, err := s.registry.Snapshot(req.Service)
	if err != nil {
		return nil, err
	}
	reply := &CircuitReply{CircuitSnapshot: snapshot}
	reply.LastTransition, err = s.registry.LastTransition(ctx, req.Service)
	if err != nil {
		s.logger.Warnw("msg", "circuit history unavailable", "service", req.Service, "error", err)
	}
	return reply, nil
}

func (s *AnalyticsService) ResetCircuit(_ context.Context, req *CircuitRequest) (*biz.CircuitSnapshot, error) {
	s.logger.Infow("msg", "ResetCircuit called", "service", req.Service)
	return s.registry.ResetCircuit(req.Service)
}

func (s *AnalyticsService) RetryService(ctx context.Context, req *RetryRequest) (*biz.RetryOutcome, error) {
	maxAttempts, baseDelay := s.retry.DefaultPolicy()
	if req.MaxAttempts != 0 {
		maxAttempts = req.MaxAttempts
	}
	if req.BaseDelay != "" {
		d, err := time.ParseDuration(req.BaseDelay)
		if err != nil {
			return nil, errors.BadRequest(biz.ReasonInvalidArgument, "base_delay must be a duration such as 100ms")
		}
		baseDelay = d
	}
	return s.retry.Retry(ctx, req.Service, req.Params, maxAttempts, baseDelay)
}

func (o AnalyzeOptions) apply(cfg biz.AnalysisConfig) biz.AnalysisConfig {
	if o.Statistics != nil {
		cfg.Statistics = *o.Statistics
	}
	if o.Anomalies != nil {
		cfg.Anomalies = *o.Anomalies
	}
	if o.Trends != nil {
		cfg.Trends = *o.Trends
	}
	if o.AnomalyThreshold > 0 {
		cfg.AnomalyThreshold = o.AnomalyThreshold
	}
	return cfg
}

func (o AggregateOptions) apply(cfg biz.AggregationConfig) (biz.AggregationConfig, error) {
	if o.Recommendations != nil {
		cfg.Recommendations = *o.Recommendations
	}
	if o.Trends != nil {
		cfg.Trends = *o.Trends
	}
	if o.Persist != nil {
		cfg.Persist = *o.Persist
	}
	if o.TTL != nil {
		for _, f := range []struct {
			in  string
			out *time.Duration
		}{
			{o.TTL.Layer1, &cfg.TTLs.Layer1},
			{o.TTL.Layer2, &cfg.TTLs.Layer2},
			{o.TTL.Layer3, &cfg.TTLs.Layer3},
		} {
			if f.in == "" {
				continue
			}
			d, err := biz.ParseTimeRange(f.in)
			if err != nil {
				return cfg, err
			}
			*f.out = d
		}
	}
	return cfg, nil
}
