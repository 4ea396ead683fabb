package biz

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"time"

	"InsightLane/internal/conf"
	"InsightLane/internal/model"
	pkglog "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Identifier prefixes of the three stages.
const (
	collectionPrefix  = "col_"
	analysisPrefix    = "ana_"
	aggregationPrefix = "agg_"
)

// ExecutionStatus is the overall status of ExecutePipeline.
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionAborted   ExecutionStatus = "aborted"
)

// RunRepo keeps pipeline runs addressable by their stage identifiers.
type RunRepo interface {
	Save(ctx context.Context, run *model.PipelineRun) error
	// GetByCollectionID and GetByAnalysisID return model.ErrRunNotFound when absent.
	GetByCollectionID(ctx context.Context, id string) (*model.PipelineRun, error)
	GetByAnalysisID(ctx context.Context, id string) (*model.PipelineRun, error)
}

// AggregationConfig selects the optional parts of an aggregation.
type AggregationConfig struct {
	Recommendations bool      `json:"recommendations"`
	Trends          bool      `json:"trends"`
	Persist         bool      `json:"persist"`
	TTLs            LayerTTLs `json:"ttls"`
}

// PipelineConfig drives ExecutePipeline. Nil fields select the configured defaults.
type PipelineConfig struct {
	Services    []string
	Params      map[string]any
	Analysis    *AnalysisConfig
	Aggregation *AggregationConfig
	FailFast    *bool
	RetryFailed *bool
}

// ExecutionResult is the output of ExecutePipeline.
type ExecutionResult struct {
	Status    ExecutionStatus    `json:"status"`
	Run       *model.PipelineRun `json:"run"`
	ElapsedMs int64              `json:"elapsed_ms"`
	Timestamp time.Time          `json:"timestamp"`
}

// PipelineUsecase runs Collect, Analyze and Aggregate.
type PipelineUsecase struct {
	gateway *Gateway
	retry   *RetryOrchestrator
	store   *TieredStore
	runs    RunRepo

	failFast         bool
	retryFailed      bool
	persist          bool
	anomalyThreshold float64
	defaultServices  map[string][]string

	now    func() time.Time
	newID  func(prefix string) string
	logger *pkglog.LogHelper
}

// NewPipelineUsecase creates a PipelineUsecase.
func NewPipelineUsecase(gateway *Gateway, retry *RetryOrchestrator, store *TieredStore, runs RunRepo,
	c *conf.Pipeline, logger log.Logger) *PipelineUsecase {
	uc := &PipelineUsecase{
		gateway:          gateway,
		retry:            retry,
		store:            store,
		runs:             runs,
		anomalyThreshold: defaultAnomalyThreshold,
		defaultServices:  map[string][]string{},
		now:              time.Now,
		newID:            newRunID,
		logger:           pkglog.NewLogHelper(logger),
	}
	if c != nil {
		uc.failFast = c.FailFast
		uc.retryFailed = c.RetryFailed
		uc.persist = c.Persist
		if c.AnomalyThreshold > 0 {
			uc.anomalyThreshold = c.AnomalyThreshold
		}
		for k, v := range c.DefaultServices {
			uc.defaultServices[strings.ToLower(k)] = v
		}
	}
	return uc
}

func newRunID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// DefaultAnalysisConfig enables every computation with the configured anomaly threshold.
func (uc *PipelineUsecase) DefaultAnalysisConfig() AnalysisConfig {
	cfg := DefaultAnalysisConfig()
	cfg.AnomalyThreshold = uc.anomalyThreshold
	return cfg
}

// DefaultAggregationConfig enables trends and recommendations and follows the
// configured persistence setting.
func (uc *PipelineUsecase) DefaultAggregationConfig() AggregationConfig {
	return AggregationConfig{Recommendations: true, Trends: true, Persist: uc.persist}
}

// Collect fans out to serviceNames, or to the default services of analyticsType when
// none are given. Leg failures are part of the result; the returned error covers
// only bad input.
func (uc *PipelineUsecase) Collect(ctx context.Context, userID, analyticsType string, serviceNames []string) (*model.CollectionResult, error) {
	run, err := uc.collect(ctx, userID, analyticsType, serviceNames, nil, uc.retryFailed)
	if err != nil {
		return nil, err
	}
	return run.Collection, nil
}

func (uc *PipelineUsecase) collect(ctx context.Context, userID, analyticsType string, serviceNames []string,
	extra map[string]any, retryFailed bool) (*model.PipelineRun, error) {
	if userID == "" || analyticsType == "" {
		return nil, newInvalidArgumentError("user id and analytics type are required")
	}
	if len(serviceNames) == 0 {
		serviceNames = uc.defaultServices[strings.ToLower(analyticsType)]
		if len(serviceNames) == 0 {
			return nil, newInvalidArgumentError("no services given and none configured for analytics type %q", analyticsType)
		}
	}

	started := uc.now().UTC()
	run := &model.PipelineRun{
		CollectionID:  uc.newID(collectionPrefix),
		UserID:        userID,
		AnalyticsType: analyticsType,
		Stage:         model.StageStarted,
		CreatedAt:     started,
	}
	pkglog.SetRunID(ctx, run.CollectionID)

	params := map[string]any{"user_id": userID, "analytics_type": analyticsType}
	for k, v := range extra {
		if _, reserved := params[k]; !reserved {
			params[k] = v
		}
	}

	res, err := uc.gateway.Collect(ctx, serviceNames, params)
	if err != nil {
		return nil, err
	}

	collection := &model.CollectionResult{
		CollectionID:  run.CollectionID,
		UserID:        userID,
		AnalyticsType: analyticsType,
		Status:        res.Status,
		Services:      dedupe(serviceNames),
		Successes:     res.Successes,
		Failures:      res.Failures,
		ElapsedMs:     res.ElapsedMs,
	}
	if retryFailed && len(collection.Failures) > 0 {
		uc.retryFailures(ctx, collection, params)
	}
	collection.Timestamp = uc.now().UTC()

	run.Collection = collection
	run.Stage = model.StageCollected
	run.UpdatedAt = collection.Timestamp
	if err := uc.runs.Save(ctx, run); err != nil {
		return nil, err
	}

	uc.logger.Pipeline("collect", run.CollectionID, string(collection.Status), collection.ElapsedMs,
		"user_id", userID, "analytics_type", analyticsType, "failed", len(collection.Failures))
	return run, nil
}

// retryFailures re-runs failed legs concurrently and re-classifies the collection.
// Legs isolated by an open circuit are left alone.
func (uc *PipelineUsecase) retryFailures(ctx context.Context, c *model.CollectionResult, params map[string]any) {
	maxAttempts, baseDelay := uc.retry.DefaultPolicy()

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	pending := make(map[string]*model.CallOutcome, len(c.Failures))
	for name, failure := range c.Failures {
		if failure.ErrorReason != ReasonCircuitOpen {
			pending[name] = failure
		}
	}
	for name, failure := range pending {
		eg.Go(func() error {
			outcome, err := uc.retry.Retry(ctx, name, params, maxAttempts, baseDelay)
			if err != nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			c.Retried = append(c.Retried, name)
			if outcome.Status == RetrySuccessful {
				delete(c.Failures, name)
				c.Successes[name] = &model.CallOutcome{
					ServiceName: name,
					Success:     true,
					Data:        outcome.Data,
					ElapsedMs:   failure.ElapsedMs + outcome.ElapsedMs,
					Attempts:    1 + outcome.AttemptsMade,
				}
				return nil
			}
			failure.Error = outcome.LastError
			failure.ErrorReason = outcome.ErrorReason
			failure.Attempts = 1 + outcome.AttemptsMade
			return nil
		})
	}
	_ = eg.Wait()

	sort.Strings(c.Retried)
	c.Status = classifyCollect(len(c.Successes), len(c.Successes)+len(c.Failures))
}

// Analyze runs the selected computations over a stored collection. It never contacts
// a service. An empty analyticsType keeps the collection's type.
func (uc *PipelineUsecase) Analyze(ctx context.Context, collectionID, analyticsType string, cfg AnalysisConfig) (*model.AnalysisResult, error) {
	run, err := uc.analyze(ctx, collectionID, analyticsType, cfg)
	if err != nil {
		return nil, err
	}
	return run.Analysis, nil
}

func (uc *PipelineUsecase) analyze(ctx context.Context, collectionID, analyticsType string, cfg AnalysisConfig) (*model.PipelineRun, error) {
	start := time.Now()
	stored, err := uc.runs.GetByCollectionID(ctx, collectionID)
	if err != nil {
		return nil, runLookupError(err, "collection_id", collectionID)
	}

	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = uc.anomalyThreshold
	}
	analysis := analyzeCollection(stored.Collection, cfg)
	if analyticsType != "" {
		analysis.AnalyticsType = analyticsType
	}
	analysis.AnalysisID = uc.newID(analysisPrefix)
	analysis.Timestamp = uc.now().UTC()

	run := *stored
	run.AnalysisID = analysis.AnalysisID
	run.Analysis = analysis
	run.AggregationID = ""
	run.Aggregation = nil
	run.Stage = model.StageAnalyzed
	run.UpdatedAt = analysis.Timestamp
	if err := uc.runs.Save(ctx, &run); err != nil {
		return nil, err
	}

	uc.logger.Pipeline("analyze", analysis.AnalysisID, string(run.Stage), time.Since(start).Milliseconds(),
		"collection_id", collectionID, "series", len(analysis.Statistics), "anomalies", len(analysis.Anomalies))
	return &run, nil
}

// Aggregate assembles the final payload of an analyzed run and persists it to the
// tiered store when cfg.Persist is set. A failed write is reported in the result.
func (uc *PipelineUsecase) Aggregate(ctx context.Context, analysisID string, cfg AggregationConfig) (*model.AggregationResult, error) {
	run, err := uc.aggregate(ctx, analysisID, cfg)
	if err != nil {
		return nil, err
	}
	return run.Aggregation, nil
}

func (uc *PipelineUsecase) aggregate(ctx context.Context, analysisID string, cfg AggregationConfig) (*model.PipelineRun, error) {
	start := time.Now()
	stored, err := uc.runs.GetByAnalysisID(ctx, analysisID)
	if err != nil {
		return nil, runLookupError(err, "analysis_id", analysisID)
	}
	collection, analysis := stored.Collection, stored.Analysis

	failed := make([]string, 0, len(collection.Failures))
	for name := range collection.Failures {
		failed = append(failed, name)
	}
	sort.Strings(failed)

	data := make(map[string]any, len(collection.Successes))
	for name, o := range collection.Successes {
		data[name] = o.Data
	}

	agg := &model.AggregationResult{
		AggregationID: uc.newID(aggregationPrefix),
		AnalysisID:    analysisID,
		CollectionID:  stored.CollectionID,
		Summary: map[string]any{
			"user_id":            stored.UserID,
			"analytics_type":     analysis.AnalyticsType,
			"collection_status":  string(collection.Status),
			"services_total":     len(collection.Successes) + len(collection.Failures),
			"services_succeeded": len(collection.Successes),
			"failed_services":    failed,
			"completeness":       analysis.Completeness,
			"series_count":       len(analysis.Statistics),
			"anomaly_count":      len(analysis.Anomalies),
		},
		Data:       data,
		Statistics: analysis.Statistics,
		Timestamp:  uc.now().UTC(),
	}
	if cfg.Trends {
		agg.Trends = analysis.Trends
	}
	if cfg.Recommendations {
		agg.Recommendations = buildRecommendations(collection, analysis)
	}

	if cfg.Persist && uc.store != nil {
		receipt, err := uc.store.Store(ctx, StorageKey(stored.UserID, stored.AnalyticsType), agg, cfg.TTLs)
		if err != nil {
			agg.StorageError = err.Error()
			uc.logger.Warnw("msg", "aggregation not persisted", "aggregation_id", agg.AggregationID, "error", err, "type", "storage")
		} else {
			agg.Storage = receipt
		}
	}

	run := *stored
	run.AggregationID = agg.AggregationID
	run.Aggregation = agg
	run.Stage = model.StageAggregated
	run.UpdatedAt = agg.Timestamp
	if err := uc.runs.Save(ctx, &run); err != nil {
		return nil, err
	}

	uc.logger.Pipeline("aggregate", agg.AggregationID, string(run.Stage), time.Since(start).Milliseconds(),
		"analysis_id", analysisID, "recommendations", len(agg.Recommendations), "persisted", agg.Storage != nil)
	return &run, nil
}

// ExecutePipeline runs the three stages in order. By default analysis and aggregation
// proceed on whatever was collected; with fail-fast a failed collection ends the run
// with status aborted.
func (uc *PipelineUsecase) ExecutePipeline(ctx context.Context, userID, analyticsType string, cfg PipelineConfig) (*ExecutionResult, error) {
	start := time.Now()
	failFast := uc.failFast
	if cfg.FailFast != nil {
		failFast = *cfg.FailFast
	}
	retryFailed := uc.retryFailed
	if cfg.RetryFailed != nil {
		retryFailed = *cfg.RetryFailed
	}

	run, err := uc.collect(ctx, userID, analyticsType, cfg.Services, cfg.Params, retryFailed)
	if err != nil {
		return nil, err
	}

	if failFast && run.Collection.Status == model.CollectFailed {
		uc.logger.Pipeline("execute", run.CollectionID, string(ExecutionAborted), time.Since(start).Milliseconds(),
			"reason", "collection failed")
		return &ExecutionResult{
			Status:    ExecutionAborted,
			Run:       run,
			ElapsedMs: time.Since(start).Milliseconds(),
			Timestamp: uc.now().UTC(),
		}, nil
	}

	analysisCfg := uc.DefaultAnalysisConfig()
	if cfg.Analysis != nil {
		analysisCfg = *cfg.Analysis
	}
	aggregationCfg := uc.DefaultAggregationConfig()
	if cfg.Aggregation != nil {
		aggregationCfg = *cfg.Aggregation
	}

	run, err = uc.analyze(ctx, run.CollectionID, analyticsType, analysisCfg)
	if err != nil {
		return nil, err
	}
	run, err = uc.aggregate(ctx, run.AnalysisID, aggregationCfg)
	if err != nil {
		return nil, err
	}

	return &ExecutionResult{
		Status:    ExecutionCompleted,
		Run:       run,
		ElapsedMs: time.Since(start).Milliseconds(),
		Timestamp: uc.now().UTC(),
	}, nil
}

func runLookupError(err error, field, id string) error {
	if stderrors.Is(err, model.ErrRunNotFound) {
		return ErrRunNotFound.WithMetadata(map[string]string{field: id})
	}
	return err
}
