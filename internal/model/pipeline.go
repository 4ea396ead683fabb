package model

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned by run stores for unknown stage identifiers.
var ErrRunNotFound = errors.New("pipeline: run not found")

// CollectStatus classifies a fan-out by how many legs succeeded.
type CollectStatus string

const (
	CollectCompleted      CollectStatus = "completed"
	CollectPartialSuccess CollectStatus = "partial_success"
	CollectFailed         CollectStatus = "failed"
)

// RunStage is the furthest stage a pipeline run has reached.
type RunStage string

const (
	StageStarted    RunStage = "STARTED"
	StageCollected  RunStage = "COLLECTED"
	StageAnalyzed   RunStage = "ANALYZED"
	StageAggregated RunStage = "AGGREGATED"
)

// CollectionResult is the output of the collect stage.
type CollectionResult struct {
	CollectionID  string                  `json:"collection_id"`
	UserID        string                  `json:"user_id"`
	AnalyticsType string                  `json:"analytics_type"`
	Status        CollectStatus           `json:"status"`
	Services      []string                `json:"services"`
	Successes     map[string]*CallOutcome `json:"successes"`
	Failures      map[string]*CallOutcome `json:"failures"`
	Retried       []string                `json:"retried,omitempty"`
	ElapsedMs     int64                   `json:"elapsed_ms"`
	Timestamp     time.Time               `json:"timestamp"`
}

// SeriesStats summarizes one numeric series extracted from collected payloads.
type SeriesStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stddev"`
}

// Anomaly is a point whose z-score exceeds the configured threshold.
type Anomaly struct {
	Series string  `json:"series"`
	Index  int     `json:"index"`
	Value  float64 `json:"value"`
	ZScore float64 `json:"z_score"`
}

// Trend is the least-squares direction of one series.
type Trend struct {
	Series    string  `json:"series"`
	Direction string  `json:"direction"` // increasing, decreasing, stable
	Slope     float64 `json:"slope"`
}

// AnalysisResult is the output of the analyze stage.
type AnalysisResult struct {
	AnalysisID    string                  `json:"analysis_id"`
	CollectionID  string                  `json:"collection_id"`
	AnalyticsType string                  `json:"analytics_type"`
	Statistics    map[string]*SeriesStats `json:"statistics,omitempty"`
	Anomalies     []Anomaly               `json:"anomalies,omitempty"`
	Trends        []Trend                 `json:"trends,omitempty"`
	Completeness  float64                 `json:"completeness"`
	Timestamp     time.Time               `json:"timestamp"`
}

// Recommendation is an actionable hint derived from an analysis.
type Recommendation struct {
	Type     string `json:"type"`
	Priority string `json:"priority"` // high, medium, low
	Message  string `json:"message"`
}

// StorageReceipt reports the outcome of a tiered write.
type StorageReceipt struct {
	StorageID string            `json:"storage_id"`
	Layers    map[string]string `json:"layers"` // layer name -> "stored", or error text prefixed "retryable: " when transient
	StoredAt  time.Time         `json:"stored_at"`
}

// AggregationResult is the output of the aggregate stage.
type AggregationResult struct {
	AggregationID   string                  `json:"aggregation_id"`
	AnalysisID      string                  `json:"analysis_id"`
	CollectionID    string                  `json:"collection_id"`
	Summary         map[string]any          `json:"summary"`
	Data            map[string]any          `json:"data"`
	Statistics      map[string]*SeriesStats `json:"statistics,omitempty"`
	Trends          []Trend                 `json:"trends,omitempty"`
	Recommendations []Recommendation        `json:"recommendations,omitempty"`
	Storage         *StorageReceipt         `json:"storage,omitempty"`
	StorageError    string                  `json:"storage_error,omitempty"`
	Timestamp       time.Time               `json:"timestamp"`
}

// PipelineRun correlates the three stages of one run. Later stages extend it.
type PipelineRun struct {
	CollectionID  string             `json:"collection_id"`
	AnalysisID    string             `json:"analysis_id,omitempty"`
	AggregationID string             `json:"aggregation_id,omitempty"`
	UserID        string             `json:"user_id"`
	AnalyticsType string             `json:"analytics_type"`
	Stage         RunStage           `json:"stage"`
	Collection    *CollectionResult  `json:"collection,omitempty"`
	Analysis      *AnalysisResult    `json:"analysis,omitempty"`
	Aggregation   *AggregationResult `json:"aggregation,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}
