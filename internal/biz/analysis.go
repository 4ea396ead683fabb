package biz

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"InsightLane/internal/model"
)

const (
	defaultAnomalyThreshold = 2.0
	// minSeriesPoints is the smallest series that gets anomaly and trend detection.
	minSeriesPoints = 3
	// trendTolerance is the relative slope below which a series counts as stable.
	trendTolerance = 0.01
	maxWalkDepth   = 4
)

// AnalysisConfig selects the computations run by Analyze.
type AnalysisConfig struct {
	Statistics       bool    `json:"statistics"`
	Anomalies        bool    `json:"anomalies"`
	Trends           bool    `json:"trends"`
	AnomalyThreshold float64 `json:"anomaly_threshold"`
}

// DefaultAnalysisConfig enables every computation.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{Statistics: true, Anomalies: true, Trends: true}
}

// analyzeCollection is a pure function of the collected payloads.
func analyzeCollection(c *model.CollectionResult, cfg AnalysisConfig) *model.AnalysisResult {
	threshold := cfg.AnomalyThreshold
	if threshold <= 0 {
		threshold = defaultAnomalyThreshold
	}

	result := &model.AnalysisResult{
		CollectionID:  c.CollectionID,
		AnalyticsType: c.AnalyticsType,
		Completeness:  completeness(c),
	}

	series := extractSeries(c.Successes)
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	if cfg.Statistics {
		result.Statistics = make(map[string]*model.SeriesStats, len(names))
	}
	for _, name := range names {
		values := series[name]
		stats := seriesStats(values)
		if cfg.Statistics {
			result.Statistics[name] = stats
		}
		if cfg.Anomalies {
			result.Anomalies = append(result.Anomalies, detectAnomalies(name, values, stats, threshold)...)
		}
		if cfg.Trends {
			if trend, ok := detectTrend(name, values, stats.Mean); ok {
				result.Trends = append(result.Trends, trend)
			}
		}
	}
	return result
}

func completeness(c *model.CollectionResult) float64 {
	total := len(c.Successes) + len(c.Failures)
	if total == 0 {
		return 0
	}
	return float64(len(c.Successes)) / float64(total)
}

// extractSeries flattens each successful payload into numeric series named
// service.path. Array elements contribute to the same series in order.
func extractSeries(successes map[string]*model.CallOutcome) map[string][]float64 {
	series := make(map[string][]float64)
	for name, outcome := range successes {
		walkPayload(series, name, normalizePayload(outcome.Data), 0)
	}
	return series
}

func walkPayload(series map[string][]float64, path string, v any, depth int) {
	if depth > maxWalkDepth {
		return
	}
	if f, ok := toFloat(v); ok {
		series[path] = append(series[path], f)
		return
	}
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkPayload(series, path+"."+k, t[k], depth+1)
		}
	case []any:
		for _, item := range t {
			walkPayload(series, path, item, depth+1)
		}
	}
}

// normalizePayload turns typed payloads into the generic JSON shape.
func normalizePayload(v any) any {
	switch v.(type) {
	case nil, map[string]any, []any, string, bool:
		return v
	}
	if _, ok := toFloat(v); ok {
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func seriesStats(values []float64) *model.SeriesStats {
	stats := &model.SeriesStats{Count: len(values)}
	if len(values) == 0 {
		return stats
	}
	stats.Min, stats.Max = values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		stats.Min = math.Min(stats.Min, v)
		stats.Max = math.Max(stats.Max, v)
	}
	stats.Mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - stats.Mean) * (v - stats.Mean)
	}
	stats.StdDev = math.Sqrt(sq / float64(len(values)))
	return stats
}

func detectAnomalies(name string, values []float64, stats *model.SeriesStats, threshold float64) []model.Anomaly {
	if len(values) < minSeriesPoints || stats.StdDev == 0 {
		return nil
	}
	var out []model.Anomaly
	for i, v := range values {
		z := (v - stats.Mean) / stats.StdDev
		if math.Abs(z) > threshold {
			out = append(out, model.Anomaly{Series: name, Index: i, Value: v, ZScore: z})
		}
	}
	return out
}

// detectTrend fits a least-squares line over the point index.
func detectTrend(name string, values []float64, mean float64) (model.Trend, bool) {
	n := len(values)
	if n < minSeriesPoints {
		return model.Trend{}, false
	}
	xMean := float64(n-1) / 2
	var num, den float64
	for i, v := range values {
		dx := float64(i) - xMean
		num += dx * (v - mean)
		den += dx * dx
	}
	slope := num / den

	relative := slope
	if mean != 0 {
		relative = slope / math.Abs(mean)
	}
	direction := "stable"
	switch {
	case relative > trendTolerance:
		direction = "increasing"
	case relative < -trendTolerance:
		direction = "decreasing"
	}
	return model.Trend{Series: name, Direction: direction, Slope: slope}, true
}

// buildRecommendations derives hints from failed services, completeness,
// anomalies and trends.
func buildRecommendations(c *model.CollectionResult, a *model.AnalysisResult) []model.Recommendation {
	var out []model.Recommendation

	failed := make([]string, 0, len(c.Failures))
	for name := range c.Failures {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		f := c.Failures[name]
		if f.ErrorReason == ReasonCircuitOpen {
			out = append(out, model.Recommendation{
				Type:     "service_unavailable",
				Priority: "high",
				Message:  fmt.Sprintf("%s is isolated by an open circuit; results exclude its data", name),
			})
			continue
		}
		out = append(out, model.Recommendation{
			Type:     "data_gap",
			Priority: "medium",
			Message:  fmt.Sprintf("%s failed (%s); results exclude its data", name, f.Error),
		})
	}

	if total := len(c.Successes) + len(c.Failures); total > 0 && a.Completeness < 0.5 {
		out = append(out, model.Recommendation{
			Type:     "low_completeness",
			Priority: "high",
			Message:  fmt.Sprintf("only %.0f%% of services responded", a.Completeness*100),
		})
	}

	perSeries := make(map[string]int)
	var order []string
	for _, an := range a.Anomalies {
		if perSeries[an.Series] == 0 {
			order = append(order, an.Series)
		}
		perSeries[an.Series]++
	}
	for _, s := range order {
		out = append(out, model.Recommendation{
			Type:     "anomaly",
			Priority: "medium",
			Message:  fmt.Sprintf("%d anomalous value(s) in %s", perSeries[s], s),
		})
	}

	for _, tr := range a.Trends {
		switch tr.Direction {
		case "decreasing":
			out = append(out, model.Recommendation{Type: "declining_trend", Priority: "medium", Message: tr.Series + " is decreasing"})
		case "increasing":
			out = append(out, model.Recommendation{Type: "growth", Priority: "low", Message: tr.Series + " is increasing"})
		}
	}

	if len(out) == 0 {
		out = append(out, model.Recommendation{
			Type:     "no_action",
			Priority: "low",
			Message:  "all services responded and no anomalies were detected",
		})
	}
	return out
}
