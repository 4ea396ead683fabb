package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// SlowRequestThresholdMs is the duration above which RequestWithContext emits a slow request warning.
const SlowRequestThresholdMs = 1000

// LogHelper extends the Kratos helper with typed methods. Each method tags the entry
// with a "type" field that the console encoder turns into a marker.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates a LogHelper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func typed(msg, logType string, kvs []interface{}) []interface{} {
	allKvs := make([]interface{}, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	return append(allKvs, "type", logType)
}

// Gateway logs fan-out activity.
func (h *LogHelper) Gateway(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "gateway", kvs)...)
}

// Circuit logs breaker transitions. Transitions into OPEN are warnings.
func (h *LogHelper) Circuit(service, from, to string, kvs ...interface{}) {
	msg := fmt.Sprintf("circuit %s: %s -> %s", service, from, to)
	allKvs := typed(msg, "circuit", append([]interface{}{"service", service, "from", from, "to", to}, kvs...))
	if to == "OPEN" {
		h.Warnw(allKvs...)
		return
	}
	h.Infow(allKvs...)
}

// Retry logs one retry attempt.
func (h *LogHelper) Retry(service string, attempt, maxAttempts int, err error, kvs ...interface{}) {
	msg := fmt.Sprintf("retry %s attempt %d/%d", service, attempt, maxAttempts)
	fields := []interface{}{"service", service, "attempt", attempt, "max_attempts", maxAttempts}
	if err != nil {
		fields = append(fields, "error", err)
	}
	h.Warnw(typed(msg, "retry", append(fields, kvs...))...)
}

// Pipeline logs the completion of a pipeline stage.
func (h *LogHelper) Pipeline(stage, runID, status string, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %s (%dms)", stage, runID, status, durationMs)
	fields := []interface{}{"stage", stage, "run_id", runID, "run_status", status, "duration_ms", durationMs}
	h.Infow(typed(msg, "pipeline", append(fields, kvs...))...)
}

// Storage logs tiered store activity.
func (h *LogHelper) Storage(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "storage", kvs)...)
}

// Database logs archive queries.
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "database", kvs)...)
}

// Redis logs cache operations.
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "redis", kvs)...)
}

// Scheduler logs background jobs.
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "scheduler", kvs)...)
}

// Startup logs boot progress.
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "startup", kvs)...)
}

// Success logs a completed operation.
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "success", kvs)...)
}

// Request logs one HTTP request.
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	fields := []interface{}{"method", method, "url", url, "status", status, "duration_ms", durationMs}
	h.Infow(typed(msg, "request", append(fields, kvs...))...)
}

// RequestWithContext logs one HTTP request with the tracing fields from ctx, and
// a slow request warning when durationMs exceeds SlowRequestThresholdMs.
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s", method, url, status, durationMs, reqCtx.RequestID)
	fields := []interface{}{
		"request_id", reqCtx.RequestID,
		"user_id", reqCtx.UserID,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	}
	if reqCtx.RunID != "" {
		fields = append(fields, "run_id", reqCtx.RunID)
	}
	h.Infow(typed(msg, "request", append(fields, kvs...))...)

	if durationMs > SlowRequestThresholdMs {
		h.SlowRequest(ctx, method, url, durationMs, SlowRequestThresholdMs)
	}
}

// SlowRequest logs a request that exceeded thresholdMs.
func (h *LogHelper) SlowRequest(ctx context.Context, method, url string, durationMs, thresholdMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("[%s] Slow request detected | %s %s | %dms (threshold: %dms)",
		reqCtx.RequestID, method, url, durationMs, thresholdMs)
	fields := []interface{}{
		"request_id", reqCtx.RequestID,
		"method", method,
		"url", url,
		"duration_ms", durationMs,
		"threshold_ms", thresholdMs,
	}
	h.Warnw(typed(msg, "slow_request", append(fields, kvs...))...)
}
