package biz

import (
	"context"
	"math"
	"time"

	"InsightLane/internal/conf"
	pkglog "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// RetryStatus is the terminal status of a retry sequence.
type RetryStatus string

const (
	RetrySuccessful RetryStatus = "retry_successful"
	RetryFailed     RetryStatus = "retry_failed"
)

// maxBackoffShift bounds the exponent of the backoff multiplier.
const maxBackoffShift = 62

// RetryOutcome reports a retry sequence. Exhaustion is a status, not an error.
type RetryOutcome struct {
	ServiceName  string      `json:"service_name"`
	Status       RetryStatus `json:"status"`
	AttemptsMade int         `json:"attempts_made"`
	Data         any         `json:"data,omitempty"`
	LastError    string      `json:"last_error,omitempty"`
	ErrorReason  string      `json:"error_reason,omitempty"`
	ElapsedMs    int64       `json:"elapsed_ms"`
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepWithContext blocks for d unless ctx ends first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffDelay returns the wait before attempt (1-based): 0 for the first attempt,
// then base, 2×base, 4×base and so on. A product beyond the largest time.Duration
// saturates instead of wrapping.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 2 || base <= 0 {
		return 0
	}
	shift := attempt - 2
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	multiplier := int64(1) << shift
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(multiplier)
}

// RetryOrchestrator re-invokes a service through its breaker with exponential backoff.
type RetryOrchestrator struct {
	registry    *ServiceRegistry
	maxAttempts int
	baseDelay   time.Duration
	sleep       Sleeper
	logger      *pkglog.LogHelper
}

// NewRetryOrchestrator creates a RetryOrchestrator with the configured default policy.
func NewRetryOrchestrator(registry *ServiceRegistry, c *conf.Retry, logger log.Logger) *RetryOrchestrator {
	r := &RetryOrchestrator{
		registry:    registry,
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
		sleep:       SleepWithContext,
		logger:      pkglog.NewLogHelper(logger),
	}
	if c != nil {
		if c.MaxAttempts > 0 {
			r.maxAttempts = int(c.MaxAttempts)
		}
		if c.BaseDelay != nil {
			r.baseDelay = c.BaseDelay.AsDuration()
		}
	}
	return r
}

// DefaultPolicy returns the configured attempt count and base delay.
func (r *RetryOrchestrator) DefaultPolicy() (int, time.Duration) {
	return r.maxAttempts, r.baseDelay
}

// Retry fires serviceName up to maxAttempts times, stopping at the first success.
//
// Only an unknown service or malformed arguments are returned as errors. Exhausted
// attempts, and a ctx that ends while waiting, produce a retry_failed outcome.
func (r *RetryOrchestrator) Retry(ctx context.Context, serviceName string, params map[string]any,
	maxAttempts int, baseDelay time.Duration) (*RetryOutcome, error) {
	if maxAttempts < 1 {
		return nil, newInvalidArgumentError("max attempts must be at least 1, got %d", maxAttempts)
	}
	if baseDelay < 0 {
		return nil, newInvalidArgumentError("base delay must not be negative, got %s", baseDelay)
	}
	_, cb, err := r.registry.Resolve(serviceName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outcome := &RetryOutcome{ServiceName: serviceName, Status: RetryFailed}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, BackoffDelay(baseDelay, attempt)); err != nil {
				outcome.LastError, outcome.ErrorReason = describeError(err)
				break
			}
		}

		outcome.AttemptsMade = attempt
		data, err := cb.Fire(ctx, params)
		if err == nil {
			outcome.Status = RetrySuccessful
			outcome.Data = data
			outcome.LastError, outcome.ErrorReason = "", ""
			break
		}

		outcome.LastError, outcome.ErrorReason = describeError(err)
		r.logger.Retry(serviceName, attempt, maxAttempts, err, "reason", outcome.ErrorReason)
	}

	outcome.ElapsedMs = time.Since(start).Milliseconds()
	if outcome.Status == RetryFailed {
		r.logger.Warnw("msg", "retries exhausted",
			"service", serviceName,
			"attempts_made", outcome.AttemptsMade,
			"reason", outcome.ErrorReason,
			"type", "retry",
		)
	}
	return outcome, nil
}
