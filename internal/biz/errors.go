package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons. errors.Is matches on code and reason, so the sentinels below
// compare equal to any error built from the same constructor.
const (
	ReasonCircuitOpen        = "CIRCUIT_OPEN"
	ReasonServiceTimeout     = "SERVICE_TIMEOUT"
	ReasonUnknownService     = "UNKNOWN_SERVICE"
	ReasonInvalidConfig      = "INVALID_CONFIG"
	ReasonInvalidArgument    = "INVALID_ARGUMENT"
	ReasonRunNotFound        = "RUN_NOT_FOUND"
	ReasonStorageNotFound    = "STORAGE_NOT_FOUND"
	ReasonStorageUnavailable = "STORAGE_UNAVAILABLE"

	// reasonServiceError tags leg failures that carry no reason of their own.
	reasonServiceError = "SERVICE_ERROR"
	reasonCancelled    = "CANCELLED"
)

var (
	ErrCircuitOpen        = errors.ServiceUnavailable(ReasonCircuitOpen, "circuit breaker is open")
	ErrServiceTimeout     = errors.GatewayTimeout(ReasonServiceTimeout, "service call timed out")
	ErrUnknownService     = errors.NotFound(ReasonUnknownService, "service is not registered")
	ErrInvalidConfig      = errors.BadRequest(ReasonInvalidConfig, "invalid configuration")
	ErrInvalidArgument    = errors.BadRequest(ReasonInvalidArgument, "invalid argument")
	ErrRunNotFound        = errors.NotFound(ReasonRunNotFound, "pipeline run not found")
	ErrStorageNotFound    = errors.NotFound(ReasonStorageNotFound, "storage entry not found")
	ErrStorageUnavailable = errors.ServiceUnavailable(ReasonStorageUnavailable, "storage unavailable")
)

func newCircuitOpenError(service string, next *time.Time) error {
	md := map[string]string{"service": service}
	msg := fmt.Sprintf("circuit for %s is open", service)
	if next != nil {
		md["next_attempt_time"] = next.UTC().Format(time.RFC3339Nano)
		msg = fmt.Sprintf("%s until %s", msg, md["next_attempt_time"])
	}
	return errors.ServiceUnavailable(ReasonCircuitOpen, msg).WithMetadata(md)
}

func newTimeoutError(service string, timeout time.Duration) error {
	return errors.GatewayTimeout(ReasonServiceTimeout,
		fmt.Sprintf("%s did not respond within %s", service, timeout)).
		WithMetadata(map[string]string{"service": service})
}

func newUnknownServiceError(names ...string) error {
	return errors.NotFound(ReasonUnknownService, fmt.Sprintf("unknown service(s): %v", names))
}

func newInvalidConfigError(format string, args ...any) error {
	return errors.BadRequest(ReasonInvalidConfig, fmt.Sprintf(format, args...))
}

func newInvalidArgumentError(format string, args ...any) error {
	return errors.BadRequest(ReasonInvalidArgument, fmt.Sprintf(format, args...))
}

// describeError returns a readable message and a reason for a failed call.
func describeError(err error) (message, reason string) {
	if err == nil {
		return "", ""
	}
	var se *errors.Error
	if stderrors.As(err, &se) && se.Reason != "" {
		return se.Message, se.Reason
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err.Error(), reasonCancelled
	}
	return err.Error(), reasonServiceError
}
