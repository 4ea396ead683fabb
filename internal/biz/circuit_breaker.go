package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"InsightLane/internal/model"
)

// State is the position of a breaker in its state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig is the per-service breaker policy.
type BreakerConfig struct {
	Timeout        time.Duration
	ErrorThreshold int
	ResetTimeout   time.Duration
}

// Validate rejects non-positive timeouts and thresholds below 1.
func (c BreakerConfig) Validate() error {
	switch {
	case c.Timeout <= 0:
		return newInvalidConfigError("breaker timeout must be positive, got %s", c.Timeout)
	case c.ErrorThreshold < 1:
		return newInvalidConfigError("breaker error threshold must be at least 1, got %d", c.ErrorThreshold)
	case c.ResetTimeout <= 0:
		return newInvalidConfigError("breaker reset timeout must be positive, got %s", c.ResetTimeout)
	}
	return nil
}

// CircuitState is the bookkeeping of one breaker. It is not safe for concurrent
// use; CircuitBreaker serializes every access.
type CircuitState struct {
	State           State
	FailureCount    int
	LastFailureTime *time.Time
	// NextAttemptTime is set only while State is StateOpen.
	NextAttemptTime *time.Time

	// trialInFlight is set while the single HALF_OPEN trial call runs.
	trialInFlight bool
	threshold     int
	resetTimeout  time.Duration
}

func newCircuitState(cfg BreakerConfig) *CircuitState {
	return &CircuitState{
		State:        StateClosed,
		threshold:    cfg.ErrorThreshold,
		resetTimeout: cfg.ResetTimeout,
	}
}

// ShouldAllow reports whether a call may proceed at now. An open circuit whose
// reset deadline has passed moves to HALF_OPEN and lets exactly one trial call
// through; others are refused until that call is recorded or released.
func (s *CircuitState) ShouldAllow(now time.Time) bool {
	switch s.State {
	case StateOpen:
		if s.NextAttemptTime != nil && now.Before(*s.NextAttemptTime) {
			return false
		}
		s.State = StateHalfOpen
		s.NextAttemptTime = nil
		s.trialInFlight = true
		return true
	case StateHalfOpen:
		if s.trialInFlight {
			return false
		}
		s.trialInFlight = true
		return true
	default:
		return true
	}
}

// ReleaseTrial frees the HALF_OPEN trial slot without recording an outcome.
func (s *CircuitState) ReleaseTrial() {
	s.trialInFlight = false
}

// RecordSuccess closes the circuit and clears the failure count.
func (s *CircuitState) RecordSuccess() {
	s.State = StateClosed
	s.FailureCount = 0
	s.NextAttemptTime = nil
	s.trialInFlight = false
}

// RecordFailure counts a failure at now. A failed trial call or reaching the
// threshold opens the circuit until now + reset timeout.
func (s *CircuitState) RecordFailure(now time.Time) {
	s.FailureCount++
	s.LastFailureTime = &now
	s.trialInFlight = false
	if s.State == StateHalfOpen || s.FailureCount >= s.threshold {
		next := now.Add(s.resetTimeout)
		s.State = StateOpen
		s.NextAttemptTime = &next
	}
}

// CircuitSnapshot is a read-only copy of a breaker's state.
type CircuitSnapshot struct {
	Service         string     `json:"service"`
	State           string     `json:"state"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	NextAttemptTime *time.Time `json:"next_attempt_time,omitempty"`
}

// Operation is the call a breaker guards.
type Operation func(ctx context.Context, params map[string]any) (any, error)

// StateListener receives every state change of a breaker. It runs on the caller's
// goroutine after the breaker lock has been released.
type StateListener func(event *model.CircuitStateChangedEvent)

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now for state decisions.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithStateListener registers a listener for state changes.
func WithStateListener(l StateListener) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.listener = l
	}
}

// CircuitBreaker isolates one dependency. Each Fire races the operation against the
// configured timeout, and the outcome is recorded exactly once by Fire itself.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig
	op   Operation

	mu    sync.Mutex
	state *CircuitState

	now      func() time.Time
	listener StateListener
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(name string, cfg BreakerConfig, op Operation, opts ...BreakerOption) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if op == nil {
		return nil, newInvalidConfigError("breaker %s has no operation", name)
	}
	cb := &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		op:    op,
		state: newCircuitState(cfg),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb, nil
}

// Name returns the service name the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Config returns the breaker policy.
func (cb *CircuitBreaker) Config() BreakerConfig {
	return cb.cfg
}

type fireResult struct {
	value any
	err   error
}

// Fire invokes the operation unless the circuit is open.
//
// It returns a CIRCUIT_OPEN error without calling the operation while the reset
// deadline has not passed or a HALF_OPEN trial call is in flight, and a
// SERVICE_TIMEOUT error when the operation outlives the configured timeout. A
// cancelled ctx aborts the call without counting a failure.
func (cb *CircuitBreaker) Fire(ctx context.Context, params map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cb.mu.Lock()
	from := cb.state.State
	allowed := cb.state.ShouldAllow(cb.now())
	trial := allowed && cb.state.State == StateHalfOpen
	state := cb.state
	next := copyTime(cb.state.NextAttemptTime)
	event := cb.changeEventLocked(from, "reset_timeout")
	cb.mu.Unlock()
	cb.emit(event)

	if !allowed {
		return nil, newCircuitOpenError(cb.name, next)
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.cfg.Timeout)
	defer cancel()

	// Buffered so an abandoned operation never blocks; it cannot touch the state.
	done := make(chan fireResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fireResult{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := cb.op(callCtx, params)
		done <- fireResult{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			cb.record(true)
			return res.value, nil
		}
		if ctx.Err() != nil {
			if trial {
				cb.releaseTrial(state)
			}
			return nil, ctx.Err()
		}
		cb.record(false)
		if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, newTimeoutError(cb.name, cb.cfg.Timeout)
		}
		return nil, res.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			if trial {
				cb.releaseTrial(state)
			}
			return nil, ctx.Err()
		}
		cb.record(false)
		return nil, newTimeoutError(cb.name, cb.cfg.Timeout)
	}
}

// releaseTrial frees the trial slot of state after a cancelled trial call. A Reset
// in between replaced the state, which leaves nothing to free.
func (cb *CircuitBreaker) releaseTrial(state *CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == state && state.State == StateHalfOpen {
		state.ReleaseTrial()
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	from := cb.state.State
	reason := "success"
	if success {
		cb.state.RecordSuccess()
	} else {
		reason = "threshold"
		if from == StateHalfOpen {
			reason = "half_open_failure"
		}
		cb.state.RecordFailure(cb.now())
	}
	event := cb.changeEventLocked(from, reason)
	cb.mu.Unlock()
	cb.emit(event)
}

// GetState returns a snapshot of the current state.
func (cb *CircuitBreaker) GetState() *CircuitSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.snapshotLocked()
}

// Reset forces the breaker back to CLOSED with a zero failure count.
func (cb *CircuitBreaker) Reset() *CircuitSnapshot {
	cb.mu.Lock()
	from := cb.state.State
	cb.state = newCircuitState(cb.cfg)
	snapshot := cb.snapshotLocked()
	event := cb.changeEventLocked(from, "reset")
	cb.mu.Unlock()
	cb.emit(event)
	return snapshot
}

func (cb *CircuitBreaker) snapshotLocked() *CircuitSnapshot {
	return &CircuitSnapshot{
		Service:         cb.name,
		State:           cb.state.State.String(),
		FailureCount:    cb.state.FailureCount,
		LastFailureTime: copyTime(cb.state.LastFailureTime),
		NextAttemptTime: copyTime(cb.state.NextAttemptTime),
	}
}

// changeEventLocked returns nil when the state did not change.
func (cb *CircuitBreaker) changeEventLocked(from State, reason string) *model.CircuitStateChangedEvent {
	if from == cb.state.State || cb.listener == nil {
		return nil
	}
	return &model.CircuitStateChangedEvent{
		Service:         cb.name,
		From:            from.String(),
		To:              cb.state.State.String(),
		FailureCount:    cb.state.FailureCount,
		LastFailureTime: copyTime(cb.state.LastFailureTime),
		NextAttemptTime: copyTime(cb.state.NextAttemptTime),
		Reason:          reason,
		OccurredAt:      cb.now().UTC(),
	}
}

func (cb *CircuitBreaker) emit(event *model.CircuitStateChangedEvent) {
	if event != nil && cb.listener != nil {
		cb.listener(event)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
