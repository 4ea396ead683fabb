package model

import "time"

// CircuitStateChangedEvent is emitted by a breaker whenever its state changes.
type CircuitStateChangedEvent struct {
	Service         string     `json:"service"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	NextAttemptTime *time.Time `json:"next_attempt_time,omitempty"`
	Reason          string     `json:"reason,omitempty"` // threshold, half_open_failure, reset_timeout, success, reset
	OccurredAt      time.Time  `json:"occurred_at"`
}
