package model

import "time"

// ServiceDescriptor describes one registered backend service. It is never mutated
// after the registry is built.
type ServiceDescriptor struct {
	Name     string
	Endpoint string
	Path     string
	Method   string
	// RateLimit paces outbound calls in requests per second. 0 disables pacing.
	RateLimit float64

	Timeout        time.Duration
	ErrorThreshold int
	ResetTimeout   time.Duration
}

// CallOutcome is the result of one fan-out leg.
type CallOutcome struct {
	ServiceName string `json:"service_name"`
	Success     bool   `json:"success"`
	Data        any    `json:"data,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorReason string `json:"error_reason,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms"`
	Attempts    int    `json:"attempts,omitempty"`
}
