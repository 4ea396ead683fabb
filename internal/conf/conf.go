package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration of the InsightLane service.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Log       *Log
	Gateway   *Gateway
	Retry     *Retry
	Storage   *Storage
	Pipeline  *Pipeline
	Scheduler *Scheduler
}

// Server holds transport settings.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP configures the HTTP listener.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds storage backend connection settings.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database configures the MySQL archive connection.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis configures the Redis connection used by the cache and personal layers.
type Data_Redis struct {
	Network      string
	Addr         string
	Password     string
	Db           int32
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Gateway lists the backend services reachable through the fan-out gateway.
type Gateway struct {
	// MaxConcurrency bounds concurrent legs of one fan-out. 0 means one goroutine per leg.
	MaxConcurrency int32
	Services       []*Gateway_Service
}

// Gateway_Service describes one backend service and its breaker policy.
type Gateway_Service struct {
	Name           string
	Endpoint       string
	Path           string
	Method         string
	RateLimit      float64 // requests per second, 0 disables pacing
	Timeout        *durationpb.Duration
	ErrorThreshold int32
	ResetTimeout   *durationpb.Duration
}

// Retry holds the default retry policy.
type Retry struct {
	MaxAttempts int32
	BaseDelay   *durationpb.Duration
}

// Storage configures the three retention layers.
type Storage struct {
	Layer1 *Storage_Layer
	Layer2 *Storage_Layer
	Layer3 *Storage_Layer
}

// Storage_Layer selects a backend and default TTL for one layer.
type Storage_Layer struct {
	Backend  string // redis, mysql or memory
	Ttl      *durationpb.Duration
	Capacity int32 // memory backend only
}

// Pipeline configures the collect/analyze/aggregate pipeline.
type Pipeline struct {
	FailFast         bool
	DefaultServices  map[string][]string
	AnomalyThreshold float64
	RetryFailed      bool
	RunCacheSize     int32
	RunCacheTtl      *durationpb.Duration
	Persist          bool
}

// Scheduler configures background jobs.
type Scheduler struct {
	ArchiveSweep string // cron spec with seconds field
}
