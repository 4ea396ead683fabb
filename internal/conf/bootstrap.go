// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// serviceEntry mirrors one item of gateway.services in the config file.
type serviceEntry struct {
	Name           string        `mapstructure:"name"`
	Endpoint       string        `mapstructure:"endpoint"`
	Path           string        `mapstructure:"path"`
	Method         string        `mapstructure:"method"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ErrorThreshold int32         `mapstructure:"error_threshold"`
	ResetTimeout   time.Duration `mapstructure:"reset_timeout"`
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with INSIGHTLANE_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Gateway services can only be declared in the config file. Each service falls back
// to the breaker defaults (5s timeout, 5 errors, 30s reset) when a field is omitted.
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("INSIGHTLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "INSIGHTLANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "INSIGHTLANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "INSIGHTLANE_DATA_REDIS_PASSWORD")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var entries []serviceEntry
	if err := v.UnmarshalKey("gateway.services", &entries); err != nil {
		return nil, fmt.Errorf("failed to parse gateway.services: %w", err)
	}

	services := make([]*Gateway_Service, 0, len(entries))
	for _, e := range entries {
		svc := &Gateway_Service{
			Name:           e.Name,
			Endpoint:       e.Endpoint,
			Path:           e.Path,
			Method:         strings.ToUpper(e.Method),
			RateLimit:      e.RateLimit,
			Timeout:        durationpb.New(e.Timeout),
			ErrorThreshold: e.ErrorThreshold,
			ResetTimeout:   durationpb.New(e.ResetTimeout),
		}
		if e.Timeout == 0 {
			svc.Timeout = durationpb.New(v.GetDuration("gateway.defaults.timeout"))
		}
		if e.ErrorThreshold == 0 {
			svc.ErrorThreshold = v.GetInt32("gateway.defaults.error_threshold")
		}
		if e.ResetTimeout == 0 {
			svc.ResetTimeout = durationpb.New(v.GetDuration("gateway.defaults.reset_timeout"))
		}
		if svc.Method == "" {
			svc.Method = "POST"
		}
		services = append(services, svc)
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				Db:           v.GetInt32("data.redis.db"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Gateway: &Gateway{
			MaxConcurrency: v.GetInt32("gateway.max_concurrency"),
			Services:       services,
		},
		Retry: &Retry{
			MaxAttempts: v.GetInt32("retry.max_attempts"),
			BaseDelay:   durationpb.New(v.GetDuration("retry.base_delay")),
		},
		Storage: &Storage{
			Layer1: loadLayer(v, "storage.layer1"),
			Layer2: loadLayer(v, "storage.layer2"),
			Layer3: loadLayer(v, "storage.layer3"),
		},
		Pipeline: &Pipeline{
			FailFast:         v.GetBool("pipeline.fail_fast"),
			DefaultServices:  v.GetStringMapStringSlice("pipeline.default_services"),
			AnomalyThreshold: v.GetFloat64("pipeline.anomaly_threshold"),
			RetryFailed:      v.GetBool("pipeline.retry_failed"),
			RunCacheSize:     v.GetInt32("pipeline.run_cache_size"),
			RunCacheTtl:      durationpb.New(v.GetDuration("pipeline.run_cache_ttl")),
			Persist:          v.GetBool("pipeline.persist"),
		},
		Scheduler: &Scheduler{
			ArchiveSweep: v.GetString("scheduler.archive_sweep"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

func loadLayer(v *viper.Viper, prefix string) *Storage_Layer {
	return &Storage_Layer{
		Backend:  strings.ToLower(v.GetString(prefix + ".backend")),
		Ttl:      durationpb.New(v.GetDuration(prefix + ".ttl")),
		Capacity: v.GetInt32(prefix + ".capacity"),
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("gateway.max_concurrency", 0)
	v.SetDefault("gateway.defaults.timeout", 5*time.Second)
	v.SetDefault("gateway.defaults.error_threshold", 5)
	v.SetDefault("gateway.defaults.reset_timeout", 30*time.Second)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 100*time.Millisecond)

	v.SetDefault("storage.layer1.backend", "redis")
	v.SetDefault("storage.layer1.ttl", time.Hour)
	v.SetDefault("storage.layer1.capacity", 10000)
	v.SetDefault("storage.layer2.backend", "redis")
	v.SetDefault("storage.layer2.ttl", 7*24*time.Hour)
	v.SetDefault("storage.layer2.capacity", 10000)
	v.SetDefault("storage.layer3.backend", "mysql")
	v.SetDefault("storage.layer3.ttl", 7*365*24*time.Hour)
	v.SetDefault("storage.layer3.capacity", 10000)

	v.SetDefault("pipeline.fail_fast", false)
	v.SetDefault("pipeline.anomaly_threshold", 2.0)
	v.SetDefault("pipeline.retry_failed", false)
	v.SetDefault("pipeline.run_cache_size", 4096)
	v.SetDefault("pipeline.run_cache_ttl", time.Hour)
	v.SetDefault("pipeline.persist", true)

	v.SetDefault("scheduler.archive_sweep", "0 0 * * * *")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing every problem found.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Storage == nil {
		problems = append(problems, "storage section is missing")
	} else {
		layers := []struct {
			name  string
			layer *Storage_Layer
		}{
			{"storage.layer1", bc.Storage.Layer1},
			{"storage.layer2", bc.Storage.Layer2},
			{"storage.layer3", bc.Storage.Layer3},
		}
		usesMySQL := false
		for _, l := range layers {
			if l.layer == nil {
				problems = append(problems, l.name+" is missing")
				continue
			}
			switch l.layer.Backend {
			case "redis", "memory":
			case "mysql":
				usesMySQL = true
			default:
				problems = append(problems, fmt.Sprintf("%s.backend %q is not one of redis, mysql, memory", l.name, l.layer.Backend))
			}
			if l.layer.Ttl.AsDuration() <= 0 {
				problems = append(problems, l.name+".ttl must be positive")
			}
		}
		if usesMySQL && (bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "") {
			problems = append(problems, "data.database.source (MYSQL_DSN) is required when a layer uses mysql")
		}
	}

	if bc.Gateway != nil {
		seen := make(map[string]bool, len(bc.Gateway.Services))
		for i, svc := range bc.Gateway.Services {
			field := fmt.Sprintf("gateway.services[%d]", i)
			if svc.Name == "" {
				problems = append(problems, field+".name is required")
			} else if seen[svc.Name] {
				problems = append(problems, fmt.Sprintf("%s.name %q is duplicated", field, svc.Name))
			}
			seen[svc.Name] = true
			if svc.Endpoint == "" {
				problems = append(problems, field+".endpoint is required")
			}
			if svc.Timeout.AsDuration() <= 0 {
				problems = append(problems, field+".timeout must be positive")
			}
			if svc.ErrorThreshold < 1 {
				problems = append(problems, field+".error_threshold must be at least 1")
			}
			if svc.ResetTimeout.AsDuration() <= 0 {
				problems = append(problems, field+".reset_timeout must be positive")
			}
		}
	}

	if bc.Retry != nil && bc.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
