package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestNewBootstrap_Defaults(t *testing.T) {
	configPath := writeConfig(t, `server:
  http:
    addr: :8080
gateway:
  services:
    - name: user-service
      endpoint: http://users.internal:8000
      path: /v1/analytics
`)
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/insight")

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "tcp", bc.Server.Http.Network)
	assert.Equal(t, 30*time.Second, bc.Server.Http.Timeout.AsDuration())

	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.ReadTimeout.AsDuration())
	assert.Equal(t, "user:pass@tcp(localhost:3306)/insight", bc.Data.Database.Source)

	require.Len(t, bc.Gateway.Services, 1)
	svc := bc.Gateway.Services[0]
	assert.Equal(t, "user-service", svc.Name)
	assert.Equal(t, "POST", svc.Method)
	assert.Equal(t, 5*time.Second, svc.Timeout.AsDuration())
	assert.Equal(t, int32(5), svc.ErrorThreshold)
	assert.Equal(t, 30*time.Second, svc.ResetTimeout.AsDuration())

	assert.Equal(t, int32(3), bc.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, bc.Retry.BaseDelay.AsDuration())

	assert.Equal(t, "redis", bc.Storage.Layer1.Backend)
	assert.Equal(t, time.Hour, bc.Storage.Layer1.Ttl.AsDuration())
	assert.Equal(t, 7*24*time.Hour, bc.Storage.Layer2.Ttl.AsDuration())
	assert.Equal(t, "mysql", bc.Storage.Layer3.Backend)
	assert.Equal(t, 7*365*24*time.Hour, bc.Storage.Layer3.Ttl.AsDuration())

	assert.False(t, bc.Pipeline.FailFast)
	assert.Equal(t, 2.0, bc.Pipeline.AnomalyThreshold)
	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
	assert.Equal(t, "0 0 * * * *", bc.Scheduler.ArchiveSweep)
}

func TestNewBootstrap_ServiceOverrides(t *testing.T) {
	configPath := writeConfig(t, `gateway:
  max_concurrency: 8
  services:
    - name: behavior-service
      endpoint: behavior.internal:9000
      method: get
      rate_limit: 20
      timeout: 750ms
      error_threshold: 2
      reset_timeout: 10s
pipeline:
  fail_fast: true
  default_services:
    engagement: [behavior-service]
storage:
  layer3:
    backend: memory
`)

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)

	assert.Equal(t, int32(8), bc.Gateway.MaxConcurrency)
	svc := bc.Gateway.Services[0]
	assert.Equal(t, "GET", svc.Method)
	assert.Equal(t, 20.0, svc.RateLimit)
	assert.Equal(t, 750*time.Millisecond, svc.Timeout.AsDuration())
	assert.Equal(t, int32(2), svc.ErrorThreshold)
	assert.Equal(t, 10*time.Second, svc.ResetTimeout.AsDuration())

	assert.True(t, bc.Pipeline.FailFast)
	assert.Equal(t, []string{"behavior-service"}, bc.Pipeline.DefaultServices["engagement"])
	assert.Equal(t, "memory", bc.Storage.Layer3.Backend)
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectedVal func(*Bootstrap) bool
	}{
		{
			name:    "override_http_addr",
			envVars: map[string]string{"INSIGHTLANE_SERVER_HTTP_ADDR": ":9999"},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Server.Http.Addr == ":9999"
			},
		},
		{
			name:    "override_redis_addr_short_name",
			envVars: map[string]string{"REDIS_ADDR": "redis.example.com:6379"},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Data.Redis.Addr == "redis.example.com:6379"
			},
		},
		{
			name:    "override_log_level",
			envVars: map[string]string{"INSIGHTLANE_LOG_LEVEL": "debug"},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Log.Level == "debug"
			},
		},
		{
			name:    "override_fail_fast",
			envVars: map[string]string{"INSIGHTLANE_PIPELINE_FAIL_FAST": "true"},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Pipeline.FailFast
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, `storage:
  layer3:
    backend: memory
`)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			bc, err := NewBootstrap(configPath)
			require.NoError(t, err)
			assert.True(t, tt.expectedVal(bc))
		})
	}
}

func TestNewBootstrap_InvalidServices(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		expectedError string
	}{
		{
			name: "missing_name",
			content: `gateway:
  services:
    - endpoint: http://a
`,
			expectedError: "gateway.services[0].name is required",
		},
		{
			name: "missing_endpoint",
			content: `gateway:
  services:
    - name: a
`,
			expectedError: "gateway.services[0].endpoint is required",
		},
		{
			name: "duplicate_name",
			content: `gateway:
  services:
    - name: a
      endpoint: http://a
    - name: a
      endpoint: http://b
`,
			expectedError: `gateway.services[1].name "a" is duplicated`,
		},
		{
			name: "negative_threshold",
			content: `gateway:
  services:
    - name: a
      endpoint: http://a
      error_threshold: -1
`,
			expectedError: "error_threshold must be at least 1",
		},
		{
			name: "negative_timeout",
			content: `gateway:
  services:
    - name: a
      endpoint: http://a
      timeout: -1s
`,
			expectedError: "timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/insight")
			bc, err := NewBootstrap(writeConfig(t, tt.content))
			assert.Error(t, err)
			assert.Nil(t, bc)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestNewBootstrap_MySQLRequiredForArchive(t *testing.T) {
	os.Unsetenv("MYSQL_DSN")
	os.Unsetenv("INSIGHTLANE_DATA_DATABASE_SOURCE")

	bc, err := NewBootstrap("")
	assert.Error(t, err)
	assert.Nil(t, bc)
	assert.Contains(t, err.Error(), "data.database.source (MYSQL_DSN)")
}

func TestNewBootstrap_ConfigFileNotFound(t *testing.T) {
	bc, err := NewBootstrap("/non/existent/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, bc)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate_UnknownBackend(t *testing.T) {
	layer := func(backend string) *Storage_Layer {
		return &Storage_Layer{Backend: backend, Ttl: durationpb.New(time.Hour)}
	}
	bc := &Bootstrap{
		Storage: &Storage{
			Layer1: layer("redis"),
			Layer2: layer("cassandra"),
			Layer3: layer("memory"),
		},
	}

	err := Validate(bc)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `storage.layer2.backend "cassandra"`)
}

func TestValidate_AllFieldsPresent(t *testing.T) {
	layer := &Storage_Layer{Backend: "memory", Ttl: durationpb.New(time.Hour)}
	bc := &Bootstrap{
		Storage: &Storage{Layer1: layer, Layer2: layer, Layer3: layer},
		Gateway: &Gateway{
			Services: []*Gateway_Service{{
				Name:           "a",
				Endpoint:       "http://a",
				Timeout:        durationpb.New(time.Second),
				ErrorThreshold: 1,
				ResetTimeout:   durationpb.New(time.Second),
			}},
		},
		Retry: &Retry{MaxAttempts: 3},
	}

	assert.NoError(t, Validate(bc))
}
