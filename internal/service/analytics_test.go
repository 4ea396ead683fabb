package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"InsightLane/internal/biz"
	"InsightLane/internal/conf"
	"InsightLane/internal/data"
	"InsightLane/internal/model"
	pkglog "InsightLane/pkg/log"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// fakeCaller answers "views" series for every service except "down".
type fakeCaller struct{}

func (fakeCaller) Call(_ context.Context, svc *model.ServiceDescriptor, _ map[string]any) (any, error) {
	if svc.Name == "down" {
		return nil, errors.New("connection refused")
	}
	return []any{
		map[string]any{"views": 10.0},
		map[string]any{"views": 20.0},
		map[string]any{"views": 30.0},
	}, nil
}

func newTestServer(t *testing.T) (*http.Server, *AnalyticsService) {
	t.Helper()
	return newTestServerWithNotifier(t, nil)
}

func newTestServerWithNotifier(t *testing.T, notifier biz.CircuitEventNotifier, opts ...http.ServerOption) (*http.Server, *AnalyticsService) {
	t.Helper()
	svc := func(name string) *conf.Gateway_Service {
		return &conf.Gateway_Service{
			Name:           name,
			Endpoint:       "http://" + name,
			Method:         "POST",
			Timeout:        durationpb.New(time.Second),
			ErrorThreshold: 5,
			ResetTimeout:   durationpb.New(time.Minute),
		}
	}
	gw := &conf.Gateway{Services: []*conf.Gateway_Service{svc("users"), svc("content"), svc("down")}}

	registry, err := biz.NewServiceRegistry(gw, fakeCaller{}, notifier, log.DefaultLogger)
	require.NoError(t, err)
	retry := biz.NewRetryOrchestrator(registry, &conf.Retry{MaxAttempts: 2, BaseDelay: durationpb.New(time.Millisecond)}, log.DefaultLogger)
	store := biz.NewTieredStore(&biz.StorageLayers{
		Cache:    data.NewMemoryLayer(100),
		Personal: data.NewMemoryLayer(100),
		Archive:  data.NewMemoryLayer(100),
	}, nil, log.DefaultLogger)
	pc := &conf.Pipeline{
		Persist:         true,
		DefaultServices: map[string][]string{"engagement": {"users", "content"}},
	}
	pipeline := biz.NewPipelineUsecase(biz.NewGateway(registry, gw, log.DefaultLogger), retry, store, data.NewRunStore(pc), pc, log.DefaultLogger)

	s := NewAnalyticsService(pipeline, store, registry, retry, log.DefaultLogger)
	srv := http.NewServer(opts...)
	RegisterAnalyticsHTTPServer(srv, s)
	return srv, s
}

func doJSON(t *testing.T, srv *http.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestAnalyticsHTTP_ExecuteThenRetrieve(t *testing.T) {
	srv, _ := newTestServer(t)

	code, out := doJSON(t, srv, nethttp.MethodPost, "/v1/pipeline/execute", map[string]any{
		"user_id":        "u1",
		"analytics_type": "engagement",
	})
	require.Equal(t, nethttp.StatusOK, code, out)
	assert.Equal(t, string(biz.ExecutionCompleted), out["status"])

	code, out = doJSON(t, srv, nethttp.MethodGet, "/v1/storage/u1/engagement?range=1h", nil)
	require.Equal(t, nethttp.StatusOK, code, out)
	assert.Equal(t, "analytics:u1:engagement", out["storage_id"])
	assert.NotNil(t, out["data"])
}

func TestAnalyticsHTTP_StagedRun(t *testing.T) {
	srv, _ := newTestServer(t)

	code, collected := doJSON(t, srv, nethttp.MethodPost, "/v1/pipeline/collect", map[string]any{
		"user_id":        "u2",
		"analytics_type": "engagement",
		"services":       []string{"users", "down"},
	})
	require.Equal(t, nethttp.StatusOK, code, collected)
	assert.Equal(t, string(model.CollectPartialSuccess), collected["status"])

	code, analyzed := doJSON(t, srv, nethttp.MethodPost, "/v1/pipeline/analyze", map[string]any{
		"collection_id": collected["collection_id"],
		"anomalies":     false,
	})
	require.Equal(t, nethttp.StatusOK, code, analyzed)
	assert.Equal(t, collected["collection_id"], analyzed["collection_id"])
	assert.Nil(t, analyzed["anomalies"])

	code, aggregated := doJSON(t, srv, nethttp.MethodPost, "/v1/pipeline/aggregate", map[string]any{
		"analysis_id": analyzed["analysis_id"],
		"persist":     false,
	})
	require.Equal(t, nethttp.StatusOK, code, aggregated)
	assert.Equal(t, analyzed["analysis_id"], aggregated["analysis_id"])
	assert.Nil(t, aggregated["storage"])
}

func TestAnalyticsHTTP_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		reason string
	}{
		{"analyze without collection", nethttp.MethodPost, "/v1/pipeline/analyze", map[string]any{}, 400, biz.ReasonInvalidArgument},
		{"aggregate without analysis", nethttp.MethodPost, "/v1/pipeline/aggregate", nil, 400, biz.ReasonInvalidArgument},
		{"unknown collection", nethttp.MethodPost, "/v1/pipeline/analyze", map[string]any{"collection_id": "nope"}, 404, biz.ReasonRunNotFound},
		{"nothing stored", nethttp.MethodGet, "/v1/storage/ghost/engagement", nil, 404, biz.ReasonStorageNotFound},
		{"bad range", nethttp.MethodGet, "/v1/storage/u1/engagement?range=soon", nil, 400, biz.ReasonInvalidArgument},
		{"unknown circuit", nethttp.MethodGet, "/v1/circuits/ghost", nil, 404, biz.ReasonUnknownService},
		{"bad base delay", nethttp.MethodPost, "/v1/services/users/retry", map[string]any{"base_delay": "fast"}, 400, biz.ReasonInvalidArgument},
		{"bad ttl", nethttp.MethodPost, "/v1/pipeline/aggregate", map[string]any{"analysis_id": "a", "ttl": map[string]any{"layer1": "x"}}, 400, biz.ReasonInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := doJSON(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, code, out)
			assert.Equal(t, tt.reason, out["reason"])
		})
	}
}

func TestAnalyticsHTTP_Circuits(t *testing.T) {
	srv, _ := newTestServer(t)

	code, out := doJSON(t, srv, nethttp.MethodGet, "/v1/circuits", nil)
	require.Equal(t, nethttp.StatusOK, code)
	assert.Len(t, out["circuits"], 3)

	code, out = doJSON(t, srv, nethttp.MethodGet, "/v1/circuits/users", nil)
	require.Equal(t, nethttp.StatusOK, code)
	assert.Equal(t, "users", out["service"])
	assert.Equal(t, "CLOSED", out["state"])

	code, out = doJSON(t, srv, nethttp.MethodPost, "/v1/circuits/users/reset", nil)
	require.Equal(t, nethttp.StatusOK, code)
	assert.EqualValues(t, 0, out["failure_count"])
}

func TestAnalyticsHTTP_CircuitLastTransition(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	d, cleanup, err := data.NewData(&conf.Data{}, log.DefaultLogger, rdb, nil, data.NewCacheClient(rdb))
	require.NoError(t, err)
	defer cleanup()

	srv, _ := newTestServerWithNotifier(t, data.NewCircuitEventNotifier(d, log.DefaultLogger))

	code, out := doJSON(t, srv, nethttp.MethodGet, "/v1/circuits/down", nil)
	require.Equal(t, nethttp.StatusOK, code, out)
	assert.NotContains(t, out, "last_transition")

	code, out = doJSON(t, srv, nethttp.MethodPost, "/v1/services/down/retry", map[string]any{
		"max_attempts": 5,
		"base_delay":   "1ms",
	})
	require.Equal(t, nethttp.StatusOK, code, out)

	code, out = doJSON(t, srv, nethttp.MethodGet, "/v1/circuits/down", nil)
	require.Equal(t, nethttp.StatusOK, code, out)
	assert.Equal(t, "OPEN", out["state"])
	last, ok := out["last_transition"].(map[string]any)
	require.True(t, ok, out)
	assert.Equal(t, "CLOSED", last["from"])
	assert.Equal(t, "OPEN", last["to"])
	assert.Equal(t, "threshold", last["reason"])

	mr.Close()
	code, out = doJSON(t, srv, nethttp.MethodGet, "/v1/circuits/down", nil)
	require.Equal(t, nethttp.StatusOK, code, out)
	assert.Equal(t, "OPEN", out["state"])
	assert.NotContains(t, out, "last_transition")
}

func TestAnalyticsService_UserFromRequestContext(t *testing.T) {
	_, s := newTestServer(t)
	ctx := pkglog.WithRequestContext(context.Background(), "req-1", "u9")

	collected, err := s.Collect(ctx, &CollectRequest{AnalyticsType: "engagement"})
	require.NoError(t, err)
	assert.Equal(t, "u9", collected.UserID)

	executed, err := s.Execute(ctx, &ExecuteRequest{AnalyticsType: "engagement"})
	require.NoError(t, err)
	assert.Equal(t, string(biz.ExecutionCompleted), string(executed.Status))

	stored, err := s.Retrieve(ctx, &RetrieveRequest{Owner: "u9", Kind: "engagement", Range: "1h"})
	require.NoError(t, err)
	assert.Equal(t, "analytics:u9:engagement", stored.StorageID)
}

func TestAnalyticsHTTP_RetryService(t *testing.T) {
	srv, _ := newTestServer(t)

	code, out := doJSON(t, srv, nethttp.MethodPost, "/v1/services/users/retry", nil)
	require.Equal(t, nethttp.StatusOK, code, out)
	assert.Equal(t, string(biz.RetrySuccessful), out["status"])
	assert.EqualValues(t, 1, out["attempts_made"])

	code, out = doJSON(t, srv, nethttp.MethodPost, "/v1/services/down/retry", map[string]any{
		"max_attempts": 3,
		"base_delay":   "1ms",
	})
	require.Equal(t, nethttp.StatusOK, code, out)
	assert.Equal(t, string(biz.RetryFailed), out["status"])
	assert.EqualValues(t, 3, out["attempts_made"])
}

func TestAnalyticsHTTP_Operations(t *testing.T) {
	var operation string
	recordOperation := func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
			}
			return handler(ctx, req)
		}
	}
	srv, _ := newTestServerWithNotifier(t, nil, http.Middleware(recordOperation))

	tests := []struct {
		method    string
		path      string
		body      any
		operation string
	}{
		{nethttp.MethodPost, "/v1/pipeline/collect", map[string]any{"user_id": "u3", "analytics_type": "engagement"}, OperationAnalyticsCollect},
		{nethttp.MethodPost, "/v1/pipeline/analyze", map[string]any{"collection_id": "nope"}, OperationAnalyticsAnalyze},
		{nethttp.MethodPost, "/v1/pipeline/aggregate", map[string]any{"analysis_id": "nope"}, OperationAnalyticsAggregate},
		{nethttp.MethodPost, "/v1/pipeline/execute", map[string]any{"user_id": "u3", "analytics_type": "engagement"}, OperationAnalyticsExecute},
		{nethttp.MethodGet, "/v1/storage/u3/engagement", nil, OperationAnalyticsRetrieve},
		{nethttp.MethodGet, "/v1/circuits", nil, OperationAnalyticsListCircuits},
		{nethttp.MethodGet, "/v1/circuits/users", nil, OperationAnalyticsGetCircuit},
		{nethttp.MethodPost, "/v1/circuits/users/reset", nil, OperationAnalyticsResetCircuit},
		{nethttp.MethodPost, "/v1/services/users/retry", nil, OperationAnalyticsRetryService},
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			operation = ""
			doJSON(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.operation, operation)
		})
	}
}

func TestAnalyzeOptions_Apply(t *testing.T) {
	off := false
	cfg := AnalyzeOptions{Trends: &off, AnomalyThreshold: 3}.apply(biz.DefaultAnalysisConfig())

	assert.True(t, cfg.Statistics)
	assert.True(t, cfg.Anomalies)
	assert.False(t, cfg.Trends)
	assert.Equal(t, 3.0, cfg.AnomalyThreshold)
}

func TestAggregateOptions_Apply(t *testing.T) {
	off := false
	cfg, err := AggregateOptions{
		Recommendations: &off,
		TTL:             &TTLOptions{Layer2: "7d", Layer3: "1y"},
	}.apply(biz.AggregationConfig{Recommendations: true, Trends: true, Persist: true})
	require.NoError(t, err)

	assert.False(t, cfg.Recommendations)
	assert.True(t, cfg.Trends)
	assert.True(t, cfg.Persist)
	assert.Zero(t, cfg.TTLs.Layer1)
	assert.Equal(t, 7*24*time.Hour, cfg.TTLs.Layer2)
	assert.Equal(t, 365*24*time.Hour, cfg.TTLs.Layer3)
}
