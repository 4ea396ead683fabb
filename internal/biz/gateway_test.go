package biz

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"InsightLane/internal/conf"
	"InsightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_Collect_Classification(t *testing.T) {
	tests := []struct {
		name          string
		caller        *stubCaller
		wantStatus    model.CollectStatus
		wantSuccesses int
		wantFailures  int
	}{
		{
			name:          "all succeed",
			caller:        newStubCaller().Succeed("a", 1).Succeed("b", 2).Succeed("c", 3),
			wantStatus:    model.CollectCompleted,
			wantSuccesses: 3,
		},
		{
			name:          "two of three succeed",
			caller:        newStubCaller().Succeed("a", 1).Succeed("b", 2).Fail("c", errBoom),
			wantStatus:    model.CollectPartialSuccess,
			wantSuccesses: 2,
			wantFailures:  1,
		},
		{
			name:         "all fail",
			caller:       newStubCaller().Fail("a", errBoom).Fail("b", errBoom).Fail("c", errBoom),
			wantStatus:   model.CollectFailed,
			wantFailures: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(newTestRegistry(t, tt.caller, "a", "b", "c"), nil, log.DefaultLogger)

			result, err := g.Collect(context.Background(), []string{"a", "b", "c"}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Len(t, result.Successes, tt.wantSuccesses)
			assert.Len(t, result.Failures, tt.wantFailures)
		})
	}
}

func TestGateway_Collect_OutcomeDetails(t *testing.T) {
	caller := newStubCaller().
		Succeed("a", map[string]any{"views": 10.0}).
		Fail("b", errBoom)
	g := NewGateway(newTestRegistry(t, caller, "a", "b"), nil, log.DefaultLogger)

	result, err := g.Collect(context.Background(), []string{"a", "b", "a"}, map[string]any{"user_id": "u1"})
	require.NoError(t, err)

	ok := result.Successes["a"]
	require.NotNil(t, ok)
	assert.True(t, ok.Success)
	assert.Equal(t, map[string]any{"views": 10.0}, ok.Data)
	assert.Equal(t, 1, ok.Attempts)

	failed := result.Failures["b"]
	require.NotNil(t, failed)
	assert.False(t, failed.Success)
	assert.Equal(t, "boom", failed.Error)
	assert.Equal(t, "SERVICE_ERROR", failed.ErrorReason)

	assert.Equal(t, 1, caller.Calls("a"), "duplicate names are called once")
}

func TestGateway_Collect_LegsRunConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(context.Context, map[string]any) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	}
	caller := newStubCaller().On("a", slow).On("b", slow).On("c", slow)
	g := NewGateway(newTestRegistry(t, caller, "a", "b", "c"), nil, log.DefaultLogger)

	result, err := g.Collect(context.Background(), []string{"a", "b", "c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.CollectCompleted, result.Status)
	assert.Equal(t, int32(3), peak.Load())
}

func TestGateway_Collect_MaxConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(context.Context, map[string]any) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	}
	caller := newStubCaller().On("a", slow).On("b", slow).On("c", slow).On("d", slow)
	g := NewGateway(newTestRegistry(t, caller, "a", "b", "c", "d"), &conf.Gateway{MaxConcurrency: 2}, log.DefaultLogger)

	_, err := g.Collect(context.Background(), []string{"a", "b", "c", "d"}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGateway_Collect_SlowLegDoesNotBlockFailures(t *testing.T) {
	caller := newStubCaller().
		On("slow", func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).
		Succeed("fast", "ok")
	descriptors := testDescriptors("slow", "fast")
	descriptors[0].Timeout = 20 * time.Millisecond
	r, err := BuildServiceRegistry(descriptors, caller, nil, log.DefaultLogger)
	require.NoError(t, err)
	g := NewGateway(r, nil, log.DefaultLogger)

	result, err := g.Collect(context.Background(), []string{"slow", "fast"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.CollectPartialSuccess, result.Status)
	assert.Equal(t, ReasonServiceTimeout, result.Failures["slow"].ErrorReason)
	assert.GreaterOrEqual(t, result.ElapsedMs, int64(20))
}

func TestGateway_Collect_OpenCircuitIsData(t *testing.T) {
	caller := newStubCaller().Fail("a", errBoom).Succeed("b", "ok")
	descriptors := testDescriptors("a", "b")
	descriptors[0].ErrorThreshold = 1
	r, err := BuildServiceRegistry(descriptors, caller, nil, log.DefaultLogger)
	require.NoError(t, err)
	g := NewGateway(r, nil, log.DefaultLogger)

	_, err = g.Collect(context.Background(), []string{"a", "b"}, nil)
	require.NoError(t, err)

	result, err := g.Collect(context.Background(), []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonCircuitOpen, result.Failures["a"].ErrorReason)
	assert.Equal(t, 1, caller.Calls("a"))
}

func TestGateway_Collect_RejectsBadInput(t *testing.T) {
	caller := newStubCaller().Succeed("a", "ok")
	g := NewGateway(newTestRegistry(t, caller, "a"), nil, log.DefaultLogger)

	_, err := g.Collect(context.Background(), nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = g.Collect(context.Background(), []string{"a", "ghost"}, nil)
	assert.True(t, errors.Is(err, ErrUnknownService))
	assert.Contains(t, err.Error(), "ghost")
	assert.Equal(t, 0, caller.Calls("a"), "no leg runs when a name is unknown")
}
