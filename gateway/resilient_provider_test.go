package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentflow/llmgateway/gateway/circuitbreaker"
	"github.com/agentflow/llmgateway/gateway/retry"
	"github.com/agentflow/llmgateway/types"
)

// stubProvider is a function-backed test double for Provider.
type stubProvider struct {
	name         string
	completionFn func(ctx context.Context, req *ChatRequest) (*ChatResponse, *Error)
	grounding    bool
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) SupportsGrounding() bool { return p.grounding }
func (p *stubProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, *Error) {
	return p.completionFn(ctx, req)
}
func (p *stubProvider) HealthCheck(ctx context.Context) (*HealthStatus, *Error) {
	return &HealthStatus{Healthy: true}, nil
}

func TestResilientProvider_PassesThroughOnSuccess(t *testing.T) {
	provider := &stubProvider{
		name: "openai",
		completionFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, *Error) {
			return &ChatResponse{Content: "hi", Success: true}, nil
		},
	}
	rp := NewResilientProvider(provider, retry.NewEngine(retry.DefaultPolicy(), zap.NewNop()), circuitbreaker.New(circuitbreaker.DefaultConfig(), zap.NewNop()), zap.NewNop())

	resp, err := rp.Completion(context.Background(), &ChatRequest{Model: "gpt-5"})

	require.Nil(t, err)
	require.Equal(t, "hi", resp.Content)
}

func TestResilientProvider_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	provider := &stubProvider{
		name: "openai",
		completionFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, *Error) {
			calls++
			if calls < 2 {
				return nil, types.NewError(types.ErrServiceUnavailable, "bad gateway").WithHTTPStatus(503).WithRetryable(true)
			}
			return &ChatResponse{Content: "recovered", Success: true}, nil
		},
	}
	engine := retry.NewEngine(&retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, zap.NewNop())
	rp := NewResilientProvider(provider, engine, circuitbreaker.New(circuitbreaker.DefaultConfig(), zap.NewNop()), zap.NewNop())

	resp, err := rp.Completion(context.Background(), &ChatRequest{Model: "gpt-5"})

	require.Nil(t, err)
	require.Equal(t, "recovered", resp.Content)
	require.Equal(t, 2, calls)
}

func TestResilientProvider_BreakerShortCircuitsAfterFiveFailures(t *testing.T) {
	provider := &stubProvider{
		name: "openai",
		completionFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, *Error) {
			return nil, types.NewError(types.ErrServiceUnavailable, "bad gateway").WithHTTPStatus(503).WithRetryable(true)
		},
	}
	breaker := circuitbreaker.New(&circuitbreaker.Config{Threshold: 5, MinHold: time.Minute, MaxHold: 2 * time.Minute}, zap.NewNop())
	rp := NewResilientProvider(provider, nil, breaker, zap.NewNop())

	for i := 0; i < 5; i++ {
		_, err := rp.Completion(context.Background(), &ChatRequest{Model: "gpt-5"})
		require.NotNil(t, err)
	}

	_, err := rp.Completion(context.Background(), &ChatRequest{Model: "gpt-5"})
	require.NotNil(t, err)
	require.Equal(t, types.ErrServiceUnavailable, err.Code)
	require.False(t, err.Retryable)
}

func TestResilientProvider_MetadataCarriesRetryCountOnSuccess(t *testing.T) {
	calls := 0
	provider := &stubProvider{
		name: "openai",
		completionFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, *Error) {
			calls++
			if calls < 3 {
				return nil, types.NewError(types.ErrServiceUnavailable, "bad gateway").WithHTTPStatus(503).WithRetryable(true)
			}
			return &ChatResponse{Content: "ok", Success: true}, nil
		},
	}
	engine := retry.NewEngine(&retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, zap.NewNop())
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(), zap.NewNop())
	rp := NewResilientProvider(provider, engine, breaker, zap.NewNop())

	resp, err := rp.Completion(context.Background(), &ChatRequest{Model: "gpt-5"})

	require.Nil(t, err)
	require.Equal(t, 2, resp.Metadata["retry_count"])
	require.Equal(t, "closed", resp.Metadata["circuit_state"])
}

func TestResilientProvider_MetadataSurvivesOnFailure(t *testing.T) {
	provider := &stubProvider{
		name: "openai",
		completionFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, *Error) {
			return nil, types.NewError(types.ErrServiceUnavailable, "bad gateway").WithHTTPStatus(503).WithRetryable(false)
		},
	}
	rp := NewResilientProvider(provider, nil, nil, zap.NewNop())

	resp, err := rp.Completion(context.Background(), &ChatRequest{Model: "gpt-5"})

	require.NotNil(t, err)
	require.NotNil(t, resp, "a minimal response must still carry resiliency metadata on failure")
	require.Equal(t, 0, resp.Metadata["retry_count"])
	require.Equal(t, 503, resp.Metadata["upstream_status"])
	require.Empty(t, resp.Metadata["circuit_state"], "no breaker configured, so circuit_state must be unset rather than defaulting to closed")
}

func TestResilientProvider_Name(t *testing.T) {
	provider := &stubProvider{name: "vertex"}
	rp := NewResilientProvider(provider, nil, nil, zap.NewNop())
	require.Equal(t, "vertex", rp.Name())
}
