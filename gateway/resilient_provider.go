package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentflow/llmgateway/gateway/circuitbreaker"
	"github.com/agentflow/llmgateway/gateway/retry"
	"github.com/agentflow/llmgateway/types"
)

// ResilientProvider wraps a Provider with the resiliency layer: every call
// goes through the circuit breaker's Allow/RecordX gate and the
// retry engine's attempt loop. It follows the decorator pattern — the
// underlying Provider is never modified, only wrapped.
type ResilientProvider struct {
	provider Provider
	retry    *retry.Engine
	breaker  *circuitbreaker.Breaker
	logger   *zap.Logger
}

// NewResilientProvider builds a ResilientProvider. A nil retry or breaker
// disables that stage (the call still runs, just without the guard).
func NewResilientProvider(provider Provider, retryEngine *retry.Engine, breaker *circuitbreaker.Breaker, logger *zap.Logger) *ResilientProvider {
	return &ResilientProvider{provider: provider, retry: retryEngine, breaker: breaker, logger: logger}
}

// Completion implements Provider.Completion, gating the underlying call
// through the circuit breaker and driving it through the retry engine.
func (rp *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, *Error) {
	key := circuitbreaker.Key(rp.provider.Name(), req.Model)

	if rp.breaker != nil {
		if ok, err := rp.breaker.Allow(key); !ok {
			if rp.logger != nil {
				rp.logger.Warn("circuit breaker short-circuited call",
					zap.String("vendor", rp.provider.Name()),
					zap.String("model", req.Model),
				)
			}
			return nil, types.NewError(types.ErrServiceUnavailable, err.Error()).
				WithProvider(rp.provider.Name()).WithRetryable(false)
		}
	}

	call := func(ctx context.Context, attempt int) (any, int, time.Duration, *types.Error) {
		resp, callErr := rp.provider.Completion(ctx, req)
		if callErr == nil {
			return resp, 0, 0, nil
		}
		return nil, callErr.HTTPStatus, callErr.RetryAfter, callErr
	}

	var resp *ChatResponse
	var gErr *types.Error
	var history []retry.Attempt
	var finalStatus int

	if rp.retry != nil {
		result, h, err := rp.retry.Do(ctx, req.Model, req.Messages, call)
		history = h
		gErr = err
		if err == nil {
			resp, _ = result.(*ChatResponse)
		}
	} else {
		result, status, _, err := call(ctx, 1)
		gErr = err
		finalStatus = status
		if err == nil {
			resp, _ = result.(*ChatResponse)
		}
	}

	var circuitState string
	if rp.breaker != nil {
		if gErr == nil {
			rp.breaker.RecordSuccess(key)
		} else {
			rp.breaker.RecordFailure(key, failureClassFor(gErr))
		}
		circuitState = rp.breaker.State(key).String()
	}

	resp = withResiliencyMetadata(resp, history, circuitState, finalStatus)

	return resp, gErr
}

// withResiliencyMetadata threads the retry engine's attempt history and the
// breaker's post-call state into the response's Metadata, the same carrier
// already used for grounding fields — this is the only path back to the
// router for calls the retry/breaker layer touched. resp may be nil on a
// failed call; a minimal response carrying only Metadata is returned so the
// caller can still recover the resiliency fields for telemetry before
// discarding the response itself.
func withResiliencyMetadata(resp *ChatResponse, history []retry.Attempt, circuitState string, finalStatus int) *ChatResponse {
	if resp == nil {
		resp = &ChatResponse{}
	}
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}

	var lastBackoffMS int64
	upstreamStatus := finalStatus
	if len(history) > 0 {
		last := history[len(history)-1]
		lastBackoffMS = last.Delay.Milliseconds()
		if upstreamStatus == 0 {
			upstreamStatus = last.UpstreamStatus
		}
	}

	resp.Metadata["retry_count"] = len(history)
	resp.Metadata["last_backoff_ms"] = lastBackoffMS
	resp.Metadata["upstream_status"] = upstreamStatus
	if circuitState != "" {
		resp.Metadata["circuit_state"] = circuitState
	}
	return resp
}

// HealthCheck delegates to the underlying provider; health probes bypass
// the breaker and retry engine entirely.
func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, *Error) {
	return rp.provider.HealthCheck(ctx)
}

// Name implements Provider.Name.
func (rp *ResilientProvider) Name() string { return rp.provider.Name() }

// SupportsGrounding implements Provider.SupportsGrounding.
func (rp *ResilientProvider) SupportsGrounding() bool { return rp.provider.SupportsGrounding() }

func failureClassFor(err *types.Error) circuitbreaker.FailureClass {
	switch err.Code {
	case types.ErrServiceUnavailable:
		return circuitbreaker.FailureUpstream5xx
	case types.ErrRateLimited, types.ErrRateLimitedQuota:
		return circuitbreaker.FailureRateLimited
	default:
		return circuitbreaker.FailureOther
	}
}
