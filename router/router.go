// Package router implements the gateway's single entry point: request
// validation, ALS injection, vendor dispatch through the resiliency layer,
// and telemetry emission.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentflow/llmgateway/als"
	"github.com/agentflow/llmgateway/gateway"
	"github.com/agentflow/llmgateway/internal/metrics"
	"github.com/agentflow/llmgateway/internal/pool"
	"github.com/agentflow/llmgateway/ratelimit"
	"github.com/agentflow/llmgateway/registry"
	"github.com/agentflow/llmgateway/telemetry"
	"github.com/agentflow/llmgateway/types"
)

// maxHealthCheckWorkers bounds how many providers are probed concurrently;
// the provider set is small and fixed, so a handful of workers is plenty.
const maxHealthCheckWorkers = 8

// Timeouts bounds how long a single call may run, split by grounding
// policy since grounded calls make an extra upstream round trip.
type Timeouts struct {
	Grounded   time.Duration
	Ungrounded time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Grounded: 120 * time.Second, Ungrounded: 60 * time.Second}
}

// Options configures a Router.
type Options struct {
	Timeouts            Timeouts
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	Logger              *zap.Logger
	// Metrics is optional; when nil, the router simply skips Prometheus
	// recording.
	Metrics *metrics.Collector
}

func normalizeOptions(opts Options) Options {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeouts.Grounded <= 0 || opts.Timeouts.Ungrounded <= 0 {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = 60 * time.Second
	}
	if opts.HealthCheckTimeout <= 0 {
		opts.HealthCheckTimeout = 10 * time.Second
	}
	return opts
}

// Router is the gateway's only entry point. It is the only component
// permitted to mutate a ChatRequest (ALS injection, policy normalization);
// every downstream component treats the request as read-only.
type Router struct {
	registry  *registry.Registry
	als       *als.Builder
	limiters  map[string]*ratelimit.Limiter // vendor -> limiter
	providers map[string]gateway.Provider   // vendor -> resilient provider
	emitter   *telemetry.Emitter
	logger    *zap.Logger
	metrics   *metrics.Collector

	timeouts Timeouts

	healthCheckInterval time.Duration
	healthCheckTimeout  time.Duration
	healthCheckCancel   context.CancelFunc
	healthPool          *pool.GoroutinePool
}

// New builds a Router wired to the given registry, ALS builder, per-vendor
// rate limiters, resilient providers, and telemetry emitter. It starts a
// background goroutine probing every provider's health on a fixed interval.
func New(
	reg *registry.Registry,
	alsBuilder *als.Builder,
	limiters map[string]*ratelimit.Limiter,
	providers map[string]gateway.Provider,
	emitter *telemetry.Emitter,
	opts Options,
) *Router {
	opts = normalizeOptions(opts)
	workers := len(providers)
	if workers == 0 {
		workers = 1
	}
	if workers > maxHealthCheckWorkers {
		workers = maxHealthCheckWorkers
	}
	r := &Router{
		registry:            reg,
		als:                 alsBuilder,
		limiters:            limiters,
		providers:           providers,
		emitter:             emitter,
		logger:              opts.Logger,
		metrics:             opts.Metrics,
		timeouts:            opts.Timeouts,
		healthCheckInterval: opts.HealthCheckInterval,
		healthCheckTimeout:  opts.HealthCheckTimeout,
		healthPool: pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			MaxWorkers:  workers,
			QueueSize:   workers * 2,
			IdleTimeout: opts.HealthCheckInterval,
		}),
	}
	r.startHealthChecks()
	return r
}

// Stop cancels the background health-check loop and drains the health-check
// worker pool.
func (r *Router) Stop() {
	if r.healthCheckCancel != nil {
		r.healthCheckCancel()
	}
	if r.healthPool != nil {
		r.healthPool.Close()
	}
}

func (r *Router) startHealthChecks() {
	if len(r.providers) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.healthCheckCancel = cancel

	ticker := time.NewTicker(r.healthCheckInterval)
	go func() {
		defer ticker.Stop()
		r.probeProviders(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.probeProviders(ctx)
			}
		}
	}()
}

func (r *Router) probeProviders(parent context.Context) {
	var wg sync.WaitGroup
	for vendor, p := range r.providers {
		vendor, p := vendor, p
		wg.Add(1)
		err := r.healthPool.Submit(parent, func(ctx context.Context) error {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, r.healthCheckTimeout)
			defer cancel()
			_, err := p.HealthCheck(probeCtx)
			if err != nil {
				r.logger.Warn("provider health check failed", zap.String("vendor", vendor), zap.Error(err))
			}
			return err
		})
		if err != nil {
			wg.Done()
			r.logger.Warn("provider health check not scheduled", zap.String("vendor", vendor), zap.Error(err))
		}
	}
	wg.Wait()
}

// Complete is the gateway's inbound entry point. It never panics and never
// returns the adapter's raw error to a caller outside the response
// contract: every outcome, success or failure, produces exactly one
// telemetry record and an explicit *gateway.Error result.
func (r *Router) Complete(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, *gateway.Error) {
	start := time.Now()
	runID := uuid.NewString()
	requestID := req.Meta["request_id"]
	if requestID == "" {
		requestID = runID
	}

	rec := telemetry.Record{RunID: runID, RequestID: requestID, RequestedModel: req.Model}
	if req.Meta != nil {
		rec.TenantID = req.Meta["tenant_id"]
	}

	resp, gerr := r.dispatch(ctx, req, &rec)

	rec.LatencyMS = time.Since(start).Milliseconds()
	if gerr != nil {
		rec.Success = false
		rec.ErrorKind = string(gerr.Code)
		rec.ErrorMessage = gerr.Message
	} else {
		rec.Success = resp.Success
		rec.EffectiveModel = req.Model
		rec.GroundedEffective = resp.GroundedEffective
		rec.ToolCallCount, _ = resp.Metadata["tool_call_count"].(int)
		rec.AnchoredCitationsCount, _ = resp.Metadata["anchored_citations_count"].(int)
		rec.UnlinkedSourcesCount, _ = resp.Metadata["unlinked_sources_count"].(int)
		rec.WhyNotGrounded, _ = resp.Metadata["why_not_grounded"].(string)
		rec.PromptTokens = resp.Usage.Prompt
		rec.CompletionTokens = resp.Usage.Completion
		rec.TotalTokens = resp.Usage.Total
		rec.ResponseAPIVariant, _ = resp.Metadata["response_api_variant"].(string)
	}
	if r.emitter != nil {
		r.emitter.Emit(rec)
	}
	r.recordMetrics(rec)

	return resp, gerr
}

// recordMetrics mirrors the telemetry record into Prometheus, skipping
// quietly when no collector is wired.
func (r *Router) recordMetrics(rec telemetry.Record) {
	if r.metrics == nil {
		return
	}
	status := "success"
	if !rec.Success {
		status = "error"
	}
	r.metrics.RecordLLMRequest(rec.Vendor, rec.RequestedModel, status, time.Duration(rec.LatencyMS)*time.Millisecond, rec.PromptTokens, rec.CompletionTokens)
	r.metrics.RecordRetries(rec.Vendor, rec.RequestedModel, rec.RetryCount)
	if rec.CircuitState != "" {
		r.metrics.SetCircuitBreakerState(rec.Vendor, rec.RequestedModel, rec.CircuitState)
	}
	if rec.RateLimiterBypassed {
		r.metrics.RecordRateLimiterBypass(rec.Vendor)
	}
}

func (r *Router) dispatch(ctx context.Context, req *gateway.ChatRequest, rec *telemetry.Record) (*gateway.ChatResponse, *gateway.Error) {
	// 1. Infer vendor if missing, validate vendor and model.
	if req.Vendor == "" {
		req.Vendor = r.registry.InferVendor(req.Model)
	}
	if req.Vendor == "" {
		return nil, types.NewError(types.ErrModelNotAllowed, "could not infer vendor for model: "+req.Model)
	}
	vendor := strings.ToLower(req.Vendor)

	req.Model = r.registry.Normalize(vendor, req.Model)
	if ok, err := r.registry.Validate(vendor, req.Model); !ok {
		return nil, err
	}

	rec.Vendor = vendor
	rec.GroundedRequested = req.Grounded
	rec.GroundingMode = string(req.GroundingMode)

	// 2. Policy normalization: strip legacy transport-mode fields.
	normalizePolicy(req)

	// 3. Inject ALS exactly once.
	if req.ALSContext != nil && req.Meta["als_applied"] != "true" {
		if err := r.injectALS(req, rec); err != nil {
			return nil, err
		}
	}

	provider, ok := r.providers[vendor]
	if !ok {
		return nil, types.NewError(types.ErrModelNotAllowed, "no provider configured for vendor: "+vendor)
	}

	// 4. Compute the call deadline.
	timeout := r.timeouts.Ungrounded
	if req.Grounded || req.GroundingMode == gateway.GroundingRequired {
		timeout = r.timeouts.Grounded
	}
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 5. Acquire a rate-limiter permit, if one is configured for this vendor.
	var limiter *ratelimit.Limiter
	var estimatedTokens int64
	if l, ok := r.limiters[vendor]; ok {
		limiter = l
		if req.MaxTokens > 0 {
			req.MaxTokens = limiter.SuggestTrim(req.MaxTokens, minSuggestedOutputTokens)
		}
		estimatedTokens = estimateTokens(req)
		permit, bypassed, err := limiter.Acquire(callCtx, estimatedTokens, req.Grounded)
		if err != nil {
			return nil, err
		}
		defer limiter.Release(permit)
		rec.RateLimiterBypassed = bypassed
	}

	// 6. Dispatch; the adapter internally drives retry/breaker.
	resp, gerr := provider.Completion(callCtx, req)
	if resp != nil {
		rec.RetryCount, _ = resp.Metadata["retry_count"].(int)
		rec.LastBackoffMS, _ = resp.Metadata["last_backoff_ms"].(int64)
		rec.CircuitState, _ = resp.Metadata["circuit_state"].(string)
		rec.UpstreamStatus, _ = resp.Metadata["upstream_status"].(int)
	}
	if limiter != nil && gerr == nil && resp != nil {
		limiter.Commit(int64(resp.Usage.Total), estimatedTokens)
	}
	if gerr != nil {
		if callCtx.Err() != nil {
			return nil, types.NewError(types.ErrCancelled, "call cancelled or deadline exceeded").WithCause(callCtx.Err())
		}
		return nil, gerr
	}
	return resp, nil
}

// minSuggestedOutputTokens is the floor SuggestTrim will not cut below,
// matching the openai adapter's minimum output token floor.
const minSuggestedOutputTokens = 16

// normalizePolicy strips historically-supported fields the router no
// longer honors, recording their removal instead of silently ignoring
// them.
func normalizePolicy(req *gateway.ChatRequest) {
	if req.Meta == nil {
		return
	}
	if _, ok := req.Meta["proxy_transport"]; ok {
		delete(req.Meta, "proxy_transport")
		req.Meta["proxy_transport_stripped"] = "true"
	}
}

func (r *Router) injectALS(req *gateway.ChatRequest, rec *telemetry.Record) *gateway.Error {
	block, err := r.als.Build(req.ALSContext.CountryCode, req.ALSContext.Locale)
	if err != nil {
		return err
	}

	alsMessage := types.NewSystemMessage(block.NFCText)
	if len(req.Messages) > 0 && req.Messages[0].Role == types.RoleSystem {
		req.Messages[0].Content = req.Messages[0].Content + "\n\n" + block.NFCText
	} else {
		req.Messages = append([]types.Message{alsMessage}, req.Messages...)
	}

	if req.Meta == nil {
		req.Meta = make(map[string]string)
	}
	req.Meta["als_applied"] = "true"

	rec.ALSPresent = true
	rec.ALSSHA256 = hexEncode(block.SHA256[:])
	rec.ALSVariantID = block.VariantID
	rec.ALSSeedKeyID = block.SeedKeyID
	rec.ALSCountry = block.CountryCode
	rec.ALSLocale = block.Locale
	rec.ALSNFCLength = block.NFCLength
	rec.TemplateID = block.TemplateID
	return nil
}

// estimateTokens gives the rate limiter a rough admission estimate; actual
// usage is committed back after the call via limiter.Commit.
func estimateTokens(req *gateway.ChatRequest) int64 {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	estimate := int64(chars/4) + int64(req.MaxTokens)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
