// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the gateway's Prometheus metrics: HTTP
// surface, per-call LLM usage, and the resiliency layer's retry/circuit/
// rate-limiter counters.
type Collector struct {
	// HTTP metrics.
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// LLM call metrics.
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// Resiliency layer metrics.
	retriesTotal           *prometheus.CounterVec
	circuitBreakerState    *prometheus.GaugeVec
	rateLimiterBypassTotal *prometheus.CounterVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector builds and registers a Collector's metric set under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of upstream LLM calls",
		},
		[]string{"vendor", "model", "status"},
	)

	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Upstream LLM call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"vendor", "model"},
	)

	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"vendor", "model", "type"}, // type: prompt, completion
	)

	c.retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resiliency_retries_total",
			Help:      "Total number of retry attempts issued by the resiliency layer",
		},
		[]string{"vendor", "model"},
	)

	c.circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per vendor:model key (0=closed, 1=half_open, 2=open)",
		},
		[]string{"vendor", "model"},
	)

	c.rateLimiterBypassTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_bypass_total",
			Help:      "Total number of calls that bypassed the rate limiter after its timeout elapsed",
		},
		[]string{"vendor"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one inbound HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordLLMRequest records one upstream LLM call's outcome, duration, and
// token usage.
func (c *Collector) RecordLLMRequest(vendor, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(vendor, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(vendor, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(vendor, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(vendor, model, "completion").Add(float64(completionTokens))
}

// RecordRetries adds retryCount retry attempts for vendor/model to the
// running total.
func (c *Collector) RecordRetries(vendor, model string, retryCount int) {
	if retryCount <= 0 {
		return
	}
	c.retriesTotal.WithLabelValues(vendor, model).Add(float64(retryCount))
}

// circuitStateValue maps a breaker's string state to the gauge's numeric
// encoding; unknown states are left unset by the caller.
func circuitStateValue(state string) (float64, bool) {
	switch state {
	case "closed":
		return 0, true
	case "half_open":
		return 1, true
	case "open":
		return 2, true
	default:
		return 0, false
	}
}

// SetCircuitBreakerState records the current breaker state for vendor:model.
// It is a no-op for states outside closed/half_open/open (e.g. no breaker
// configured).
func (c *Collector) SetCircuitBreakerState(vendor, model, state string) {
	v, ok := circuitStateValue(state)
	if !ok {
		return
	}
	c.circuitBreakerState.WithLabelValues(vendor, model).Set(v)
}

// RecordRateLimiterBypass records a call that bypassed the limiter after its
// acquire timeout elapsed.
func (c *Collector) RecordRateLimiterBypass(vendor string) {
	c.rateLimiterBypassTotal.WithLabelValues(vendor).Inc()
}

// statusCode buckets an HTTP status into its class, keeping the path/method
// label cardinality from exploding per distinct status code.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
