package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.llmRequestsTotal)
	assert.NotNil(t, collector.llmRequestDuration)
	assert.NotNil(t, collector.llmTokensUsed)
	assert.NotNil(t, collector.retriesTotal)
	assert.NotNil(t, collector.circuitBreakerState)
	assert.NotNil(t, collector.rateLimiterBypassTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)

	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordLLMRequest(
		"openai",
		"gpt-5",
		"success",
		500*time.Millisecond,
		100, // prompt tokens
		50,  // completion tokens
	)

	count := testutil.CollectAndCount(collector.llmRequestsTotal)
	assert.Greater(t, count, 0)

	tokensCount := testutil.CollectAndCount(collector.llmTokensUsed)
	assert.Greater(t, tokensCount, 0)
}

func TestCollector_RecordRetries(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordRetries("vertex", "gemini-2.5-pro", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.retriesTotal.WithLabelValues("vertex", "gemini-2.5-pro")))

	// Zero retries must not register a sample.
	collector.RecordRetries("vertex", "gemini-2.5-flash", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.retriesTotal.WithLabelValues("vertex", "gemini-2.5-flash")))
}

func TestCollector_SetCircuitBreakerState(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.SetCircuitBreakerState("openai", "gpt-5", "open")
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.circuitBreakerState.WithLabelValues("openai", "gpt-5")))

	collector.SetCircuitBreakerState("openai", "gpt-5", "half_open")
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.circuitBreakerState.WithLabelValues("openai", "gpt-5")))

	collector.SetCircuitBreakerState("openai", "gpt-5", "closed")
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.circuitBreakerState.WithLabelValues("openai", "gpt-5")))
}

func TestCollector_SetCircuitBreakerState_UnknownIgnored(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// No breaker configured for this key: must not create a sample.
	collector.SetCircuitBreakerState("openai", "gpt-5", "")
	count := testutil.CollectAndCount(collector.circuitBreakerState)
	assert.Equal(t, 0, count)
}

func TestCollector_RecordRateLimiterBypass(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordRateLimiterBypass("openai")
	collector.RecordRateLimiterBypass("openai")

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.rateLimiterBypassTotal.WithLabelValues("openai")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordLLMRequest("openai", "gpt-5", "success", 500*time.Millisecond, 100, 50)
			collector.RecordRetries("openai", "gpt-5", 1)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	httpCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, httpCount, 0)

	llmCount := testutil.CollectAndCount(collector.llmRequestsTotal)
	assert.Greater(t, llmCount, 0)

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.retriesTotal.WithLabelValues("openai", "gpt-5")))
}

func TestCollector_MetricsRegistration(t *testing.T) {
	logger := zap.NewNop()

	registry := prometheus.NewRegistry()

	collector := NewCollector(nextTestNamespace(), logger)

	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.httpRequestDuration)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 0, 0)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)
}
