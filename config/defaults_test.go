package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Each sub-config should be non-zero
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEmpty(t, cfg.Vendors)
	assert.NotEqual(t, RateLimitConfig{}, cfg.RateLimit)
	assert.NotEqual(t, ALSConfig{}, cfg.ALS)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, float64(100), cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
}

func TestDefaultVendorConfigs(t *testing.T) {
	vendors := DefaultVendorConfigs()
	require.Len(t, vendors, 2)

	byName := make(map[string]VendorConfig, len(vendors))
	for _, v := range vendors {
		byName[v.Name] = v
	}

	openai, ok := byName["openai"]
	require.True(t, ok)
	assert.Equal(t, "https://api.openai.com/v1", openai.BaseURL)
	assert.Contains(t, openai.Models, "gpt-5")
	assert.Equal(t, 2*time.Minute, openai.Timeout)

	vertex, ok := byName["vertex"]
	require.True(t, ok)
	assert.Equal(t, "us-central1", vertex.Region)
	assert.Contains(t, vertex.Models, "gemini-2.5-pro")
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	assert.Equal(t, int64(8), cfg.Concurrency)
	assert.Equal(t, int64(60000), cfg.MinuteBudget)
	assert.Equal(t, 30*time.Second, cfg.BypassTimeout)
}

func TestDefaultALSConfig(t *testing.T) {
	cfg := DefaultALSConfig()
	assert.Empty(t, cfg.SeedKeyHex)
	assert.Equal(t, "default", cfg.SeedKeyID)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "llmgateway", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
