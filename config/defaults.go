// =============================================================================
// 📦 网关默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Vendors:   DefaultVendorConfigs(),
		RateLimit: DefaultRateLimitConfig(),
		ALS:       DefaultALSConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultVendorConfigs 返回网关内置的两个厂商的默认配置骨架
// （APIKey 留空，由部署方通过环境变量或配置文件覆盖）
func DefaultVendorConfigs() []VendorConfig {
	return []VendorConfig{
		{
			Name:    "openai",
			BaseURL: "https://api.openai.com/v1",
			Models:  []string{"gpt-5", "gpt-5-mini"},
			Timeout: 2 * time.Minute,
		},
		{
			Name:    "vertex",
			Region:  "us-central1",
			Models:  []string{"gemini-2.5-pro", "gemini-2.5-flash"},
			Timeout: 2 * time.Minute,
		},
	}
}

// DefaultRateLimitConfig 返回默认限流配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Concurrency:   8,
		MinuteBudget:  60000,
		BypassTimeout: 30 * time.Second,
	}
}

// DefaultALSConfig 返回默认 ALS 配置
// （SeedKeyHex 留空是不安全的，生产部署必须覆盖此值）
func DefaultALSConfig() ALSConfig {
	return ALSConfig{
		SeedKeyID: "default",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "llmgateway",
		SampleRate:   0.1,
	}
}
