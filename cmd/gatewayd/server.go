// Package main provides the gateway server implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentflow/llmgateway/als"
	"github.com/agentflow/llmgateway/config"
	"github.com/agentflow/llmgateway/gateway"
	"github.com/agentflow/llmgateway/gateway/circuitbreaker"
	"github.com/agentflow/llmgateway/gateway/providers"
	"github.com/agentflow/llmgateway/gateway/providers/openai"
	"github.com/agentflow/llmgateway/gateway/providers/vertex"
	"github.com/agentflow/llmgateway/gateway/retry"
	"github.com/agentflow/llmgateway/internal/metrics"
	"github.com/agentflow/llmgateway/internal/telemetry"
	"github.com/agentflow/llmgateway/ratelimit"
	"github.com/agentflow/llmgateway/registry"
	"github.com/agentflow/llmgateway/router"
	telemetrypkg "github.com/agentflow/llmgateway/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server is the gateway's main process: it wires the registry, ALS builder,
// per-vendor rate limiters and resilient providers into a Router, then
// exposes it over two HTTP listeners (API + metrics).
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	otel *telemetry.Providers

	router  *router.Router
	emitter *telemetrypkg.Emitter

	httpServer    *http.Server
	metricsServer *http.Server

	metricsCollector *metrics.Collector

	hotReloadManager *config.HotReloadManager

	rateLimiterCtx    context.Context
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer wires every gateway component from cfg: the model registry and
// ALS builder, one resilient provider + rate limiter per configured vendor,
// the telemetry emitter, and the Router that ties them together.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otel *telemetry.Providers) (*Server, error) {
	reg := registry.New()
	for _, v := range cfg.Vendors {
		reg.LoadVendor(v.Name, v.Models)
	}

	var alsBuilder *als.Builder
	if cfg.ALS.SeedKeyHex != "" {
		seedKey, err := decodeHexSeed(cfg.ALS.SeedKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid als.seed_key_hex: %w", err)
		}
		alsBuilder = als.NewBuilder(seedKey, cfg.ALS.SeedKeyID)
	} else {
		logger.Warn("no ALS seed key configured; ambient location signal injection is disabled")
	}

	limiters := make(map[string]*ratelimit.Limiter, len(cfg.Vendors))
	resilientProviders := make(map[string]gateway.Provider, len(cfg.Vendors))

	for _, v := range cfg.Vendors {
		base := providers.BaseConfig{
			APIKey:  v.APIKey,
			BaseURL: v.BaseURL,
			Models:  v.Models,
			Timeout: v.Timeout,
		}

		var provider gateway.Provider
		switch v.Name {
		case "openai":
			provider = openai.New(providers.OpenAIConfig{BaseConfig: base}, logger)
		case "vertex":
			provider = vertex.New(providers.VertexConfig{BaseConfig: base, ProjectID: v.ProjectID, Region: v.Region}, logger)
		default:
			return nil, fmt.Errorf("unsupported vendor %q (supported: openai, vertex)", v.Name)
		}

		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(), logger)
		retryEngine := retry.NewEngine(retry.DefaultPolicy(), logger)
		resilientProviders[v.Name] = gateway.NewResilientProvider(provider, retryEngine, breaker, logger)

		limitCfg := &ratelimit.Config{
			Concurrency:   cfg.RateLimit.Concurrency,
			MinuteBudget:  cfg.RateLimit.MinuteBudget,
			BypassTimeout: cfg.RateLimit.BypassTimeout,
		}
		limiters[v.Name] = ratelimit.New(limitCfg)
	}

	sink := telemetrySink(cfg, logger)
	emitter := telemetrypkg.NewEmitter(sink, 1024, logger)

	metricsCollector := metrics.NewCollector("llmgateway", logger)

	r := router.New(reg, alsBuilder, limiters, resilientProviders, emitter, router.Options{
		Logger:  logger,
		Metrics: metricsCollector,
	})

	return &Server{
		cfg:              cfg,
		configPath:       configPath,
		logger:           logger,
		otel:             otel,
		router:           r,
		emitter:          emitter,
		metricsCollector: metricsCollector,
	}, nil
}

// telemetrySink picks a Redis-backed sink when Redis is configured, falling
// back to the log sink otherwise.
func telemetrySink(cfg *config.Config, logger *zap.Logger) telemetrypkg.Sink {
	if cfg.Redis.Addr == "" {
		return telemetrypkg.NewLogSink(logger)
	}
	client := newRedisClient(cfg.Redis)
	return telemetrypkg.NewRedisSink(telemetrypkg.RedisSinkConfig{
		Client: client,
		Key:    "llmgateway:telemetry",
		MaxLen: 100_000,
	}, logger)
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start creates the IP rate limiter's cleanup context, then brings up the
// config hot-reload manager and both HTTP listeners (API + metrics).
func (s *Server) Start() error {
	s.rateLimiterCtx, s.rateLimiterCancel = context.WithCancel(context.Background())

	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	ctx := context.Background()
	if err := s.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	chat := NewChatHandler(s.router, s.logger)
	health := NewHealthHandler(s.router, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealth)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/readyz", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("/api/v1/chat/completions", chat.HandleCompletion)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(s.rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger),
	}

	handler := Chain(mux, middlewares...)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown blocks until SIGINT/SIGTERM, then runs Shutdown.
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	s.router.Stop()
	s.emitter.Close()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("OpenTelemetry shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
