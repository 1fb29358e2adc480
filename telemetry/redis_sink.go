package telemetry

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink pushes each record as a JSON blob onto a capped Redis list,
// giving an external collector a durable buffer to drain independently of
// the gateway's own process lifetime.
type RedisSink struct {
	client *redis.Client
	key    string
	maxLen int64
	logger *zap.Logger
}

// RedisSinkConfig configures a RedisSink.
type RedisSinkConfig struct {
	Client *redis.Client
	// Key is the list key records are LPUSHed onto.
	Key string
	// MaxLen caps the list length via LTRIM after each push; 0 disables
	// trimming.
	MaxLen int64
}

func NewRedisSink(cfg RedisSinkConfig, logger *zap.Logger) *RedisSink {
	key := cfg.Key
	if key == "" {
		key = "llmgateway:telemetry"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{client: cfg.Client, key: key, maxLen: cfg.MaxLen, logger: logger}
}

func (s *RedisSink) Emit(ctx context.Context, rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("failed to marshal telemetry record for redis sink", zap.Error(err))
		return
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, payload)
	if s.maxLen > 0 {
		pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("failed to push telemetry record to redis", zap.Error(err))
	}
}
