package main

import (
	"encoding/hex"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/agentflow/llmgateway/config"
)

// decodeHexSeed decodes the configured ALS seed key from hex. The key
// material itself is never logged.
func decodeHexSeed(hexSeed string) ([]byte, error) {
	key, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("seed key is empty")
	}
	return key, nil
}

// newRedisClient builds the shared Redis client used for telemetry sinking.
func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}
