package telemetry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisSink(t *testing.T) (*RedisSink, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSink(RedisSinkConfig{Client: client, Key: "test:telemetry", MaxLen: 2}, nil), client
}

func TestRedisSink_PushesRecord(t *testing.T) {
	sink, client := newTestRedisSink(t)
	ctx := context.Background()

	sink.Emit(ctx, Record{RequestID: "req-1", Success: true})

	raw, err := client.LIndex(ctx, "test:telemetry", 0).Result()
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	require.Equal(t, "req-1", rec.RequestID)
}

func TestRedisSink_TrimsToMaxLen(t *testing.T) {
	sink, client := newTestRedisSink(t)
	ctx := context.Background()

	sink.Emit(ctx, Record{RequestID: "1"})
	sink.Emit(ctx, Record{RequestID: "2"})
	sink.Emit(ctx, Record{RequestID: "3"})

	length, err := client.LLen(ctx, "test:telemetry").Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, length)
}
