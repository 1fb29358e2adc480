package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentflow/llmgateway/types"
)

func TestEngine_SucceedsOnFirstAttempt(t *testing.T) {
	e := NewEngine(DefaultPolicy(), zap.NewNop())
	msgs := []types.Message{types.NewUserMessage("hi")}

	calls := 0
	result, attempts, err := e.Do(context.Background(), "gpt-5", msgs, func(ctx context.Context, n int) (any, int, time.Duration, *types.Error) {
		calls++
		return "ok", 200, 0, nil
	})

	require.Nil(t, err)
	require.Equal(t, "ok", result)
	require.Empty(t, attempts)
	require.Equal(t, 1, calls)
}

func TestEngine_RetriesRetryable5xxUpToCap(t *testing.T) {
	e := NewEngine(&Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, zap.NewNop())
	msgs := []types.Message{types.NewUserMessage("hi")}

	calls := 0
	_, attempts, err := e.Do(context.Background(), "gpt-5", msgs, func(ctx context.Context, n int) (any, int, time.Duration, *types.Error) {
		calls++
		return nil, 503, 0, types.NewError(types.ErrServiceUnavailable, "bad gateway").WithRetryable(true)
	})

	require.NotNil(t, err)
	require.Equal(t, 4, calls)
	require.Len(t, attempts, 4)
	require.Equal(t, types.ErrServiceUnavailable, err.Code)
}

func TestEngine_DoesNotRetryInvalidRequest(t *testing.T) {
	e := NewEngine(DefaultPolicy(), zap.NewNop())
	msgs := []types.Message{types.NewUserMessage("hi")}

	calls := 0
	_, _, err := e.Do(context.Background(), "gpt-5", msgs, func(ctx context.Context, n int) (any, int, time.Duration, *types.Error) {
		calls++
		return nil, 400, 0, types.NewError(types.ErrInvalidRequest, "bad schema")
	})

	require.NotNil(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, types.ErrInvalidRequest, err.Code)
}

func TestEngine_ExhaustedRateLimitedBecomesQuota(t *testing.T) {
	e := NewEngine(&Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, zap.NewNop())
	msgs := []types.Message{types.NewUserMessage("hi")}

	_, _, err := e.Do(context.Background(), "gpt-5", msgs, func(ctx context.Context, n int) (any, int, time.Duration, *types.Error) {
		return nil, 429, time.Millisecond, types.NewError(types.ErrRateLimited, "too many requests").WithRetryable(true)
	})

	require.NotNil(t, err)
	require.Equal(t, types.ErrRateLimitedQuota, err.Code)
}

func TestEngine_HonorsRetryAfterHint(t *testing.T) {
	e := NewEngine(&Policy{MaxAttempts: 2, BaseDelay: time.Hour}, zap.NewNop())
	msgs := []types.Message{types.NewUserMessage("hi")}

	start := time.Now()
	_, attempts, _ := e.Do(context.Background(), "gpt-5", msgs, func(ctx context.Context, n int) (any, int, time.Duration, *types.Error) {
		if n == 1 {
			return nil, 429, 5 * time.Millisecond, types.NewError(types.ErrRateLimited, "slow down").WithRetryable(true)
		}
		return "ok", 200, 0, nil
	})
	elapsed := time.Since(start)

	require.Less(t, elapsed, 100*time.Millisecond, "should honor the short Retry-After hint rather than the 1h base delay")
	require.Len(t, attempts, 1)
}

func TestFingerprint_StableAcrossIdenticalInputs(t *testing.T) {
	msgs := []types.Message{types.NewSystemMessage("s"), types.NewUserMessage("u")}
	require.Equal(t, Fingerprint("gpt-5", msgs), Fingerprint("gpt-5", msgs))
}
