package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBreaker_OpensAfterFiveConsecutive5xx(t *testing.T) {
	b := New(&Config{Threshold: 5, MinHold: 50 * time.Millisecond, MaxHold: 60 * time.Millisecond}, zap.NewNop())
	key := Key("openai", "gpt-5")

	for i := 0; i < 4; i++ {
		ok, err := b.Allow(key)
		require.True(t, ok)
		require.NoError(t, err)
		b.RecordFailure(key, FailureUpstream5xx)
	}
	require.Equal(t, StateClosed, b.State(key))

	ok, _ := b.Allow(key)
	require.True(t, ok)
	b.RecordFailure(key, FailureUpstream5xx)
	require.Equal(t, StateOpen, b.State(key))

	ok, err := b.Allow(key)
	require.False(t, ok)
	require.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_4xxOtherThan429DoesNotCount(t *testing.T) {
	b := New(DefaultConfig(), zap.NewNop())
	key := Key("vertex", "gemini-3-pro")

	for i := 0; i < 20; i++ {
		b.RecordFailure(key, FailureOther)
	}
	require.Equal(t, StateClosed, b.State(key))
}

func TestBreaker_HalfOpenSingleProbeThenCloses(t *testing.T) {
	b := New(&Config{Threshold: 1, MinHold: 10 * time.Millisecond, MaxHold: 15 * time.Millisecond}, zap.NewNop())
	key := Key("openai", "gpt-5")

	ok, _ := b.Allow(key)
	require.True(t, ok)
	b.RecordFailure(key, FailureUpstream5xx)
	require.Equal(t, StateOpen, b.State(key))

	time.Sleep(20 * time.Millisecond)

	ok, err := b.Allow(key)
	require.True(t, ok)
	require.NoError(t, err)

	// A second concurrent caller must not be admitted while the probe is in flight.
	ok2, err2 := b.Allow(key)
	require.False(t, ok2)
	require.ErrorIs(t, err2, ErrOpen)

	b.RecordSuccess(key)
	require.Equal(t, StateClosed, b.State(key))

	ok3, err3 := b.Allow(key)
	require.True(t, ok3)
	require.NoError(t, err3)
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := New(&Config{Threshold: 1, MinHold: 10 * time.Millisecond, MaxHold: 15 * time.Millisecond}, zap.NewNop())
	key := Key("openai", "gpt-5")

	b.Allow(key)
	b.RecordFailure(key, FailureUpstream5xx)
	time.Sleep(20 * time.Millisecond)

	ok, _ := b.Allow(key)
	require.True(t, ok)
	b.RecordFailure(key, FailureUpstream5xx)
	require.Equal(t, StateOpen, b.State(key))
}
