// Package ratelimit implements the gateway's per-vendor rate limiter:
// a bounded concurrency semaphore plus a sliding-minute token budget with
// an adaptive over-consumption multiplier.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agentflow/llmgateway/types"
)

// Config bounds one vendor's limiter.
type Config struct {
	// Concurrency is the size of the per-vendor semaphore.
	Concurrency int64
	// MinuteBudget is the token budget for the current one-minute window.
	MinuteBudget int64
	// BypassTimeout bounds how long Acquire waits before giving up on
	// gating and letting the call proceed ungated, avoiding a deadlock
	// under sustained overload.
	BypassTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{Concurrency: 64, MinuteBudget: 2_000_000, BypassTimeout: time.Second}
}

// Limiter is a single vendor's rate limiter instance.
type Limiter struct {
	cfg *Config
	sem *semaphore.Weighted

	mu             sync.Mutex
	windowStart    time.Time
	windowConsumed int64
	adaptiveMu     float64 // EMA(actual/estimated), clamped to [1.0, 2.0]
}

func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 64
	}
	if cfg.BypassTimeout <= 0 {
		cfg.BypassTimeout = time.Second
	}
	return &Limiter{
		cfg:         cfg,
		sem:         semaphore.NewWeighted(cfg.Concurrency),
		windowStart: time.Now(),
		adaptiveMu:  1.0,
	}
}

// Permit is returned by Acquire; call Release when the call completes.
type Permit struct {
	acquired    bool // semaphore slot actually held
	scaledTokens int64
}

// Acquire reserves a concurrency slot and, if the current minute's budget
// allows it, admits estimatedTokens against the window (multiplied by
// adaptiveMu for grounded calls only). If admitting would exceed the budget,
// it sleeps for [0.5, 0.75) of the time remaining in the window.
// If the semaphore slot itself cannot be acquired within cfg.BypassTimeout,
// Acquire returns (permit, true, nil) — bypassed — rather than block
// indefinitely.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int64, grounded bool) (*Permit, bool, *types.Error) {
	scaled := estimatedTokens
	if grounded {
		l.mu.Lock()
		scaled = int64(float64(estimatedTokens) * l.adaptiveMu)
		l.mu.Unlock()
	}

	acquireCtx, cancel := context.WithTimeout(ctx, l.cfg.BypassTimeout)
	defer cancel()

	if err := l.sem.Acquire(acquireCtx, 1); err != nil {
		return &Permit{acquired: false, scaledTokens: scaled}, true, nil
	}

	l.mu.Lock()
	l.rolloverLocked()
	if l.windowConsumed+scaled > l.cfg.MinuteBudget {
		remaining := time.Until(l.windowStart.Add(time.Minute))
		l.mu.Unlock()

		if remaining > 0 {
			jitter := 0.5 + rand.Float64()*0.25 // [0.5, 0.75)
			wait := time.Duration(float64(remaining) * jitter)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				l.sem.Release(1)
				return nil, false, types.NewError(types.ErrCancelled, "rate limiter wait cancelled")
			}
		}

		l.mu.Lock()
		l.rolloverLocked()
	}
	l.windowConsumed += scaled
	l.mu.Unlock()

	return &Permit{acquired: true, scaledTokens: scaled}, false, nil
}

// rolloverLocked resets the window once a full minute has passed since
// windowStart. Caller must hold l.mu.
func (l *Limiter) rolloverLocked() {
	if time.Since(l.windowStart) >= time.Minute {
		l.windowStart = time.Now()
		l.windowConsumed = 0
	}
}

// Release returns the concurrency slot held by permit, if any.
func (l *Limiter) Release(p *Permit) {
	if p != nil && p.acquired {
		l.sem.Release(1)
	}
}

// Commit folds actual usage into the adaptive multiplier:
// μ ← clamp(EMA(actual/estimated), 1.0, 2.0).
func (l *Limiter) Commit(actualTokens, estimatedTokens int64) {
	if estimatedTokens <= 0 {
		return
	}
	ratio := float64(actualTokens) / float64(estimatedTokens)

	l.mu.Lock()
	defer l.mu.Unlock()
	const alpha = 0.2
	l.adaptiveMu = alpha*ratio + (1-alpha)*l.adaptiveMu
	if l.adaptiveMu < 1.0 {
		l.adaptiveMu = 1.0
	}
	if l.adaptiveMu > 2.0 {
		l.adaptiveMu = 2.0
	}
}

// SuggestTrim proposes a reduced max_tokens when the window is within 10%
// of its budget, never going below minOut.
func (l *Limiter) SuggestTrim(desiredOut, minOut int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	if l.cfg.MinuteBudget <= 0 {
		return desiredOut
	}
	usedRatio := float64(l.windowConsumed) / float64(l.cfg.MinuteBudget)
	if usedRatio < 0.9 {
		return desiredOut
	}

	remaining := l.cfg.MinuteBudget - l.windowConsumed
	if remaining < 0 {
		remaining = 0
	}
	trimmed := int(remaining)
	if trimmed < minOut {
		return minOut
	}
	if trimmed > desiredOut {
		return desiredOut
	}
	return trimmed
}

// AdaptiveMultiplier reports the current μ, for telemetry.
func (l *Limiter) AdaptiveMultiplier() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.adaptiveMu
}
