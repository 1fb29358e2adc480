// Package circuitbreaker implements the gateway's per-(vendor,model)
// failure tracker. One state machine instance is kept per key; callers
// address it by the "vendor:model" string built with Key(vendor, model).
package circuitbreaker

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// FailureClass distinguishes failures that count against the breaker from
// those that don't. Only Upstream5xx increments consecutive_5xx; 4xx other
// than 429 never counts.
type FailureClass int

const (
	FailureOther FailureClass = iota
	FailureUpstream5xx
	FailureRateLimited
)

// Config controls the breaker's thresholds and hold-period bounds.
type Config struct {
	// Threshold is the consecutive-5xx count that trips the breaker.
	Threshold int
	// MinHold and MaxHold bound the uniformly-random open hold period.
	MinHold time.Duration
	MaxHold time.Duration
}

// DefaultConfig returns the standard defaults: 5 consecutive 5xx, 60-120s hold.
func DefaultConfig() *Config {
	return &Config{Threshold: 5, MinHold: 60 * time.Second, MaxHold: 120 * time.Second}
}

var (
	// ErrOpen is returned by Allow when the breaker is short-circuiting calls.
	ErrOpen = errors.New("circuit breaker open")
)

type keyState struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openUntil           time.Time
	halfOpenInFlight    bool
	counts              map[FailureClass]int
}

// Breaker holds one state machine per "vendor:model" key. The server builds
// one Breaker per vendor and hands it to that vendor's ResilientProvider; the per-key mutex keeps
// contention key-local so no caller blocks on another key's state.
type Breaker struct {
	cfg    *Config
	logger *zap.Logger

	mu       sync.RWMutex
	byKey    map[string]*keyState
}

// New creates a Breaker. A nil config uses DefaultConfig.
func New(cfg *Config, logger *zap.Logger) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.MinHold <= 0 {
		cfg.MinHold = 60 * time.Second
	}
	if cfg.MaxHold <= cfg.MinHold {
		cfg.MaxHold = cfg.MinHold + 60*time.Second
	}
	return &Breaker{cfg: cfg, logger: logger, byKey: make(map[string]*keyState)}
}

func (b *Breaker) stateFor(key string) *keyState {
	b.mu.RLock()
	ks, ok := b.byKey[key]
	b.mu.RUnlock()
	if ok {
		return ks
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ks, ok = b.byKey[key]; ok {
		return ks
	}
	ks = &keyState{state: StateClosed, counts: make(map[FailureClass]int)}
	b.byKey[key] = ks
	return ks
}

// Allow reports whether a call for key may proceed. It also performs the
// open -> half_open transition when the hold period has elapsed, admitting
// exactly one probe call in half_open.
func (b *Breaker) Allow(key string) (bool, error) {
	ks := b.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	switch ks.state {
	case StateClosed:
		return true, nil
	case StateOpen:
		if time.Now().Before(ks.openUntil) {
			return false, ErrOpen
		}
		ks.state = StateHalfOpen
		ks.halfOpenInFlight = true
		if b.logger != nil {
			b.logger.Info("circuit breaker half-open probe admitted", zap.String("key", key))
		}
		return true, nil
	case StateHalfOpen:
		if ks.halfOpenInFlight {
			return false, ErrOpen
		}
		ks.halfOpenInFlight = true
		return true, nil
	default:
		return true, nil
	}
}

// RecordSuccess resets the breaker for key (closing it if it was half-open).
func (b *Breaker) RecordSuccess(key string) {
	ks := b.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.state == StateHalfOpen {
		if b.logger != nil {
			b.logger.Info("circuit breaker closed after successful probe", zap.String("key", key))
		}
	}
	ks.state = StateClosed
	ks.consecutiveFailures = 0
	ks.halfOpenInFlight = false
}

// RecordFailure registers a failure of the given class for key. Only
// FailureUpstream5xx counts toward the consecutive-failure threshold.
func (b *Breaker) RecordFailure(key string, class FailureClass) {
	ks := b.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.counts[class]++

	if class != FailureUpstream5xx {
		// 4xx other than 429, and anything not upstream-unavailable, never
		// trips the breaker.
		if ks.state == StateHalfOpen {
			ks.halfOpenInFlight = false
		}
		return
	}

	if ks.state == StateHalfOpen {
		ks.state = StateOpen
		ks.openUntil = time.Now().Add(b.holdPeriod())
		ks.halfOpenInFlight = false
		ks.consecutiveFailures = 0
		if b.logger != nil {
			b.logger.Warn("circuit breaker re-opened after failed probe", zap.String("key", key))
		}
		return
	}

	ks.consecutiveFailures++
	if ks.consecutiveFailures >= b.cfg.Threshold {
		ks.state = StateOpen
		ks.openUntil = time.Now().Add(b.holdPeriod())
		ks.consecutiveFailures = 0
		if b.logger != nil {
			b.logger.Warn("circuit breaker opened",
				zap.String("key", key),
				zap.Time("open_until", ks.openUntil),
			)
		}
	}
}

func (b *Breaker) holdPeriod() time.Duration {
	span := b.cfg.MaxHold - b.cfg.MinHold
	if span <= 0 {
		return b.cfg.MinHold
	}
	return b.cfg.MinHold + time.Duration(rand.Int63n(int64(span)))
}

// State returns the current state for key (StateClosed if never seen).
func (b *Breaker) State(key string) State {
	ks := b.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.state
}

// Key builds the "vendor:model" key the breaker is indexed by.
func Key(vendor, model string) string {
	return vendor + ":" + model
}
