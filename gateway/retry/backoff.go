// Package retry implements the gateway's retry/backoff engine: error
// classification, capped exponential backoff with jitter, Retry-After
// honoring, and a prompt-immutability guard across attempts.
package retry

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/agentflow/llmgateway/types"
)

// Class is the error classification used to decide retry eligibility.
type Class string

const (
	ClassRetryable5xx       Class = "retryable_5xx"
	ClassRateLimited        Class = "rate_limited"
	ClassTimeout            Class = "timeout"
	ClassAuth               Class = "auth"
	ClassInvalidRequest     Class = "invalid_request"
	ClassGroundingRequired  Class = "grounding_required_failed"
	ClassOther              Class = "other"
)

// Classify maps a *types.Error to a retry Class.
func Classify(err *types.Error) Class {
	if err == nil {
		return ClassOther
	}
	switch err.Code {
	case types.ErrServiceUnavailable:
		return ClassRetryable5xx
	case types.ErrRateLimited, types.ErrRateLimitedQuota:
		return ClassRateLimited
	case types.ErrTimeout:
		return ClassTimeout
	case types.ErrVendorAuthError:
		return ClassAuth
	case types.ErrInvalidRequest, types.ErrModelNotAllowed:
		return ClassInvalidRequest
	case types.ErrGroundingRequiredFailed, types.ErrGroundingNotSupported, types.ErrGroundedJSONUnsupported:
		return ClassGroundingRequired
	default:
		return ClassOther
	}
}

// Retryable reports whether Class is ever eligible for another attempt.
func (c Class) Retryable() bool {
	switch c {
	case ClassRetryable5xx, ClassRateLimited, ClassTimeout:
		return true
	default:
		return false
	}
}

// Policy configures the engine. Defaults: 4 total attempts (1 initial +
// 3 retries), base delay 0.5s, exponential factor 2, jitter uniform in
// [0, 0.5*delay].
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultPolicy() *Policy {
	return &Policy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond}
}

// Attempt records one call attempt for telemetry: attempt index, delay
// used, upstream status, error class.
type Attempt struct {
	Index          int
	Delay          time.Duration
	UpstreamStatus int
	Class          Class
}

// ErrPromptMutated is returned when the immutability guard detects that the
// request's model/messages changed between attempts — this should never
// happen in correct code and indicates a programming defect.
var ErrPromptMutated = fmt.Errorf("prompt mutated between retry attempts")

// Fingerprint computes the SHA-256 over model+messages used to assert
// immutability across attempts.
func Fingerprint(model string, msgs []types.Message) [32]byte {
	h := sha256.New()
	h.Write([]byte(model))
	for _, m := range msgs {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AttemptFunc performs one upstream call. It must return the upstream HTTP
// status (0 if not applicable) alongside any *types.Error, and honor
// retryAfter if the vendor supplied one (0 means "no hint").
type AttemptFunc func(ctx context.Context, attempt int) (result any, status int, retryAfter time.Duration, err *types.Error)

// Engine drives AttemptFunc according to Policy.
type Engine struct {
	policy *Policy
	logger *zap.Logger
}

func NewEngine(policy *Policy, logger *zap.Logger) *Engine {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 4
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	return &Engine{policy: policy, logger: logger}
}

// Do runs fn up to policy.MaxAttempts times, classifying each failure and
// deciding whether to retry. model/msgs are the values that must remain
// byte-identical across attempts; Do re-fingerprints them after every call
// and fails loudly if they changed.
func (e *Engine) Do(ctx context.Context, model string, msgs []types.Message, fn AttemptFunc) (any, []Attempt, *types.Error) {
	fp0 := Fingerprint(model, msgs)
	exp := newExponentialSequence(e.policy.BaseDelay)

	var history []Attempt
	var lastErr *types.Error
	var lastRetryAfter time.Duration
	consecutive429 := 0

	for n := 1; n <= e.policy.MaxAttempts; n++ {
		if n > 1 {
			delay := e.delayForAttempt(exp, n, lastRetryAfter)
			history[len(history)-1].Delay = delay
			select {
			case <-ctx.Done():
				return nil, history, &types.Error{Code: types.ErrCancelled, Message: "retry cancelled", Cause: ctx.Err()}
			case <-time.After(delay):
			}
		}

		result, status, retryAfter, callErr := fn(ctx, n)
		lastRetryAfter = retryAfter

		if fp := Fingerprint(model, msgs); fp != fp0 {
			panic(ErrPromptMutated)
		}

		if callErr == nil {
			return result, history, nil
		}

		class := Classify(callErr)
		history = append(history, Attempt{Index: n, UpstreamStatus: status, Class: class})
		lastErr = callErr

		if class == ClassRateLimited {
			consecutive429++
		} else {
			consecutive429 = 0
		}

		if e.logger != nil {
			e.logger.Debug("upstream attempt failed",
				zap.Int("attempt", n),
				zap.String("class", string(class)),
				zap.Int("status", status),
				zap.Error(callErr),
			)
		}

		if !class.Retryable() {
			return nil, history, callErr
		}
		if n >= e.policy.MaxAttempts {
			break
		}
	}

	if consecutive429 > 0 && lastErr != nil {
		return nil, history, types.NewError(types.ErrRateLimitedQuota, lastErr.Message).WithProvider(lastErr.Provider)
	}
	return nil, history, lastErr
}

// delayForAttempt computes the wait before attempt n (n >= 2). If the last
// failure carried a Retry-After hint, that hint is honored verbatim;
// otherwise the exponential-with-jitter schedule applies.
func (e *Engine) delayForAttempt(exp *exponentialSequence, n int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	base := exp.nth(n - 1) // first retry (n=2) uses base*2^0
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	return base + jitter
}

// exponentialSequence wraps cenkalti/backoff/v5's ExponentialBackOff to
// produce the deterministic (un-jittered) base·2^(k-1) sequence; the
// uniform[0, 0.5·delay] jitter is layered on top by the caller
// rather than using the library's own (symmetric) randomization.
type exponentialSequence struct {
	b *backoff.ExponentialBackOff
}

func newExponentialSequence(base time.Duration) *exponentialSequence {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxInterval = base * 64
	return &exponentialSequence{b: b}
}

// nth returns the k-th (1-indexed) deterministic interval in the sequence.
func (s *exponentialSequence) nth(k int) time.Duration {
	s.b.Reset()
	var d time.Duration
	for i := 0; i < k; i++ {
		next, err := s.b.NextBackOff()
		if err != nil {
			return s.b.MaxInterval
		}
		d = next
	}
	return d
}
