// Package gateway provides the vendor-neutral provider abstraction the
// router dispatches through.
package gateway

import (
	"context"
	"time"

	"github.com/agentflow/llmgateway/types"
)

// Re-export the shared data model so callers only need to import gateway.
type (
	Message    = types.Message
	Role       = types.Role
	ToolCall   = types.ToolCall
	ToolSchema = types.ToolSchema
	Error      = types.Error
	ErrorCode  = types.ErrorCode
)

const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
)

const (
	ErrInvalidRequest          = types.ErrInvalidRequest
	ErrModelNotAllowed         = types.ErrModelNotAllowed
	ErrVendorAuthError         = types.ErrVendorAuthError
	ErrRateLimited             = types.ErrRateLimited
	ErrRateLimitedQuota        = types.ErrRateLimitedQuota
	ErrServiceUnavailable      = types.ErrServiceUnavailable
	ErrTimeout                 = types.ErrTimeout
	ErrGroundingRequiredFailed = types.ErrGroundingRequiredFailed
	ErrGroundingNotSupported   = types.ErrGroundingNotSupported
	ErrGroundedJSONUnsupported = types.ErrGroundedJSONUnsupported
	ErrEmptyCompletion         = types.ErrEmptyCompletion
	ErrCancelled               = types.ErrCancelled
	ErrALSBlockTooLong         = types.ErrALSBlockTooLong
	ErrUpstreamError           = types.ErrUpstreamError
	ErrInternalError           = types.ErrInternalError
)

// GroundingMode is the grounding policy requested for a call.
type GroundingMode string

const (
	GroundingOff      GroundingMode = "OFF"
	GroundingAuto     GroundingMode = "AUTO"
	GroundingRequired GroundingMode = "REQUIRED"
)

// Provider adapts one vendor's API surface to the gateway's normalized
// request/response contract. Implementations (providers/openai,
// providers/vertex) never leak vendor-specific error types; every failure
// is translated into a *types.Error drawn from the taxonomy above.
type Provider interface {
	// Completion sends a synchronous, non-streaming chat request.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, *Error)

	// HealthCheck performs a lightweight, cached liveness probe.
	HealthCheck(ctx context.Context) (*HealthStatus, *Error)

	// Name returns the vendor identifier ("openai", "vertex", ...).
	Name() string

	// SupportsGrounding reports whether this vendor can fulfil grounded
	// requests at all. Both built-in adapters (openai, vertex) report true;
	// Vertex combines grounding with JSON output via forced function calling.
	SupportsGrounding() bool
}

// HealthStatus is the cached result of a provider health probe.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

// ALSContext requests ALS block injection for a given locale.
type ALSContext struct {
	CountryCode string `json:"country_code"`
	Locale      string `json:"locale"`
}

// ChatRequest is the gateway's normalized request contract.
// Only the router changes it, and only before dispatch: it fills in an
// inferred vendor, normalizes the model ID, strips legacy Meta fields, may
// trim MaxTokens, and inserts the ALS block at most once.
type ChatRequest struct {
	Vendor string `json:"vendor,omitempty"`
	Model  string `json:"model"`

	Messages []Message `json:"messages"`

	Grounded      bool          `json:"grounded"`
	GroundingMode GroundingMode `json:"grounding_mode"`

	JSONMode   bool   `json:"json_mode,omitempty"`
	JSONSchema any    `json:"json_schema,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`

	ALSContext *ALSContext       `json:"als_context,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`

	Timeout time.Duration `json:"-"`
}

// Citation is one extracted grounding citation.
type Citation struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Domain    string `json:"domain"`
	Anchored  bool   `json:"anchored"`
	SourceRef string `json:"source_ref,omitempty"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
	Reasoning  int `json:"reasoning,omitempty"`
}

// ChatResponse is the gateway's normalized response contract.
type ChatResponse struct {
	Content string `json:"content"`

	ModelVersion     string `json:"model_version,omitempty"`
	ModelFingerprint string `json:"model_fingerprint,omitempty"`

	GroundedEffective bool `json:"grounded_effective"`

	Usage     Usage `json:"usage"`
	LatencyMS int64 `json:"latency_ms"`

	Success      bool   `json:"success"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Citations []Citation `json:"citations,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsRetryable reports whether err (typically a *types.Error) should be
// retried by the resiliency layer.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
