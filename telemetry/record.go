// Package telemetry implements the gateway's per-call telemetry record and
// its best-effort, non-blocking emission pipeline.
package telemetry

// Record is produced once per call, success or failure. Field groups follow
// the call's own lifecycle: routing decisions, grounding policy outcome,
// ALS provenance (never raw ALS text), resiliency counters, token/latency
// usage, and caller identity for correlation.
type Record struct {
	// Routing.
	Vendor              string `json:"vendor"`
	RequestedModel      string `json:"requested_model"`
	EffectiveModel      string `json:"effective_model"`
	ResponseAPIVariant  string `json:"response_api_variant,omitempty"`
	Region              string `json:"region,omitempty"`

	// Policy.
	GroundedRequested      bool   `json:"grounded_requested"`
	GroundingMode          string `json:"grounding_mode"`
	GroundedEffective      bool   `json:"grounded_effective"`
	WhyNotGrounded         string `json:"why_not_grounded,omitempty"`
	ToolCallCount          int    `json:"tool_call_count"`
	AnchoredCitationsCount int    `json:"anchored_citations_count"`
	UnlinkedSourcesCount   int    `json:"unlinked_sources_count"`

	// ALS.
	ALSPresent   bool   `json:"als_present"`
	ALSSHA256    string `json:"als_sha256,omitempty"`
	ALSVariantID string `json:"als_variant_id,omitempty"`
	ALSSeedKeyID string `json:"als_seed_key_id,omitempty"`
	ALSCountry   string `json:"als_country,omitempty"`
	ALSLocale    string `json:"als_locale,omitempty"`
	ALSNFCLength int    `json:"als_nfc_length,omitempty"`

	// Resiliency.
	RetryCount          int    `json:"retry_count"`
	LastBackoffMS       int64  `json:"last_backoff_ms"`
	CircuitState        string `json:"circuit_state,omitempty"`
	UpstreamStatus      int    `json:"upstream_status,omitempty"`
	RateLimiterBypassed bool   `json:"rate_limiter_bypassed"`

	// Usage.
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	LatencyMS        int64 `json:"latency_ms"`

	// Identity.
	TemplateID string `json:"template_id,omitempty"`
	RunID      string `json:"run_id"`
	TenantID   string `json:"tenant_id,omitempty"`
	RequestID  string `json:"request_id"`

	// Outcome.
	Success      bool   `json:"success"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
