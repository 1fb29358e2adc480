// Package openai implements the OpenAI-style Responses API adapter: typed
// input blocks, web-search tool attachment with a preview-variant
// fallback, the TextEnvelope fallback for empty-text conversational calls,
// token-budget enforcement, and REQUIRED-policy grounding checks.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentflow/llmgateway/citation"
	"github.com/agentflow/llmgateway/gateway"
	"github.com/agentflow/llmgateway/gateway/providers"
	"github.com/agentflow/llmgateway/grounding"
	"github.com/agentflow/llmgateway/internal/pool"
	"github.com/agentflow/llmgateway/types"
)

const (
	minOutputTokens        = 16
	defaultGroundedCeiling = 6000
)

// Provider adapts the OpenAI Responses API (/v1/responses) to the gateway
// contract. It owns no retry/breaker state of its own — ResilientProvider
// wraps it with those, keyed on vendor:model.
type Provider struct {
	cfg     providers.OpenAIConfig
	client  *http.Client
	logger  *zap.Logger
	name    string
	ceiling int

	healthOnce   sync.Once
	healthStatus *gateway.HealthStatus
	healthErr    *types.Error
}

func New(cfg providers.OpenAIConfig, logger *zap.Logger) *Provider {
	ceiling := defaultGroundedCeiling
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Provider{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		name:    "openai",
		ceiling: ceiling,
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsGrounding() bool { return true }

// --- Responses API wire types ---

type contentBlock struct {
	Type string `json:"type"` // "input_text"
	Text string `json:"text"`
}

type inputMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type webSearchTool struct {
	Type string `json:"type"` // "web_search" or "web_search_preview"
}

type responsesRequest struct {
	Model           string `json:"model"`
	Input           []inputMessage `json:"input"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"top_p,omitempty"`
	Tools           []webSearchTool `json:"tools,omitempty"`
	ToolChoice      string `json:"tool_choice,omitempty"`
	Text            *textFormat `json:"text,omitempty"`
}

type textFormat struct {
	Format jsonSchemaFormat `json:"format"`
}

type jsonSchemaFormat struct {
	Type   string `json:"type"` // "json_schema"
	Name   string `json:"name,omitempty"`
	Schema any    `json:"schema,omitempty"`
	Strict bool   `json:"strict,omitempty"`
}

type responsesResponse struct {
	ID     string          `json:"id"`
	Model  string          `json:"model"`
	Output []outputItem    `json:"output"`
	// OutputText is the SDK convenience field some accounts receive
	// pre-flattened, used as extraction priority (b).
	OutputText string          `json:"output_text,omitempty"`
	Usage      *responsesUsage `json:"usage,omitempty"`
}

type outputItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content []outputContent `json:"content,omitempty"`
}

type outputContent struct {
	Type string `json:"type"` // "output_text" | "reasoning" | ...
	Text string `json:"text"`
}

type responsesUsage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	TotalTokens     int `json:"total_tokens"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

type envelopeSchema struct {
	Content string `json:"content"`
}

// Completion implements gateway.Provider.
func (p *Provider) Completion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, *gateway.Error) {
	start := time.Now()

	if err := p.validateMessages(req); err != nil {
		return nil, err
	}

	body := p.buildRequest(req)
	p.applyTokenBudget(&body, req)

	grounded := req.Grounded || req.GroundingMode == gateway.GroundingRequired || req.GroundingMode == gateway.GroundingAuto
	variant := ""
	if grounded {
		body.Tools = []webSearchTool{{Type: "web_search"}}
		if req.GroundingMode == gateway.GroundingRequired {
			body.ToolChoice = "required"
		}
		variant = "web_search"
	}
	if req.JSONMode {
		body.Text = &textFormat{Format: jsonSchemaFormat{Type: "json_schema", Name: "response", Schema: req.JSONSchema, Strict: true}}
	}

	raw, status, callErr := p.call(ctx, body)
	if callErr != nil && status == http.StatusBadRequest && grounded && variant == "web_search" {
		// Some accounts only have the preview variant of the tool enabled.
		body.Tools = []webSearchTool{{Type: "web_search_preview"}}
		variant = "web_search_preview"
		raw, status, callErr = p.call(ctx, body)
	}
	if callErr != nil {
		return nil, callErr
	}

	var decoded responsesResponse
	var generic map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "malformed responses payload").WithCause(err).WithProvider(p.name)
	}
	_ = json.Unmarshal(raw, &generic)

	text, textSource := extractText(decoded)
	if grounded && textSource == "reasoning_fallback" {
		text, textSource = "", ""
	}

	// TextEnvelope fallback for empty-text ungrounded calls.
	if text == "" && !grounded && !req.JSONMode {
		envBody := body
		envBody.Text = &textFormat{Format: jsonSchemaFormat{
			Type: "json_schema", Name: "envelope",
			Schema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{"content": map[string]any{"type": "string"}},
				"required":             []string{"content"},
				"additionalProperties": false,
			},
			Strict: true,
		}}
		raw2, _, err2 := p.call(ctx, envBody)
		if err2 == nil {
			var env responsesResponse
			if json.Unmarshal(raw2, &env) == nil {
				envText, _ := extractText(env)
				var parsed envelopeSchema
				if json.Unmarshal([]byte(envText), &parsed) == nil && parsed.Content != "" {
					text = parsed.Content
					textSource = "json_envelope_fallback"
					decoded = env
					_ = json.Unmarshal(raw2, &generic)
				}
			}
		}
	}

	groundedEffective, toolCallCount := grounding.Detect(grounding.VendorOpenAI, generic)

	var anchored, unlinked []citation.Citation
	var rawCitationCount int
	if groundedEffective {
		anchored, unlinked, rawCitationCount = extractCitations(generic)
	}

	resp := &gateway.ChatResponse{
		Content:           text,
		ModelVersion:       decoded.Model,
		GroundedEffective: groundedEffective,
		LatencyMS:         time.Since(start).Milliseconds(),
		Success:           true,
		Citations:         toGatewayCitations(anchored, unlinked),
		Metadata: map[string]any{
			"response_api_variant":      variant,
			"text_source":               textSource,
			"tool_call_count":           toolCallCount,
			"anchored_citations_count":  len(anchored),
			"unlinked_sources_count":    len(unlinked),
			"raw_citation_count":        rawCitationCount,
		},
	}
	if decoded.Usage != nil {
		resp.Usage = gateway.Usage{
			Prompt: decoded.Usage.InputTokens, Completion: decoded.Usage.OutputTokens,
			Total: decoded.Usage.TotalTokens, Reasoning: decoded.Usage.ReasoningTokens,
		}
	}

	// REQUIRED grounding policy enforcement, after extraction. Tool-call
	// evidence alone satisfies REQUIRED; zero extractable citations does
	// not fail the call on its own (spec scenario S1).
	if req.GroundingMode == gateway.GroundingRequired && !groundedEffective {
		resp.Metadata["why_not_grounded"] = "no_tool_call_evidence"
		return nil, types.NewError(types.ErrGroundingRequiredFailed, "grounding required but no_tool_call_evidence").WithProvider(p.name)
	}

	if text == "" && !grounded {
		resp.Metadata["empty_completion"] = true
	}

	return resp, nil
}

func (p *Provider) validateMessages(req *gateway.ChatRequest) *gateway.Error {
	if len(req.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "at least one message required").WithProvider(p.name)
	}
	return nil
}

func (p *Provider) buildRequest(req *gateway.ChatRequest) responsesRequest {
	input := make([]inputMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		input = append(input, inputMessage{
			Role:    string(m.Role),
			Content: []contentBlock{{Type: "input_text", Text: m.Content}},
		})
	}

	body := responsesRequest{
		Model:           req.Model,
		Input:           input,
		MaxOutputTokens: req.MaxTokens,
	}
	if !p.cfg.ReasoningModel {
		body.Temperature = req.Temperature
		body.TopP = req.TopP
	}
	return body
}

// applyTokenBudget enforces a 16-token floor and a
// configurable grounded ceiling (default 6000).
func (p *Provider) applyTokenBudget(body *responsesRequest, req *gateway.ChatRequest) {
	ceiling := p.ceiling
	if ceiling <= 0 {
		ceiling = defaultGroundedCeiling
	}
	if body.MaxOutputTokens <= 0 {
		body.MaxOutputTokens = minOutputTokens
	}
	if body.MaxOutputTokens < minOutputTokens {
		body.MaxOutputTokens = minOutputTokens
	}
	if req.Grounded && body.MaxOutputTokens > ceiling {
		body.MaxOutputTokens = ceiling
	}
}

// extractText implements the priority order: (a) output_text
// message items, (b) the output_text convenience field, (c) reasoning text
// (caller restricts this to ungrounded calls), (d) nothing found here — the
// envelope fallback is applied by the caller.
func extractText(resp responsesResponse) (text string, source string) {
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" && c.Text != "" {
				text += c.Text
			}
		}
	}
	if text != "" {
		return text, "output_text"
	}

	if resp.OutputText != "" {
		return resp.OutputText, "output_text_field"
	}

	for _, item := range resp.Output {
		if item.Type != "reasoning" {
			continue
		}
		for _, c := range item.Content {
			if c.Text != "" {
				text += c.Text
			}
		}
	}
	if text != "" {
		return text, "reasoning_fallback"
	}

	return "", ""
}

func extractCitations(raw map[string]any) (anchored, unlinked []citation.Citation, rawCount int) {
	var sources []citation.Source
	output, _ := raw["output"].([]any)
	for _, item := range output {
		obj, _ := item.(map[string]any)
		content, _ := obj["content"].([]any)
		for _, blk := range content {
			blkObj, _ := blk.(map[string]any)
			anns, _ := blkObj["annotations"].([]any)
			for _, a := range anns {
				aObj, _ := a.(map[string]any)
				url, _ := aObj["url"].(string)
				if url == "" {
					continue
				}
				title, _ := aObj["title"].(string)
				sources = append(sources, citation.Source{URL: url, Title: title, Anchored: true})
			}
		}
	}
	return citation.Extract(sources)
}

func toGatewayCitations(anchored, unlinked []citation.Citation) []gateway.Citation {
	out := make([]gateway.Citation, 0, len(anchored)+len(unlinked))
	for _, c := range anchored {
		out = append(out, gateway.Citation{URL: c.URL, Title: c.Title, Domain: c.Domain, Anchored: true, SourceRef: c.RawURI})
	}
	for _, c := range unlinked {
		out = append(out, gateway.Citation{URL: c.URL, Title: c.Title, Domain: c.Domain, Anchored: false, SourceRef: c.RawURI})
	}
	return out
}

func (p *Provider) call(ctx context.Context, body responsesRequest) ([]byte, int, *gateway.Error) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, 0, types.NewError(types.ErrInternalError, "failed to marshal request").WithCause(err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/responses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, 0, types.NewError(types.ErrInternalError, "failed to build request").WithCause(err)
	}
	p.setHeaders(ctx, httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, types.NewError(types.ErrTimeout, "request cancelled or timed out").WithCause(err).WithRetryable(true).WithProvider(p.name)
		}
		return nil, 0, types.NewError(types.ErrServiceUnavailable, err.Error()).WithRetryable(true).WithProvider(p.name)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		gwErr := providers.MapHTTPError(resp.StatusCode, msg, p.name)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := time.ParseDuration(ra + "s"); perr == nil {
				gwErr = gwErr.WithRetryAfter(secs)
			}
		}
		return nil, resp.StatusCode, gwErr
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, types.NewError(types.ErrServiceUnavailable, "failed to read response body").WithCause(err).WithRetryable(true).WithProvider(p.name)
	}
	return raw, resp.StatusCode, nil
}

func (p *Provider) setHeaders(ctx context.Context, httpReq *http.Request) {
	apiKey := p.cfg.APIKey
	if c, ok := gateway.CredentialOverrideFromContext(ctx); ok && c.APIKey != "" {
		apiKey = c.APIKey
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.Organization != "" {
		httpReq.Header.Set("OpenAI-Organization", p.cfg.Organization)
	}
}

// HealthCheck probes the model listing endpoint once and caches the result
// for the process lifetime.
func (p *Provider) HealthCheck(ctx context.Context) (*gateway.HealthStatus, *gateway.Error) {
	p.healthOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		start := time.Now()
		endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/models"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			p.healthErr = types.NewError(types.ErrInternalError, "failed to build health check request").WithCause(err)
			return
		}
		p.setHeaders(ctx, req)

		resp, err := p.client.Do(req)
		if err != nil {
			p.healthErr = types.NewError(types.ErrServiceUnavailable, err.Error()).WithProvider(p.name)
			return
		}
		defer providers.SafeCloseBody(resp.Body)

		p.healthStatus = &gateway.HealthStatus{
			Healthy:   resp.StatusCode < 400,
			Latency:   time.Since(start),
			CheckedAt: time.Now(),
		}
	})
	if p.healthErr != nil {
		return nil, p.healthErr
	}
	return p.healthStatus, nil
}
