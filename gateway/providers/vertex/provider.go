// Package vertex implements the Vertex/Gemini GenerateContent adapter:
// exactly-two-message validation, "block only high" safety thresholds,
// GoogleSearch grounding, Forced Function Calling for grounded+JSON, and
// REQUIRED-policy grounding checks via the grounding and citation packages.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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

// Provider adapts Vertex AI / Gemini's generateContent endpoint to the
// gateway contract. Like providers/openai, it owns no retry/breaker state —
// ResilientProvider wraps it with those, keyed on vendor:model.
type Provider struct {
	cfg    providers.VertexConfig
	client *http.Client
	logger *zap.Logger
	name   string

	healthOnce   sync.Once
	healthStatus *gateway.HealthStatus
	healthErr    *types.Error
}

func New(cfg providers.VertexConfig, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		name:   "vertex",
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsGrounding() bool { return true }

const emitResultFunctionName = "emit_result"

// --- GenerateContent wire types ---

type content struct {
	Role  string `json:"role,omitempty"` // "user" or "model"
	Parts []part `json:"parts"`
}

type part struct {
	Text         string        `json:"text,omitempty"`
	FunctionCall *functionCall `json:"functionCall,omitempty"`
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type googleSearchTool struct {
	GoogleSearch struct{} `json:"googleSearch"`
}

type functionDeclarationTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type toolConfig struct {
	FunctionCallingConfig functionCallingConfig `json:"functionCallingConfig"`
}

type functionCallingConfig struct {
	Mode                 string   `json:"mode"` // "AUTO" | "ANY" | "NONE"
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type generationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// blockOnlyHighSettings sets every safety category to BLOCK_ONLY_HIGH, the
// loosest threshold that still blocks egregious content, minimizing false
// positives for grounded/factual queries.
var blockOnlyHighSettings = []safetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_ONLY_HIGH"},
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Tools             []any             `json:"tools,omitempty"`
	ToolConfig        *toolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []safetySetting   `json:"safetySettings"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
	Index        int     `json:"index"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type generateResponse struct {
	Candidates     []candidate    `json:"candidates"`
	UsageMetadata  *usageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion   string         `json:"modelVersion,omitempty"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

// Completion implements gateway.Provider.
func (p *Provider) Completion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, *gateway.Error) {
	start := time.Now()

	sysContent, userContent, verr := splitMessages(req.Messages)
	if verr != nil {
		return nil, verr
	}

	grounded := req.Grounded || req.GroundingMode == gateway.GroundingRequired || req.GroundingMode == gateway.GroundingAuto

	body := generateRequest{
		Contents:          []content{userContent},
		SystemInstruction: sysContent,
		SafetySettings:    blockOnlyHighSettings,
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens > 0 {
		body.GenerationConfig = &generationConfig{
			Temperature: req.Temperature, TopP: req.TopP, MaxOutputTokens: req.MaxTokens,
		}
	}

	usesFFC := grounded && req.JSONMode
	if grounded {
		body.Tools = append(body.Tools, googleSearchTool{})
	}
	if usesFFC {
		body.Tools = append(body.Tools, functionDeclarationTool{
			FunctionDeclarations: []functionDeclaration{{
				Name:        emitResultFunctionName,
				Description: "Emit the final structured answer.",
				Parameters:  req.JSONSchema,
			}},
		})
		body.ToolConfig = &toolConfig{FunctionCallingConfig: functionCallingConfig{
			Mode: "ANY", AllowedFunctionNames: []string{emitResultFunctionName},
		}}
	} else if req.GroundingMode == gateway.GroundingRequired {
		body.ToolConfig = &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "ANY"}}
	}

	raw, callErr := p.call(ctx, req.Model, body)
	if callErr != nil {
		if usesFFC && callErr.Code == types.ErrInvalidRequest {
			return nil, types.NewError(types.ErrGroundedJSONUnsupported,
				"model cannot combine web search with forced function calling").WithProvider(p.name).WithCause(callErr)
		}
		return nil, callErr
	}

	var decoded generateResponse
	var generic map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "malformed generateContent payload").WithCause(err).WithProvider(p.name)
	}
	_ = json.Unmarshal(raw, &generic)

	text, extraMetadata := extractText(decoded, usesFFC)

	groundedEffective, toolCallCount := grounding.Detect(grounding.VendorVertex, generic)

	var anchored, unlinked []citation.Citation
	var rawCitationCount int
	if groundedEffective {
		anchored, unlinked, rawCitationCount = extractVertexCitations(generic)
	}

	resp := &gateway.ChatResponse{
		Content:           text,
		ModelVersion:      decoded.ModelVersion,
		GroundedEffective: groundedEffective,
		LatencyMS:         time.Since(start).Milliseconds(),
		Success:           true,
		Citations:         toGatewayCitations(anchored, unlinked),
		Metadata: map[string]any{
			"tool_call_count":          toolCallCount,
			"anchored_citations_count": len(anchored),
			"unlinked_sources_count":   len(unlinked),
			"raw_citation_count":       rawCitationCount,
		},
	}
	for k, v := range extraMetadata {
		resp.Metadata[k] = v
	}
	if decoded.UsageMetadata != nil {
		resp.Usage = gateway.Usage{
			Prompt: decoded.UsageMetadata.PromptTokenCount, Completion: decoded.UsageMetadata.CandidatesTokenCount,
			Total: decoded.UsageMetadata.TotalTokenCount,
		}
	}

	if req.GroundingMode == gateway.GroundingRequired {
		satisfiedByUnlinked := len(unlinked) > 0 && req.Meta["allow_unlinked_satisfies_required"] == "true"
		if !groundedEffective || (len(anchored) < 1 && !satisfiedByUnlinked) {
			why := "no_search_evidence"
			if groundedEffective {
				why = "no_anchored_citations"
			}
			resp.Metadata["why_not_grounded"] = why
			return nil, types.NewError(types.ErrGroundingRequiredFailed, "grounding required but "+why).WithProvider(p.name)
		}
	}

	// Empty-text policy: a safety block or empty parts is a successful,
	// contentless response — finish_reasons/block_reason ride in Metadata,
	// the caller never sees this as an error.
	return resp, nil
}

// splitMessages enforces the exactly-two-message (system + user) contract:
// additional messages, or roles other than system/user, are rejected at the
// adapter boundary.
func splitMessages(msgs []types.Message) (sys *content, user content, gerr *gateway.Error) {
	if len(msgs) == 0 || len(msgs) > 2 {
		return nil, content{}, types.NewError(types.ErrInvalidRequest,
			"vertex adapter accepts exactly a system and a user message").WithProvider("vertex")
	}

	var sysMsg, userMsg *types.Message
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case types.RoleSystem:
			if sysMsg != nil {
				return nil, content{}, types.NewError(types.ErrInvalidRequest, "only one system message allowed").WithProvider("vertex")
			}
			sysMsg = m
		case types.RoleUser:
			if userMsg != nil {
				return nil, content{}, types.NewError(types.ErrInvalidRequest, "only one user message allowed").WithProvider("vertex")
			}
			userMsg = m
		default:
			return nil, content{}, types.NewError(types.ErrInvalidRequest,
				"vertex adapter rejects roles other than system/user: "+string(m.Role)).WithProvider("vertex")
		}
	}
	if userMsg == nil {
		return nil, content{}, types.NewError(types.ErrInvalidRequest, "a user message is required").WithProvider("vertex")
	}

	if sysMsg != nil {
		sys = &content{Parts: []part{{Text: sysMsg.Content}}}
	}
	user = content{Role: "user", Parts: []part{{Text: userMsg.Content}}}
	return sys, user, nil
}

// extractText walks candidates[0].content.parts[*].text; if usesFFC and a
// call to the synthetic emit_result function is present, its arguments are
// serialized as the text payload instead. finish_reasons/block_reason are
// always surfaced in the returned metadata map.
func extractText(resp generateResponse, usesFFC bool) (string, map[string]any) {
	metadata := map[string]any{}

	var finishReasons []string
	for _, c := range resp.Candidates {
		if c.FinishReason != "" {
			finishReasons = append(finishReasons, c.FinishReason)
		}
	}
	if len(finishReasons) > 0 {
		metadata["finish_reasons"] = finishReasons
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		metadata["block_reason"] = resp.PromptFeedback.BlockReason
		return "", metadata
	}

	if len(resp.Candidates) == 0 {
		return "", metadata
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if usesFFC && part.FunctionCall != nil && part.FunctionCall.Name == emitResultFunctionName {
			if argsJSON, err := json.Marshal(part.FunctionCall.Args); err == nil {
				return string(argsJSON), metadata
			}
		}
		text += part.Text
	}
	return text, metadata
}

func extractVertexCitations(raw map[string]any) (anchored, unlinked []citation.Citation, rawCount int) {
	var sources []citation.Source
	candidates, _ := raw["candidates"].([]any)
	for _, c := range candidates {
		cObj, _ := c.(map[string]any)
		if cObj == nil {
			continue
		}
		gm, _ := firstNonNil(cObj, "grounding_metadata", "groundingMetadata").(map[string]any)
		if gm == nil {
			continue
		}
		anchoredCandidate := hasSupportingSpans(gm)
		chunks, _ := firstNonNil(gm, "grounding_chunks", "groundingChunks").([]any)
		for _, chunk := range chunks {
			chunkObj, _ := chunk.(map[string]any)
			web, _ := chunkObj["web"].(map[string]any)
			if web == nil {
				continue
			}
			uri, _ := web["uri"].(string)
			title, _ := web["title"].(string)
			if uri == "" {
				continue
			}
			sources = append(sources, citation.Source{URL: uri, Title: title, Anchored: anchoredCandidate})
		}
	}
	return citation.Extract(sources)
}

func hasSupportingSpans(gm map[string]any) bool {
	supports, _ := firstNonNil(gm, "grounding_supports", "groundingSupports").([]any)
	return len(supports) > 0
}

func firstNonNil(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
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

func (p *Provider) call(ctx context.Context, model string, body generateRequest) ([]byte, *gateway.Error) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to marshal request").WithCause(err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(p.cfg.BaseURL, "/"), model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to build request").WithCause(err)
	}
	p.setHeaders(ctx, httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrTimeout, "request cancelled or timed out").WithCause(err).WithRetryable(true).WithProvider(p.name)
		}
		return nil, types.NewError(types.ErrServiceUnavailable, err.Error()).WithRetryable(true).WithProvider(p.name)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.name)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "failed to read response body").WithCause(err).WithRetryable(true).WithProvider(p.name)
	}
	return raw, nil
}

func (p *Provider) setHeaders(ctx context.Context, httpReq *http.Request) {
	apiKey := p.cfg.APIKey
	if c, ok := gateway.CredentialOverrideFromContext(ctx); ok && c.APIKey != "" {
		apiKey = c.APIKey
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
}

// HealthCheck probes the model listing endpoint once and caches the result
// for the process lifetime.
func (p *Provider) HealthCheck(ctx context.Context) (*gateway.HealthStatus, *gateway.Error) {
	p.healthOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		start := time.Now()
		endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1beta/models"
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
