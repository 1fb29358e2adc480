package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/llmgateway/gateway"
	"github.com/agentflow/llmgateway/gateway/providers"
)

func TestProvider_Name(t *testing.T) {
	p := New(providers.OpenAIConfig{}, nil)
	assert.Equal(t, "openai", p.Name())
}

func TestProvider_SupportsGrounding(t *testing.T) {
	p := New(providers.OpenAIConfig{}, nil)
	assert.True(t, p.SupportsGrounding())
}

func TestValidateMessages_RejectsEmpty(t *testing.T) {
	p := New(providers.OpenAIConfig{}, nil)
	err := p.validateMessages(&gateway.ChatRequest{})
	require.NotNil(t, err)
	assert.Equal(t, gateway.ErrInvalidRequest, err.Code)
}

func TestApplyTokenBudget_FloorsAtMinimum(t *testing.T) {
	p := New(providers.OpenAIConfig{}, nil)
	body := responsesRequest{}
	p.applyTokenBudget(&body, &gateway.ChatRequest{})
	assert.Equal(t, minOutputTokens, body.MaxOutputTokens)
}

func TestApplyTokenBudget_CapsGroundedCeiling(t *testing.T) {
	p := New(providers.OpenAIConfig{}, nil)
	body := responsesRequest{MaxOutputTokens: 50000}
	p.applyTokenBudget(&body, &gateway.ChatRequest{Grounded: true})
	assert.Equal(t, defaultGroundedCeiling, body.MaxOutputTokens)
}

func TestApplyTokenBudget_UngroundedUncapped(t *testing.T) {
	p := New(providers.OpenAIConfig{}, nil)
	body := responsesRequest{MaxOutputTokens: 50000}
	p.applyTokenBudget(&body, &gateway.ChatRequest{})
	assert.Equal(t, 50000, body.MaxOutputTokens)
}

func TestBuildRequest_WithholdsTemperatureForReasoningModels(t *testing.T) {
	p := New(providers.OpenAIConfig{ReasoningModel: true}, nil)
	temp := float32(0.7)
	body := p.buildRequest(&gateway.ChatRequest{Temperature: &temp})
	assert.Nil(t, body.Temperature)
}

func TestBuildRequest_KeepsTemperatureForStandardModels(t *testing.T) {
	p := New(providers.OpenAIConfig{}, nil)
	temp := float32(0.7)
	body := p.buildRequest(&gateway.ChatRequest{Temperature: &temp})
	require.NotNil(t, body.Temperature)
	assert.Equal(t, temp, *body.Temperature)
}

func TestExtractText_PrefersOutputTextMessageItems(t *testing.T) {
	resp := responsesResponse{
		OutputText: "fallback text",
		Output: []outputItem{
			{Type: "message", Content: []outputContent{{Type: "output_text", Text: "primary text"}}},
		},
	}
	text, source := extractText(resp)
	assert.Equal(t, "primary text", text)
	assert.Equal(t, "output_text", source)
}

func TestExtractText_FallsBackToOutputTextField(t *testing.T) {
	resp := responsesResponse{OutputText: "convenience field text"}
	text, source := extractText(resp)
	assert.Equal(t, "convenience field text", text)
	assert.Equal(t, "output_text_field", source)
}

func TestExtractText_FallsBackToReasoning(t *testing.T) {
	resp := responsesResponse{
		Output: []outputItem{
			{Type: "reasoning", Content: []outputContent{{Text: "reasoning trace"}}},
		},
	}
	text, source := extractText(resp)
	assert.Equal(t, "reasoning trace", text)
	assert.Equal(t, "reasoning_fallback", source)
}

func TestExtractText_EmptyWhenNothingFound(t *testing.T) {
	text, source := extractText(responsesResponse{})
	assert.Empty(t, text)
	assert.Empty(t, source)
}
