package vertex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/llmgateway/gateway"
	"github.com/agentflow/llmgateway/gateway/providers"
	"github.com/agentflow/llmgateway/types"
)

func TestProvider_Name(t *testing.T) {
	p := New(providers.VertexConfig{}, nil)
	assert.Equal(t, "vertex", p.Name())
}

func TestProvider_SupportsGrounding(t *testing.T) {
	p := New(providers.VertexConfig{}, nil)
	assert.True(t, p.SupportsGrounding())
}

func TestSplitMessages_RejectsEmpty(t *testing.T) {
	_, _, err := splitMessages(nil)
	require.NotNil(t, err)
	assert.Equal(t, gateway.ErrInvalidRequest, err.Code)
}

func TestSplitMessages_RejectsMoreThanTwo(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "s"},
		{Role: types.RoleUser, Content: "u1"},
		{Role: types.RoleUser, Content: "u2"},
	}
	_, _, err := splitMessages(msgs)
	require.NotNil(t, err)
	assert.Equal(t, gateway.ErrInvalidRequest, err.Code)
}

func TestSplitMessages_RejectsAssistantRole(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "u"},
		{Role: types.RoleAssistant, Content: "a"},
	}
	_, _, err := splitMessages(msgs)
	require.NotNil(t, err)
	assert.Equal(t, gateway.ErrInvalidRequest, err.Code)
}

func TestSplitMessages_AcceptsSystemAndUser(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "be concise"},
		{Role: types.RoleUser, Content: "hello"},
	}
	sys, user, err := splitMessages(msgs)
	require.Nil(t, err)
	require.NotNil(t, sys)
	assert.Equal(t, "be concise", sys.Parts[0].Text)
	assert.Equal(t, "hello", user.Parts[0].Text)
}

func TestSplitMessages_AcceptsUserOnly(t *testing.T) {
	msgs := []types.Message{{Role: types.RoleUser, Content: "hello"}}
	sys, user, err := splitMessages(msgs)
	require.Nil(t, err)
	assert.Nil(t, sys)
	assert.Equal(t, "hello", user.Parts[0].Text)
}

func TestExtractText_ConcatenatesParts(t *testing.T) {
	resp := generateResponse{
		Candidates: []candidate{{Content: content{Parts: []part{{Text: "hello "}, {Text: "world"}}}}},
	}
	text, metadata := extractText(resp, false)
	assert.Equal(t, "hello world", text)
	assert.Empty(t, metadata)
}

func TestExtractText_UsesFunctionCallArgsWhenFFC(t *testing.T) {
	resp := generateResponse{
		Candidates: []candidate{{Content: content{Parts: []part{
			{FunctionCall: &functionCall{Name: emitResultFunctionName, Args: map[string]any{"answer": "42"}}},
		}}}},
	}
	text, _ := extractText(resp, true)
	assert.JSONEq(t, `{"answer":"42"}`, text)
}

func TestExtractText_SurfacesBlockReasonWithoutError(t *testing.T) {
	resp := generateResponse{
		PromptFeedback: &struct {
			BlockReason string `json:"blockReason,omitempty"`
		}{BlockReason: "SAFETY"},
	}
	text, metadata := extractText(resp, false)
	assert.Empty(t, text)
	assert.Equal(t, "SAFETY", metadata["block_reason"])
}

func TestExtractText_SurfacesFinishReasons(t *testing.T) {
	resp := generateResponse{
		Candidates: []candidate{{FinishReason: "MAX_TOKENS", Content: content{Parts: []part{{Text: "partial"}}}}},
	}
	text, metadata := extractText(resp, false)
	assert.Equal(t, "partial", text)
	assert.Equal(t, []string{"MAX_TOKENS"}, metadata["finish_reasons"])
}

func TestExtractText_EmptyWhenNoCandidates(t *testing.T) {
	text, metadata := extractText(generateResponse{}, false)
	assert.Empty(t, text)
	assert.Empty(t, metadata)
}

func TestExtractVertexCitations_ReadsWebChunks(t *testing.T) {
	raw := map[string]any{
		"candidates": []any{
			map[string]any{
				"groundingMetadata": map[string]any{
					"groundingChunks": []any{
						map[string]any{"web": map[string]any{"uri": "https://example.com/a", "title": "A"}},
					},
					"groundingSupports": []any{map[string]any{}},
				},
			},
		},
	}
	anchored, unlinked, rawCount := extractVertexCitations(raw)
	require.Len(t, anchored, 1)
	assert.Empty(t, unlinked)
	assert.Equal(t, 1, rawCount)
	assert.Equal(t, "example.com", anchored[0].Domain)
}
