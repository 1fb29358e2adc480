package ratelimit

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/agentflow/llmgateway/types"
)

// encodingName is fixed: every vendor in scope is estimated against the
// same general-purpose BPE; adapter-specific tokenizers are not available
// without vendor SDKs, and a close estimate is all Acquire needs (Commit
// folds actual usage into the limiter's adaptive multiplier).
const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// EstimateTokens approximates the prompt token count for messages. The
// router does not call it; it passes its own length-based estimate to
// Acquire.
func EstimateTokens(messages []types.Message) int64 {
	e, err := encoding()
	if err != nil {
		return estimateByLength(messages)
	}

	var total int64
	for _, m := range messages {
		total += int64(len(e.Encode(m.Content, nil, nil))) + 4 // role/segment overhead
	}
	return total
}

// estimateByLength is the fallback when the tiktoken vocabulary can't be
// loaded (e.g. no network access to fetch it): roughly 4 bytes/token.
func estimateByLength(messages []types.Message) int64 {
	var total int64
	for _, m := range messages {
		total += int64(len(m.Content))/4 + 4
	}
	return total
}
