// Package fixtures provides predefined gateway.ChatResponse values for
// tests.
package fixtures

import "github.com/agentflow/llmgateway/gateway"

// SimpleResponse returns a plain, ungrounded successful response.
func SimpleResponse(content string) *gateway.ChatResponse {
	return &gateway.ChatResponse{
		Content: content,
		Success: true,
		Usage:   gateway.Usage{Prompt: 10, Completion: 20, Total: 30},
	}
}

// ResponseWithUsage returns SimpleResponse with a custom token usage.
func ResponseWithUsage(content string, promptTokens, completionTokens int) *gateway.ChatResponse {
	resp := SimpleResponse(content)
	resp.Usage = gateway.Usage{Prompt: promptTokens, Completion: completionTokens, Total: promptTokens + completionTokens}
	return resp
}

// GroundedResponse returns a successful response carrying citations.
func GroundedResponse(content string, citations []gateway.Citation) *gateway.ChatResponse {
	resp := SimpleResponse(content)
	resp.GroundedEffective = true
	resp.Citations = citations
	resp.Metadata = map[string]any{
		"tool_call_count":          1,
		"anchored_citations_count": countAnchored(citations),
	}
	return resp
}

func countAnchored(citations []gateway.Citation) int {
	n := 0
	for _, c := range citations {
		if c.Anchored {
			n++
		}
	}
	return n
}

// EmptyResponse returns a successful but contentless response, the shape a
// safety block or an ungrounded empty completion produces.
func EmptyResponse(metadata map[string]any) *gateway.ChatResponse {
	return &gateway.ChatResponse{Content: "", Success: true, Metadata: metadata}
}

// SmallUsage, MediumUsage, and LargeUsage return representative token
// usage values for test scenarios.
func SmallUsage() gateway.Usage  { return gateway.Usage{Prompt: 10, Completion: 20, Total: 30} }
func MediumUsage() gateway.Usage { return gateway.Usage{Prompt: 500, Completion: 1000, Total: 1500} }
func LargeUsage() gateway.Usage  { return gateway.Usage{Prompt: 4000, Completion: 4096, Total: 8096} }

// CustomUsage returns a usage value with the given prompt/completion split.
func CustomUsage(prompt, completion int) gateway.Usage {
	return gateway.Usage{Prompt: prompt, Completion: completion, Total: prompt + completion}
}

// GreetingResponse returns a canned greeting response.
func GreetingResponse() *gateway.ChatResponse {
	return SimpleResponse("Hello! How can I assist you today?")
}

// SearchResultResponse returns a grounded response listing results.
func SearchResultResponse(results []string, citations []gateway.Citation) *gateway.ChatResponse {
	content := "Here are the search results:\n"
	for i, r := range results {
		content += string(rune('1'+i)) + ". " + r + "\n"
	}
	return GroundedResponse(content, citations)
}
