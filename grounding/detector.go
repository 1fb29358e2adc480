// Package grounding implements the vendor-agnostic grounding detector:
// pure functions that inspect a decoded vendor response and report whether
// a call actually grounded its answer in live search results.
package grounding

import "strings"

// Vendor selects which detection heuristic to apply.
type Vendor string

const (
	VendorOpenAI Vendor = "openai"
	VendorVertex Vendor = "vertex"
)

var searchOutputTypes = map[string]bool{
	"web_search_call": true, "web_search_result": true, "web_search": true,
	"web_search_preview": true, "web_search_preview_call": true, "web_search_preview_result": true,
	"tool_use": true, "tool_result": true, "function_call": true, "function_result": true,
}

var citationAnnotationTypes = map[string]bool{
	"url_citation": true, "web_result": true, "citation": true, "url": true, "reference": true,
}

// DetectOpenAI scans a decoded Responses-API payload for tool-call and
// citation-annotation evidence. raw is the generic
// map[string]any decode of the response body, tolerating both the typed
// shape the adapter parses into and any equivalent loosely-typed form.
func DetectOpenAI(raw map[string]any) (groundedEffective bool, toolCallCount int) {
	output, _ := raw["output"].([]any)
	for _, item := range output {
		obj, _ := item.(map[string]any)
		if obj == nil {
			continue
		}
		itype, _ := obj["type"].(string)
		if matchesSearchType(itype) {
			toolCallCount++
			groundedEffective = true
		}

		content, _ := obj["content"].([]any)
		for _, blk := range content {
			blkObj, _ := blk.(map[string]any)
			if blkObj == nil {
				continue
			}
			anns, _ := blkObj["annotations"].([]any)
			for _, a := range anns {
				aObj, _ := a.(map[string]any)
				atype, _ := aObj["type"].(string)
				atype = strings.ToLower(atype)
				if matchesCitationType(atype) {
					toolCallCount++
					groundedEffective = true
				}
			}
		}
	}
	return groundedEffective, toolCallCount
}

func matchesSearchType(itype string) bool {
	if itype == "" {
		return false
	}
	if searchOutputTypes[itype] {
		return true
	}
	lower := strings.ToLower(itype)
	if strings.Contains(lower, "search") || strings.Contains(lower, "tool") || strings.Contains(lower, "function") {
		return true
	}
	return strings.Contains(lower, "call") && strings.Contains(lower, "web")
}

func matchesCitationType(atype string) bool {
	if atype == "" {
		return false
	}
	if citationAnnotationTypes[atype] {
		return true
	}
	return strings.Contains(atype, "url") || strings.Contains(atype, "citation") || strings.Contains(atype, "reference")
}

var groundingMetadataKeys = [][2]string{
	{"web_search_queries", "webSearchQueries"},
	{"grounding_chunks", "groundingChunks"},
	{"search_entry_point", "searchEntryPoint"},
	{"citations", "citations"},
	{"grounding_attributions", "groundingAttributions"},
	{"retrieved_contexts", "retrievedContexts"},
	{"supporting_evidence", "supportingEvidence"},
}

// DetectVertex scans a decoded GenerateContent payload's candidates for
// grounding_metadata evidence, tolerating both snake_case and camelCase
// field names.
func DetectVertex(raw map[string]any) (groundedEffective bool, toolCallCount int) {
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
		for _, keys := range groundingMetadataKeys {
			v := firstNonNil(gm, keys[0], keys[1])
			if isPresent(v) {
				if list, ok := v.([]any); ok && len(list) > 0 {
					return true, len(list)
				}
				return true, 1
			}
		}
	}
	return false, 0
}

func firstNonNil(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func isPresent(v any) bool {
	if v == nil {
		return false
	}
	if list, ok := v.([]any); ok {
		return len(list) > 0
	}
	return true
}

// Detect dispatches to the vendor-specific heuristic.
func Detect(vendor Vendor, raw map[string]any) (groundedEffective bool, toolCallCount int) {
	switch vendor {
	case VendorVertex:
		return DetectVertex(raw)
	default:
		return DetectOpenAI(raw)
	}
}
