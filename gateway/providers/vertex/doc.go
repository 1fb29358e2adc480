// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package vertex adapts Google's Vertex AI / Gemini generateContent endpoint
to the gateway's normalized Provider contract.

# Message contract

The adapter accepts exactly one system message and one user message; any
other shape (more messages, other roles, a missing user turn) is rejected
before a request is ever sent upstream.

# Safety and grounding

Every request carries safety settings pinned to BLOCK_ONLY_HIGH across all
categories, the loosest threshold that still blocks egregious content —
factual/grounded queries trip false-positive safety blocks more easily at
stricter thresholds. Grounded calls attach the GoogleSearch tool. A grounded
call that also needs structured JSON output cannot simply ask the model for
JSON and search at once, so the adapter falls back to Forced Function
Calling: a synthetic emit_result function declaration plus
tool_config.mode=ANY/allowed_function_names=[emit_result], which compels the
model to return its answer as a function-call payload instead of free text.

# Text extraction

Response text comes from candidates[0].content.parts[*].text, concatenated
in order. When Forced Function Calling was used, the emit_result call's
arguments are serialized back to JSON as the response body instead.

# Empty responses

A safety block or an empty candidate list is not an error: the adapter
returns success with empty content and surfaces finish_reasons/block_reason
in the response metadata so a caller can distinguish "nothing to say" from
"the call failed."

# Grounding citations

Citation extraction reuses the shared citation package, which already
understands the vertexaisearch.cloud.google.com/grounding-api-redirect
indirection Vertex search results are wrapped in.

The adapter owns no retry or circuit-breaker state; ResilientProvider wraps
it with both, keyed on vendor:model.
*/
package vertex
