// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package openai adapts the OpenAI-style Responses API (/v1/responses) to
the gateway's vendor-neutral contract.

# Responsibilities

  - Typed input blocks: each message becomes a role + input_text segment.
  - Grounded calls attach tools=[{type: web_search}]; a 400 response that
    rejects the tool is retried once with web_search_preview.
  - TextEnvelope fallback: an ungrounded, non-JSON call with empty output
    text is retried once against a synthetic {content: string} schema and
    the envelope is unwrapped, tagged text_source=json_envelope_fallback.
  - Token budgets: max_output_tokens floored at 16, capped at a configurable
    grounded ceiling (default 6000); temperature/top_p are withheld for
    reasoning-class models via OpenAIConfig.ReasoningModel.
  - Text extraction priority: output_text message items, the output_text
    convenience field, reasoning text (ungrounded only), then the envelope.
  - REQUIRED grounding policy enforcement after extraction, via the
    grounding and citation packages.
  - A single cached health probe against /v1/models.

This adapter owns no retry or circuit-breaker state; gateway.ResilientProvider
wraps it with those, keyed on vendor:model.
*/
package openai
