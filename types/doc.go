// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types provides the gateway's shared wire-level types.

# Overview

types is the lowest-level package in the module: it has no internal
dependencies and defines the message, tool, and error contracts that the
router, the provider adapters, and the resiliency layer all share, so
that none of them need to import one another just to speak the same
vocabulary.

# Core types

  - Message / Role       — a single chat turn (system/user/assistant)
  - ToolCall / ToolSchema — function-calling request/definition shapes
  - Error / ErrorCode     — the gateway's unified error taxonomy, carrying
    an HTTP status, a Retryable flag, and an optional vendor tag

# Conventions

  - Every adapter failure is translated into a *Error drawn from the
    ErrorCode taxonomy in error.go before it crosses a package boundary;
    no vendor SDK error type is ever returned to a caller.
  - NewError + the With* builder methods (WithCause, WithHTTPStatus,
    WithRetryable, WithProvider, WithRetryAfter) compose an Error in place
    rather than through a constructor with a long parameter list.
*/
package types
