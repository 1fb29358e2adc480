// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package router implements the gateway's single call path: validate the
vendor/model, normalize legacy policy fields, inject the Ambient Location
Signal exactly once, compute a grounding-aware deadline, acquire a
per-vendor rate-limiter permit, dispatch to the resilient provider, and
emit exactly one telemetry record per call regardless of outcome.

The Router is the only component allowed to mutate a ChatRequest. Every
downstream component — the provider adapters, the resiliency layer, the
grounding detector — treats it as read-only from that point on.
*/
package router
