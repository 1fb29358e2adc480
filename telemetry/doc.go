// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package telemetry implements the gateway's per-call telemetry record and
its emission pipeline.

The router produces exactly one Record per call — success or failure — and
hands it to an Emitter, which enqueues it onto a bounded, async channel and
returns immediately. A single background goroutine drains the channel into
a Sink. If the queue is full, the record is dropped and a counter is
incremented; emission never blocks or fails the call it describes.

LogSink (the default) writes each record as a structured zap log line.
RedisSink pushes records onto a capped Redis list for an external collector
to drain.
*/
package telemetry
