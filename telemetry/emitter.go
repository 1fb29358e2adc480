package telemetry

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"
)

// Sink persists or forwards a telemetry Record. Implementations MUST be
// fast and non-blocking; the Emitter calls a Sink from its single drain
// goroutine, so a slow sink backs up the whole queue.
type Sink interface {
	Emit(ctx context.Context, rec Record)
}

// Emitter hands records from the calling task to an async, bounded queue so
// a slow or unavailable sink can never stall the call it describes. When
// the queue is full, the record is dropped and Dropped is incremented
// instead of blocking.
type Emitter struct {
	sink    Sink
	queue   chan Record
	logger  *zap.Logger
	dropped atomic.Int64
	done    chan struct{}
}

// NewEmitter starts an Emitter with the given queue depth draining into
// sink on a single background goroutine. A nil sink is replaced by a
// LogSink so emission is never silently a no-op.
func NewEmitter(sink Sink, queueDepth int, logger *zap.Logger) *Emitter {
	if sink == nil {
		sink = NewLogSink(logger)
	}
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	e := &Emitter{
		sink:   sink,
		queue:  make(chan Record, queueDepth),
		logger: logger,
		done:   make(chan struct{}),
	}
	go e.drain()
	return e
}

func (e *Emitter) drain() {
	defer close(e.done)
	for rec := range e.queue {
		e.sink.Emit(context.Background(), rec)
	}
}

// Emit enqueues rec without blocking. Emission failure (queue full) is
// logged and swallowed — it must never fail the call that produced rec.
func (e *Emitter) Emit(rec Record) {
	select {
	case e.queue <- rec:
	default:
		e.dropped.Add(1)
		if e.logger != nil {
			e.logger.Warn("telemetry queue full, dropping record",
				zap.String("request_id", rec.RequestID),
				zap.Int64("dropped_total", e.dropped.Load()),
			)
		}
	}
}

// Dropped reports the cumulative number of records dropped for a full
// queue.
func (e *Emitter) Dropped() int64 { return e.dropped.Load() }

// Close stops accepting new records and waits for the queue to drain.
func (e *Emitter) Close() {
	close(e.queue)
	<-e.done
}

// LogSink writes each record as a structured log line. It is the default
// sink when the caller doesn't wire an external collector.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("failed to marshal telemetry record", zap.Error(err))
		return
	}
	s.logger.Info("gateway_call", zap.ByteString("record", payload))
}
