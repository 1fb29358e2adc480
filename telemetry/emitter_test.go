package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu   sync.Mutex
	recs []Record
}

func (c *captureSink) Emit(_ context.Context, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *captureSink) all() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.recs))
	copy(out, c.recs)
	return out
}

func TestEmitter_DeliversRecordToSink(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitter(sink, 8, nil)
	defer e.Close()

	e.Emit(Record{RequestID: "req-1", Success: true})

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "req-1", sink.all()[0].RequestID)
}

func TestEmitter_DropsWhenQueueFull(t *testing.T) {
	blockCh := make(chan struct{})
	sink := blockingSink{blockCh: blockCh}
	e := NewEmitter(sink, 1, nil)
	defer func() {
		close(blockCh)
		e.Close()
	}()

	e.Emit(Record{RequestID: "a"}) // consumed by the drain goroutine, blocks there
	time.Sleep(10 * time.Millisecond)
	e.Emit(Record{RequestID: "b"}) // fills the queue
	e.Emit(Record{RequestID: "c"}) // dropped

	assert.Equal(t, int64(1), e.Dropped())
}

type blockingSink struct {
	blockCh chan struct{}
}

func (b blockingSink) Emit(_ context.Context, _ Record) {
	<-b.blockCh
}

func TestLogSink_DoesNotPanicOnNilLogger(t *testing.T) {
	s := NewLogSink(nil)
	assert.NotPanics(t, func() { s.Emit(context.Background(), Record{RequestID: "x"}) })
}
