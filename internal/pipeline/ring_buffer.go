// Package pipeline implements the bounded, pre-allocated ring-buffer event
// pipeline (C7): producers claim a monotonic sequence and publish into slot
// `sequence & (N-1)`; with multiple consumers, work is statically partitioned
// by `sequence % consumerCount` so each sequence is delivered to exactly one
// consumer and each consumer observes its own subsequence in order
// (spec.md §4.5).
//
// The per-slot claim/publish/consume protocol is the classic single-writer-
// per-slot bounded queue technique (each slot carries its own sequence stamp
// so producers detect "full" without a separate cursor), described in the
// example pack's doc-only hayabusa-cloud-lfq package as claim/publish with
// pluggable wait strategies — that module itself depends on packages outside
// the fetchable module graph, so the mechanism here is built directly on
// sync/atomic rather than importing it; see DESIGN.md.
package pipeline

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"candlecore/internal/events"
	"candlecore/internal/metrics"
)

// Handler processes one event delivered off the ring. Panics inside Handler
// are recovered and logged — the consumer loop never dies (spec.md §4.5,
// "back-pressure"). Recovered panics are not counted by any metric.
type Handler func(events.BidAskEvent)

type cell struct {
	sequence int64 // atomic
	event    events.BidAskEvent
}

// RingBuffer is the bounded SPMC/MPMC event pipeline.
type RingBuffer struct {
	size  int64
	mask  int64
	cells []cell

	claimed       int64 // atomic: next sequence to hand out to a producer
	totalConsumed int64 // atomic: sum of events consumed across all consumers

	strategy WaitStrategy
	metrics  *metrics.Metrics
	log      *zap.Logger

	cond *sync.Cond

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	started    bool
	mu         sync.Mutex
}

// NewRingBuffer allocates a ring of size slots. size must be a power of two.
func NewRingBuffer(size int, strategy WaitStrategy, m *metrics.Metrics, log *zap.Logger) (*RingBuffer, error) {
	if size <= 0 || bits.OnesCount(uint(size)) != 1 {
		return nil, fmt.Errorf("pipeline: buffer size %d must be a positive power of two", size)
	}
	rb := &RingBuffer{
		size:       int64(size),
		mask:       int64(size - 1),
		cells:      make([]cell, size),
		strategy:   strategy,
		metrics:    m,
		log:        log,
		cond:       sync.NewCond(&sync.Mutex{}),
		shutdownCh: make(chan struct{}),
	}
	for i := range rb.cells {
		rb.cells[i].sequence = int64(i)
	}
	return rb, nil
}

func (rb *RingBuffer) notifyAll() {
	rb.cond.L.Lock()
	rb.cond.Broadcast()
	rb.cond.L.Unlock()
}

// tryClaim attempts to reserve the next sequence slot without counting an
// overflow as a drop — used internally by both TryPublish (which does count
// the drop) and Publish's blocking retry loop (which must not).
func (rb *RingBuffer) tryClaim() (int64, bool) {
	pos := atomic.LoadInt64(&rb.claimed)
	for {
		idx := pos & rb.mask
		seq := atomic.LoadInt64(&rb.cells[idx].sequence)
		diff := seq - pos
		switch {
		case diff == 0:
			if atomic.CompareAndSwapInt64(&rb.claimed, pos, pos+1) {
				return pos, true
			}
			pos = atomic.LoadInt64(&rb.claimed)
		case diff < 0:
			return 0, false
		default:
			pos = atomic.LoadInt64(&rb.claimed)
		}
	}
}

// TryPublish is the non-blocking claim. Returns false and increments
// pipeline_events_dropped if no slot is free (spec.md §4.5).
func (rb *RingBuffer) TryPublish(ev events.BidAskEvent) bool {
	pos, ok := rb.tryClaim()
	if !ok {
		rb.metrics.PipelineEventsDropped.Inc()
		return false
	}
	idx := pos & rb.mask
	rb.cells[idx].event = ev
	atomic.StoreInt64(&rb.cells[idx].sequence, pos+1)
	rb.notifyAll()
	return true
}

// Publish claims and blocks until a slot is free, respecting the configured
// wait strategy, or returns ctx.Err() if ctx is canceled first.
func (rb *RingBuffer) Publish(ctx context.Context, ev events.BidAskEvent) error {
	attempt := 0
	for {
		if pos, ok := rb.tryClaim(); ok {
			idx := pos & rb.mask
			rb.cells[idx].event = ev
			atomic.StoreInt64(&rb.cells[idx].sequence, pos+1)
			rb.notifyAll()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rb.strategy.Idle(rb, attempt)
		attempt++
	}
}

// Start spawns `consumers` goroutines (1..=K) which together drain the
// ring in published-sequence order, statically partitioned by
// sequence % consumers. Start must be called at most once.
func (rb *RingBuffer) Start(consumers int, handler Handler) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.started {
		return fmt.Errorf("pipeline: already started")
	}
	if consumers < 1 {
		return fmt.Errorf("pipeline: consumers must be >= 1, got %d", consumers)
	}
	rb.started = true

	for i := 0; i < consumers; i++ {
		rb.wg.Add(1)
		go rb.consumeLoop(int64(i), int64(consumers), handler)
	}
	return nil
}

func (rb *RingBuffer) consumeLoop(start, stride int64, handler Handler) {
	defer rb.wg.Done()
	seq := start
	attempt := 0

	for {
		select {
		case <-rb.shutdownCh:
			if !rb.sequenceReady(seq) {
				return
			}
		default:
		}

		for !rb.sequenceReady(seq) {
			select {
			case <-rb.shutdownCh:
				return
			default:
			}
			rb.strategy.Idle(rb, attempt)
			attempt++
		}
		attempt = 0

		idx := seq & rb.mask
		ev := rb.cells[idx].event
		rb.dispatch(handler, ev)

		atomic.StoreInt64(&rb.cells[idx].sequence, seq+rb.size)
		atomic.AddInt64(&rb.totalConsumed, 1)
		rb.notifyAll()

		seq += stride
	}
}

func (rb *RingBuffer) sequenceReady(seq int64) bool {
	idx := seq & rb.mask
	return atomic.LoadInt64(&rb.cells[idx].sequence) == seq+1
}

// dispatch invokes handler with panic recovery (spec.md §4.5/§7,
// HandlerException): a panic is caught, logged with the event's symbol and
// timestamp, and swallowed so the consumer loop never dies. No counter is
// incremented for it.
func (rb *RingBuffer) dispatch(handler Handler, ev events.BidAskEvent) {
	defer func() {
		if r := recover(); r != nil {
			rb.log.Error("pipeline handler panic",
				zap.Any("recovered", r),
				zap.String("symbol", ev.Symbol),
				zap.Int64("timestamp_ms", ev.TimestampMs),
			)
		}
	}()
	handler(ev)
}

// Shutdown signals consumers to drain their currently visible sequences and
// stop, bounded by ctx's deadline.
func (rb *RingBuffer) Shutdown(ctx context.Context) error {
	rb.mu.Lock()
	started := rb.started
	rb.mu.Unlock()
	if !started {
		return nil
	}

	close(rb.shutdownCh)
	rb.notifyAll()

	done := make(chan struct{})
	go func() {
		rb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemainingCapacity returns an approximate count of free slots.
func (rb *RingBuffer) RemainingCapacity() int64 {
	claimed := atomic.LoadInt64(&rb.claimed)
	consumed := atomic.LoadInt64(&rb.totalConsumed)
	inFlight := claimed - consumed
	free := rb.size - inFlight
	if free < 0 {
		return 0
	}
	return free
}

// BufferSize returns the ring's fixed slot count.
func (rb *RingBuffer) BufferSize() int64 {
	return rb.size
}
