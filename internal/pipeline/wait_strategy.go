package pipeline

import (
	"fmt"
	"runtime"
	"time"
)

// WaitStrategy is the back-off policy a producer or consumer applies while
// waiting for a ring buffer slot to become available, per spec.md §4.5/§6
// ("pipeline.wait_strategy — Spin|Yield|Sleep|Block").
type WaitStrategy interface {
	// Idle performs one back-off step. attempt counts consecutive failed
	// polls of the awaited condition, for strategies that escalate.
	Idle(rb *RingBuffer, attempt int)
}

// SpinWait busy-polls with no back-off at all — lowest latency, highest CPU.
type SpinWait struct{}

func (SpinWait) Idle(*RingBuffer, int) {}

// YieldWait yields the processor to the Go scheduler between polls.
type YieldWait struct{}

func (YieldWait) Idle(*RingBuffer, int) { runtime.Gosched() }

// SleepWait sleeps for a short, capped, linearly escalating duration.
type SleepWait struct{}

func (SleepWait) Idle(_ *RingBuffer, attempt int) {
	n := attempt
	if n > 50 {
		n = 50
	}
	time.Sleep(time.Duration(n) * time.Microsecond)
}

// BlockWait parks on the ring buffer's condition variable until signaled by
// the next publish or consume, rather than polling at all.
//
// sync.Cond has no timed wait, so a plain Lock/Wait/Unlock here would leave
// a gap between the caller's predicate check (sequenceReady or tryClaim,
// both outside cond.L) and the Lock call: a publish or consume whose
// notifyAll lands in that gap is missed, and the waiter sleeps until the
// next unrelated signal or shutdown. blockWaitTimeout bounds that gap by
// self-waking, so a missed notification costs at most one timeout instead
// of stalling the consumer indefinitely.
type BlockWait struct{}

const blockWaitTimeout = time.Millisecond

func (BlockWait) Idle(rb *RingBuffer, _ int) {
	rb.cond.L.Lock()
	timer := time.AfterFunc(blockWaitTimeout, rb.notifyAll)
	rb.cond.Wait()
	timer.Stop()
	rb.cond.L.Unlock()
}

// ParseWaitStrategy resolves the configured strategy name (spec.md §6).
func ParseWaitStrategy(name string) (WaitStrategy, error) {
	switch name {
	case "", "Yield":
		return YieldWait{}, nil
	case "Spin":
		return SpinWait{}, nil
	case "Sleep":
		return SleepWait{}, nil
	case "Block":
		return BlockWait{}, nil
	default:
		return nil, fmt.Errorf("pipeline: unknown wait strategy %q", name)
	}
}
