// Package feed provides a synthetic BidAskEvent source. Spec.md §6 notes
// the pipeline's producer side is driven by an external ingestion source
// whose format is out of scope; a synthetic event source exists only to
// drive tests.
package feed

import (
	"math"

	"candlecore/internal/events"
)

// Generator deterministically produces BidAskEvents for one symbol, walking
// a mid price by a fixed step pattern so tests get reproducible OHLC shapes
// without a real exchange feed.
type Generator struct {
	Symbol    string
	StartMs   int64
	StepMs    int64
	StartMid  float64
	Amplitude float64

	n int64
}

// NewGenerator builds a deterministic generator for symbol, starting at
// startMs and emitting one event every stepMs.
func NewGenerator(symbol string, startMs, stepMs int64, startMid, amplitude float64) *Generator {
	return &Generator{
		Symbol:    symbol,
		StartMs:   startMs,
		StepMs:    stepMs,
		StartMid:  startMid,
		Amplitude: amplitude,
	}
}

// Next returns the next event in the deterministic sequence. Price follows
// a sine wave around StartMid so successive candles show varied OHLC
// shape instead of flat lines.
func (g *Generator) Next() events.BidAskEvent {
	ts := g.StartMs + g.n*g.StepMs
	mid := g.StartMid + g.Amplitude*math.Sin(float64(g.n)*0.37)
	g.n++

	spread := g.Amplitude * 0.01
	if spread <= 0 {
		spread = 0.01
	}
	return events.BidAskEvent{
		Symbol:      g.Symbol,
		Bid:         mid - spread/2,
		Ask:         mid + spread/2,
		TimestampMs: ts,
	}
}

// NextN returns the next n events in sequence.
func (g *Generator) NextN(n int) []events.BidAskEvent {
	out := make([]events.BidAskEvent, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

// LateVariant wraps a base sequence and re-emits the event at lateIndex a
// second time with timestamp shifted back by lagMs, after the rest of the
// sequence — used to exercise the aggregator's LateWithin/LateBeyond paths
// in tests.
func LateVariant(base []events.BidAskEvent, lateIndex int, lagMs int64) []events.BidAskEvent {
	if lateIndex < 0 || lateIndex >= len(base) {
		return base
	}
	out := make([]events.BidAskEvent, 0, len(base)+1)
	out = append(out, base...)
	late := base[lateIndex]
	late.TimestampMs -= lagMs
	out = append(out, late)
	return out
}
