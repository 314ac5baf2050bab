// Package candle implements the immutable OHLCV candle record (C2) and the
// mutable in-progress cell (C3) the aggregator folds events into.
package candle

import (
	"fmt"

	"candlecore/internal/utils"
)

// Candle is an immutable OHLCV record for one closed or in-progress window.
// Invariants enforced at construction (spec.md §3):
//
//	low <= open <= high
//	low <= close <= high
//	volume >= 1
//
// TimeMs must already be epoch-aligned by the caller; Candle has no interval
// of its own to validate that against.
type Candle struct {
	TimeMs int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// New validates and constructs a Candle. The aggregator's own paths
// (MutableCell.Freeze, FoldIn, Of) build Candle values directly and do not
// go through this check.
func New(timeMs int64, open, high, low, close float64, volume int64) (Candle, error) {
	c := Candle{TimeMs: timeMs, Open: open, High: high, Low: low, Close: close, Volume: volume}
	if err := c.validate(); err != nil {
		return Candle{}, err
	}
	return c, nil
}

func (c Candle) validate() error {
	if c.Low > c.Open || c.Open > c.High {
		return fmt.Errorf("candle: invariant violated: low=%v open=%v high=%v", c.Low, c.Open, c.High)
	}
	if c.Low > c.Close || c.Close > c.High {
		return fmt.Errorf("candle: invariant violated: low=%v close=%v high=%v", c.Low, c.Close, c.High)
	}
	if c.Volume < 1 {
		return fmt.Errorf("candle: invariant violated: volume=%d < 1", c.Volume)
	}
	return nil
}

// FoldIn implements spec.md §4.2's late-update fold: open is unchanged,
// high/low widen to include price, close becomes price, volume increments.
// Used only for LateWithin updates to an already-persisted candle; the
// original is discarded and the write is idempotent by key.
func (c Candle) FoldIn(price float64) Candle {
	return Candle{
		TimeMs: c.TimeMs,
		Open:   c.Open,
		High:   utils.MaxFloat64(c.High, price),
		Low:    utils.MinFloat64(c.Low, price),
		Close:  price,
		Volume: c.Volume + 1,
	}
}

// Of constructs a one-shot candle from a single price, used when a
// LateWithin update targets a window the store has no record of yet
// (spec.md §4.4: "if absent, construct a fresh one-shot candle from price").
func Of(timeMs int64, price float64) Candle {
	return Candle{TimeMs: timeMs, Open: price, High: price, Low: price, Close: price, Volume: 1}
}
