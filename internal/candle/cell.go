package candle

import (
	"candlecore/internal/candletime"
	"candlecore/internal/utils"
)

// MutableCell is the in-place OHLC accumulator for a window that is still
// open. It is owned exclusively by the aggregator's per-key critical
// section (see internal/aggregator) — no reference to a MutableCell escapes
// that section, so MutableCell itself carries no internal locking.
//
// Open and WindowStart are fixed at birth; High, Low, Close and Volume
// mutate via Update.
type MutableCell struct {
	Symbol      string
	Interval    candletime.Interval
	WindowStart int64

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// NewCell creates a fresh cell for the window starting at ws, initialized
// from the first event's price.
func NewCell(symbol string, interval candletime.Interval, ws int64, price float64) *MutableCell {
	return &MutableCell{
		Symbol:      symbol,
		Interval:    interval,
		WindowStart: ws,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		Volume:      1,
	}
}

// Update folds one more price into the cell. O(1), no allocation.
func (c *MutableCell) Update(price float64) {
	c.High = utils.MaxFloat64(c.High, price)
	c.Low = utils.MinFloat64(c.Low, price)
	c.Close = price
	c.Volume++
}

// Freeze copies the cell's fields into an immutable Candle. This is the only
// allocation on the window-rotation path, once per interval per rotation.
func (c *MutableCell) Freeze() Candle {
	return Candle{
		TimeMs: c.WindowStart,
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}
