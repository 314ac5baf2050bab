package store

import (
	"fmt"

	"candlecore/internal/candletime"
)

// Key uniquely identifies a persisted candle: (symbol, interval, window_start_ms).
// See spec.md §3 "StoreKey".
type Key struct {
	Symbol      string
	Interval    candletime.Interval
	WindowStart int64
}

// String renders the key in spec.md §3's ASCII form:
// "<SYMBOL>-<INTERVAL_NAME>-<WINDOW_START_MS>". This is the logical key used
// for documentation, logging and tests; the on-disk physical layout (see
// bolt_store.go) buckets by seriesPrefix and encodes WindowStart as a
// fixed-width big-endian integer for free lexicographic ordering, rather
// than storing this decimal string directly.
func (k Key) String() string {
	return fmt.Sprintf("%s-%s-%d", k.Symbol, k.Interval.Name(), k.WindowStart)
}

// seriesPrefix is the bbolt bucket name holding every candle of one
// (symbol, interval) series — the physical analogue of spec.md §3's
// "<SYMBOL>-<INTERVAL_NAME>-" prefix, which spec.md says "enumerates exactly
// the candles of one (symbol, interval) series".
func (k Key) seriesPrefix() string {
	return k.Symbol + "-" + k.Interval.Name()
}
