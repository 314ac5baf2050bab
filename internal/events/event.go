// Package events defines the input event the aggregator folds into candles.
package events

import "math"

// BidAskEvent is a single bid/ask quote tagged with a symbol and an
// originating timestamp. See spec.md §3.
type BidAskEvent struct {
	Symbol      string
	Bid         float64
	Ask         float64
	TimestampMs int64
}

// maxSymbolBytes bounds Symbol per spec.md §3 ("short uppercase identifier,
// printable ASCII, ≤16 bytes").
const maxSymbolBytes = 16

// Valid reports whether the event satisfies spec.md §3's validity predicate:
// bid > 0 ∧ ask ≥ bid ∧ timestamp_ms > 0, with bid and ask finite. Symbol
// shape (1 to 16 bytes, ASCII uppercase letters and digits only) is checked
// as part of validity so invalid symbols are
// rejected the same way invalid prices are — by the invalid-events counter,
// never by panicking deeper in the pipeline.
func (e BidAskEvent) Valid() bool {
	if e.TimestampMs <= 0 {
		return false
	}
	if e.Bid <= 0 || e.Ask < e.Bid {
		return false
	}
	if math.IsNaN(e.Bid) || math.IsInf(e.Bid, 0) || math.IsNaN(e.Ask) || math.IsInf(e.Ask, 0) {
		return false
	}
	return validSymbol(e.Symbol)
}

func validSymbol(s string) bool {
	if len(s) == 0 || len(s) > maxSymbolBytes {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// Mid returns the derived mid price (bid+ask)/2.
func (e BidAskEvent) Mid() float64 {
	return (e.Bid + e.Ask) / 2
}
