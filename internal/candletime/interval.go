// Package candletime implements the fixed five-interval time model used by
// the candle aggregation engine: epoch-aligned window bucketing and
// late-event classification.
package candletime

// Interval is one of the five fixed aggregation windows. Widths are in
// milliseconds to keep the hot aggregation path on plain int64 arithmetic
// instead of time.Time/time.Duration conversions.
type Interval int

const (
	S1 Interval = iota
	S5
	M1
	M15
	H1
)

// widthMs holds the millisecond width for each Interval, indexed by its
// ordinal value.
var widthMs = [...]int64{
	S1:  1_000,
	S5:  5_000,
	M1:  60_000,
	M15: 900_000,
	H1:  3_600_000,
}

var names = [...]string{
	S1:  "S1",
	S5:  "S5",
	M1:  "M1",
	M15: "M15",
	H1:  "H1",
}

// all is the fixed, ordered set of intervals this engine aggregates.
var all = [...]Interval{S1, S5, M1, M15, H1}

// AllIntervals returns the fixed five intervals in ascending width order.
func AllIntervals() []Interval {
	return all[:]
}

// WidthMs returns the interval's width in milliseconds.
func (i Interval) WidthMs() int64 {
	return widthMs[i]
}

// Name returns the interval's StoreKey component, e.g. "S1", "M15".
func (i Interval) Name() string {
	return names[i]
}

func (i Interval) String() string {
	return i.Name()
}

// Align floors tsMs to its bucket start for this interval. tsMs must be
// positive; callers are responsible for rejecting invalid timestamps
// upstream (see events.BidAskEvent.Valid).
func (i Interval) Align(tsMs int64) int64 {
	w := widthMs[i]
	return (tsMs / w) * w
}

// WindowEnd returns the exclusive end of the window starting at ws.
func (i Interval) WindowEnd(ws int64) int64 {
	return ws + widthMs[i]
}
