package aggregator

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"candlecore/internal/candletime"
	"candlecore/internal/events"
	"candlecore/internal/metrics"
	"candlecore/internal/store"
)

func newTestAggregator(t *testing.T, toleranceMs int64) (*Aggregator, *store.BoltStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.db")
	st, err := store.Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m := metrics.New(zap.NewNop())
	a := New(Config{ToleranceMs: toleranceMs}, st, m, zap.NewNop())
	return a, st
}

func TestScenarioA_MultiIntervalFanOut(t *testing.T) {
	a, _ := newTestAggregator(t, 5000)
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 50000.0, Ask: 50010.0, TimestampMs: 1_733_529_443_456})

	want := map[candletime.Interval]int64{
		candletime.S1:  1_733_529_443_000,
		candletime.S5:  1_733_529_440_000,
		candletime.M1:  1_733_529_420_000,
		candletime.M15: 1_733_528_700_000,
		candletime.H1:  1_733_526_000_000,
	}
	for iv, ws := range want {
		k := cellKey{symbol: "BTCUSD", interval: iv}
		sh := a.shardFor(k)
		sh.mu.Lock()
		cell, ok := sh.cells[k]
		sh.mu.Unlock()
		if !ok {
			t.Fatalf("expected active cell for %s", iv)
		}
		if cell.WindowStart != ws {
			t.Fatalf("%s: window start = %d, want %d", iv, cell.WindowStart, ws)
		}
		if cell.Open != 50005.0 || cell.High != 50005.0 || cell.Low != 50005.0 || cell.Close != 50005.0 || cell.Volume != 1 {
			t.Fatalf("%s: unexpected cell %+v", iv, cell)
		}
	}
}

func TestScenarioB_SameWindowFold(t *testing.T) {
	a, st := newTestAggregator(t, 5000)

	mids := []struct {
		ts  int64
		bid float64
	}{
		{1000, 50005}, {1300, 50105}, {1600, 49905}, {1900, 50055},
	}
	for _, e := range mids {
		a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: e.bid, Ask: e.bid, TimestampMs: e.ts})
	}
	// Rotate by crossing into the next S1 window.
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 50000, Ask: 50000, TimestampMs: 2000})

	c, ok, err := st.Get(store.Key{Symbol: "BTCUSD", Interval: candletime.S1, WindowStart: 1000})
	if err != nil || !ok {
		t.Fatalf("expected persisted candle: ok=%v err=%v", ok, err)
	}
	if c.Open != 50005 || c.High != 50105 || c.Low != 49905 || c.Close != 50055 || c.Volume != 4 {
		t.Fatalf("unexpected candle: %+v", c)
	}
}

func TestScenarioC_WindowRotation(t *testing.T) {
	a, st := newTestAggregator(t, 5000)

	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 50000, Ask: 50000, TimestampMs: 1000})
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 51000, Ask: 51000, TimestampMs: 2000})

	c, ok, err := st.Get(store.Key{Symbol: "BTCUSD", Interval: candletime.S1, WindowStart: 1000})
	if err != nil || !ok {
		t.Fatalf("expected ws=1000 persisted: ok=%v err=%v", ok, err)
	}
	if c.Open != 50000 || c.High != 50000 || c.Low != 50000 || c.Close != 50000 || c.Volume != 1 {
		t.Fatalf("unexpected ws=1000 candle: %+v", c)
	}

	// ws=2000 still active, not yet persisted.
	if _, ok, _ := st.Get(store.Key{Symbol: "BTCUSD", Interval: candletime.S1, WindowStart: 2000}); ok {
		t.Fatal("ws=2000 should not be persisted yet")
	}

	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 52000, Ask: 52000, TimestampMs: 3000})
	if _, ok, err := st.Get(store.Key{Symbol: "BTCUSD", Interval: candletime.S1, WindowStart: 2000}); err != nil || !ok {
		t.Fatal("ws=2000 should now be persisted")
	}
}

func TestScenarioD_LateEventSameWindowStillFoldsIn(t *testing.T) {
	a, _ := newTestAggregator(t, 5000)

	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 100, Ask: 100, TimestampMs: 10_000})
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 101, Ask: 101, TimestampMs: 11_000})
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 99, Ask: 99, TimestampMs: 9_500})

	k := cellKey{symbol: "BTCUSD", interval: candletime.M1}
	sh := a.shardFor(k)
	sh.mu.Lock()
	cell := sh.cells[k]
	sh.mu.Unlock()

	if cell.Open != 100 || cell.High != 101 || cell.Low != 99 || cell.Close != 99 || cell.Volume != 3 {
		t.Fatalf("unexpected active cell: %+v", cell)
	}
}

func TestScenarioE_LateWithinTolerance(t *testing.T) {
	a, st := newTestAggregator(t, 5000)

	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 100, Ask: 100, TimestampMs: 1500})
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 101, Ask: 101, TimestampMs: 2500})
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 99, Ask: 99, TimestampMs: 1700})

	c, ok, err := st.Get(store.Key{Symbol: "BTCUSD", Interval: candletime.S1, WindowStart: 1000})
	if err != nil || !ok {
		t.Fatalf("expected ws=1000 persisted: ok=%v err=%v", ok, err)
	}
	if c.Open != 100 || c.High != 100 || c.Low != 99 || c.Close != 99 || c.Volume != 2 {
		t.Fatalf("unexpected folded candle: %+v", c)
	}

	k := cellKey{symbol: "BTCUSD", interval: candletime.S1}
	sh := a.shardFor(k)
	sh.mu.Lock()
	active := sh.cells[k]
	sh.mu.Unlock()
	if active.WindowStart != 2000 || active.Open != 101 {
		t.Fatalf("active cell should be untouched ws=2000: %+v", active)
	}
}

func TestScenarioF_LateBeyondTolerance(t *testing.T) {
	a, st := newTestAggregator(t, 5000)

	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 100, Ask: 100, TimestampMs: 1500})
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 101, Ask: 101, TimestampMs: 2500})
	// advance current ws to 8000
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 102, Ask: 102, TimestampMs: 8500})

	// late event with lag 6300 > tolerance
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 50, Ask: 50, TimestampMs: 1700})

	c, ok, err := st.Get(store.Key{Symbol: "BTCUSD", Interval: candletime.S1, WindowStart: 1000})
	if err != nil || !ok {
		t.Fatalf("expected ws=1000 persisted unchanged: ok=%v err=%v", ok, err)
	}
	if c.Close == 50 {
		t.Fatal("late-beyond-tolerance event must not be folded in")
	}
}

func TestInvalidEventIsCounted(t *testing.T) {
	a, _ := newTestAggregator(t, 5000)
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: -1, Ask: 100, TimestampMs: 1000})

	k := cellKey{symbol: "BTCUSD", interval: candletime.S1}
	sh := a.shardFor(k)
	sh.mu.Lock()
	_, ok := sh.cells[k]
	sh.mu.Unlock()
	if ok {
		t.Fatal("invalid event must not create a cell")
	}
}

func TestSymbolAllowListRejectsOthers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.db")
	st, err := store.Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	a := New(Config{ToleranceMs: 5000, AllowedSymbols: map[string]struct{}{"BTCUSD": {}}}, st, metrics.New(zap.NewNop()), zap.NewNop())
	a.Process(events.BidAskEvent{Symbol: "ETHUSD", Bid: 100, Ask: 100, TimestampMs: 1000})

	k := cellKey{symbol: "ETHUSD", interval: candletime.S1}
	sh := a.shardFor(k)
	sh.mu.Lock()
	_, ok := sh.cells[k]
	sh.mu.Unlock()
	if ok {
		t.Fatal("disallowed symbol must not create a cell")
	}
}

func TestFlushAllPersistsActiveCells(t *testing.T) {
	a, st := newTestAggregator(t, 5000)
	a.Process(events.BidAskEvent{Symbol: "BTCUSD", Bid: 100, Ask: 100, TimestampMs: 1000})

	if err := a.FlushAll(); err != nil {
		t.Fatalf("flush_all: %v", err)
	}

	c, ok, err := st.Get(store.Key{Symbol: "BTCUSD", Interval: candletime.S1, WindowStart: 1000})
	if err != nil || !ok {
		t.Fatalf("expected flushed candle persisted: ok=%v err=%v", ok, err)
	}
	if c.Volume != 1 {
		t.Fatalf("unexpected volume: %+v", c)
	}
}
