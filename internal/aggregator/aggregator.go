// Package aggregator implements the candle engine's core (C6): for every
// valid event it folds the derived mid price into the currently open cell
// of each of the five fixed intervals, rotating and persisting completed
// windows and folding late events back into already-persisted candles.
//
// The per-(symbol, interval) critical section is a sharded map rather than
// one global lock or one entry per key, grounded on spec.md §9's guidance
// ("a sharded map, e.g. 64 shards keyed by hash, with per-shard exclusion is
// acceptable") and on the teacher's own map-of-maps + mutex shape in
// internal/analytics/ohlcv_candle_generator.go, generalized from
// map[symbol]map[timeframe]*CandleBuilder guarded by one RWMutex to 64
// independently-locked shards so unrelated keys never contend.
package aggregator

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"candlecore/internal/candle"
	"candlecore/internal/candletime"
	"candlecore/internal/events"
	"candlecore/internal/metrics"
	"candlecore/internal/store"
)

const shardCount = 64

type cellKey struct {
	symbol   string
	interval candletime.Interval
}

type shard struct {
	mu    sync.Mutex
	cells map[cellKey]*candle.MutableCell
}

// Config holds the aggregator's tunables, sourced from spec.md §6's
// configuration surface (late_event.tolerance_ms, symbols.allowed). The
// interval set is fixed to candletime.AllIntervals() and is not configured
// here.
type Config struct {
	ToleranceMs    int64
	AllowedSymbols map[string]struct{} // nil/empty means "allow all"
}

// Aggregator is the candle engine's core. One instance owns the entire
// ActiveCells table and the store it persists into.
type Aggregator struct {
	cfg     Config
	shards  [shardCount]*shard
	st      *store.BoltStore
	metrics *metrics.Metrics
	log     *zap.Logger
	retry   *retryBuffer

	onComplete func(store.Key, candle.Candle)
}

// New constructs an Aggregator over an already-open store.
func New(cfg Config, st *store.BoltStore, m *metrics.Metrics, log *zap.Logger) *Aggregator {
	a := &Aggregator{cfg: cfg, st: st, metrics: m, log: log, retry: newRetryBuffer()}
	for i := range a.shards {
		a.shards[i] = &shard{cells: make(map[cellKey]*candle.MutableCell)}
	}
	return a
}

// OnComplete registers a hook invoked after a candle rotation is
// successfully persisted — the aggregator's only extension point for
// off-hot-path concerns like internal/notify. fn must not block.
func (a *Aggregator) OnComplete(fn func(store.Key, candle.Candle)) {
	a.onComplete = fn
}

func (a *Aggregator) shardFor(k cellKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.symbol))
	_, _ = h.Write([]byte{byte(k.interval)})
	return a.shards[h.Sum32()%shardCount]
}

// Process folds one event into every one of the five fixed intervals'
// cells. It never returns an error to the caller and never blocks on I/O for
// unbounded time: persistence failures are counted and queued onto the
// bounded per-key retry buffer rather than propagated (spec.md §7,
// StorageWriteError).
func (a *Aggregator) Process(ev events.BidAskEvent) {
	start := time.Now()

	if !ev.Valid() || !a.symbolAllowed(ev.Symbol) {
		a.metrics.InvalidEvents.Inc()
		return
	}

	mid := ev.Mid()
	for _, iv := range candletime.AllIntervals() {
		a.processInterval(ev.Symbol, iv, ev.TimestampMs, mid)
	}

	// events_processed counts valid events, not (event, interval) pairs —
	// spec.md §4.4 step 4 increments it once per event, after the five-way
	// fan-out in step 3, and invariant #6 (§8) requires it to total exactly
	// N after N valid events. The per-interval/classification breakdown is
	// tracked separately via EventsProcessedByOutcome.
	a.metrics.EventsProcessed.Inc()
	a.metrics.ObserveLatency(time.Since(start))
}

func (a *Aggregator) symbolAllowed(symbol string) bool {
	if len(a.cfg.AllowedSymbols) == 0 {
		return true
	}
	_, ok := a.cfg.AllowedSymbols[symbol]
	return ok
}

func (a *Aggregator) processInterval(symbol string, iv candletime.Interval, tsMs int64, mid float64) {
	k := cellKey{symbol: symbol, interval: iv}
	sh := a.shardFor(k)

	sh.mu.Lock()
	cur, exists := sh.cells[k]

	if !exists {
		ws := iv.Align(tsMs)
		sh.cells[k] = candle.NewCell(symbol, iv, ws, mid)
		sh.mu.Unlock()
		a.metrics.EventsProcessedByOutcome.WithLabelValues(iv.Name(), "Same").Inc()
		return
	}

	class := candletime.Classify(tsMs, cur.WindowStart, iv, a.cfg.ToleranceMs)

	switch class {
	case candletime.Same:
		cur.Update(mid)
		sh.mu.Unlock()
		a.metrics.EventsProcessedByOutcome.WithLabelValues(iv.Name(), "Same").Inc()

	case candletime.NewWindow:
		frozen := cur.Freeze()
		ws := iv.Align(tsMs)
		sh.cells[k] = candle.NewCell(symbol, iv, ws, mid)
		sh.mu.Unlock()

		sk := store.Key{Symbol: symbol, Interval: iv, WindowStart: frozen.TimeMs}
		persisted := a.persist(sk, frozen)
		a.metrics.CandlesCompleted.WithLabelValues(iv.Name()).Inc()
		a.metrics.EventsProcessedByOutcome.WithLabelValues(iv.Name(), "NewWindow").Inc()
		a.retryPendingForKey(symbol, iv)
		if persisted && a.onComplete != nil {
			a.onComplete(sk, frozen)
		}

	case candletime.LateWithin:
		sh.mu.Unlock()
		a.foldLate(store.Key{Symbol: symbol, Interval: iv, WindowStart: iv.Align(tsMs)}, mid)
		a.metrics.EventsProcessedByOutcome.WithLabelValues(iv.Name(), "LateWithin").Inc()

	case candletime.LateBeyond:
		sh.mu.Unlock()
		a.metrics.LateEventsDropped.WithLabelValues(iv.Name()).Inc()
		a.metrics.EventsProcessedByOutcome.WithLabelValues(iv.Name(), "LateBeyond").Inc()

	default:
		sh.mu.Unlock()
	}
}

// foldLate implements spec.md §4.4's late-update path: load the persisted
// candle at k, fold price in, and write it back; if absent, construct a
// fresh one-shot candle from price.
func (a *Aggregator) foldLate(k store.Key, price float64) {
	existing, ok, err := a.st.Get(k)
	if err != nil {
		a.log.Warn("store read failed during late fold", zap.String("key", k.String()), zap.Error(err))
	}

	var updated candle.Candle
	if ok {
		updated = existing.FoldIn(price)
	} else {
		updated = candle.Of(k.WindowStart, price)
	}
	a.persist(k, updated)
}

// persist writes c at k, queueing it onto the bounded one-per-key retry
// buffer on failure (spec.md §7, StorageWriteError). It reports whether the
// write succeeded.
func (a *Aggregator) persist(k store.Key, c candle.Candle) bool {
	if err := a.st.Put(k, c); err != nil {
		a.metrics.StorageWriteErrors.WithLabelValues(k.Interval.Name()).Inc()
		a.log.Warn("storage write failed, queuing retry", zap.String("key", k.String()), zap.Error(err))
		a.retry.put(k, c)
		return false
	}
	a.retry.clear(k)
	return true
}

// retryPendingForKey re-attempts a queued write for (symbol, interval), if
// one exists, on the next rotation of that same key — spec.md §7: "retry on
// next rotation of the same key or at flush_all".
func (a *Aggregator) retryPendingForKey(symbol string, iv candletime.Interval) {
	k, c, ok := a.retry.peekSeries(symbol, iv)
	if !ok {
		return
	}
	if err := a.st.Put(k, c); err != nil {
		a.log.Warn("retried storage write failed again", zap.String("key", k.String()), zap.Error(err))
		return
	}
	a.retry.clear(k)
}

// FlushAll freezes and persists every currently open cell across every
// shard, and re-attempts every pending retry-buffer write. Intended for
// orderly shutdown (spec.md §5: "shutdown() ... the aggregator's flush_all
// then runs").
func (a *Aggregator) FlushAll() error {
	var firstErr error
	for _, sh := range a.shards {
		sh.mu.Lock()
		for k, cell := range sh.cells {
			frozen := cell.Freeze()
			sk := store.Key{Symbol: k.symbol, Interval: k.interval, WindowStart: frozen.TimeMs}
			if err := a.st.Put(sk, frozen); err != nil {
				a.metrics.StorageWriteErrors.WithLabelValues(k.interval.Name()).Inc()
				a.retry.put(sk, frozen)
				if firstErr == nil {
					firstErr = fmt.Errorf("flush_all: put %s: %w", sk.String(), err)
				}
			} else if a.onComplete != nil {
				a.onComplete(sk, frozen)
			}
			a.metrics.CandlesCompleted.WithLabelValues(k.interval.Name()).Inc()
		}
		sh.mu.Unlock()
	}

	for k, c := range a.retry.drainAll() {
		if err := a.st.Put(k, c); err != nil {
			a.retry.put(k, c)
			if firstErr == nil {
				firstErr = fmt.Errorf("flush_all retry: put %s: %w", k.String(), err)
			}
			continue
		}
	}
	return firstErr
}
