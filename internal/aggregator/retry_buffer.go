package aggregator

import (
	"sync"

	"candlecore/internal/candle"
	"candlecore/internal/candletime"
	"candlecore/internal/store"
)

// retryBuffer holds at most one pending write per StoreKey for
// StorageWriteError handling: a failed write is kept here and retried on
// the next rotation of the same (symbol, interval) series or at flush_all.
// A later failed write for the same StoreKey replaces the earlier one; the
// replaced candle is discarded without being counted by any metric, and an
// entry whose retry fails again stays in the buffer.
//
// Grounded on the teacher's internal/analytics/redis_publish_confirmer.go,
// whose RedisPublishConfirmer tracks one pendingMessages entry per message
// ID and retries with backoff; simplified here to one slot per key since the
// spec requires no more than that.
type retryBuffer struct {
	mu      sync.Mutex
	pending map[store.Key]candle.Candle
}

func newRetryBuffer() *retryBuffer {
	return &retryBuffer{pending: make(map[store.Key]candle.Candle)}
}

// put replaces any prior pending write for k's key with c — at most one
// slot per key, so a second failed write for the same key supersedes the
// first rather than growing the buffer.
func (b *retryBuffer) put(k store.Key, c candle.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[k] = c
}

func (b *retryBuffer) clear(k store.Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, k)
}

// peekSeries returns the pending entry, if any, belonging to (symbol,
// interval) — used to retry a queued write "on next rotation of the same
// key".
func (b *retryBuffer) peekSeries(symbol string, iv candletime.Interval) (store.Key, candle.Candle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, c := range b.pending {
		if k.Symbol == symbol && k.Interval == iv {
			return k, c, true
		}
	}
	return store.Key{}, candle.Candle{}, false
}

// drainAll removes and returns every pending entry, used by flush_all.
func (b *retryBuffer) drainAll() map[store.Key]candle.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = make(map[store.Key]candle.Candle)
	return out
}
