// Package store implements the durable, memory-mapped candle store (C5):
// one bbolt bucket per (symbol, interval) series, keyed by a fixed-width
// big-endian window_start_ms so bucket iteration order is chronological for
// free, with prefix/range scans served directly off bbolt's Cursor.
//
// Grounded on the teacher's persistence conventions (zap-logged, config-path
// driven) and on go.etcd.io/bbolt, the embedded mmap'd B+tree store referenced
// in the example pack's abdoElHodaky-tradSys manifest — see DESIGN.md.
package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"candlecore/internal/candle"
	"candlecore/internal/candletime"
)

// valueSize is the fixed on-disk width of one encoded Candle: four float64
// fields (open, high, low, close — time is the key) plus an int64 volume,
// all 8 bytes, big-endian.
// open(8) high(8) low(8) close(8) volume(8) = 40 bytes, matching spec.md §4.3's
// "fixed-width value encoding (~40 bytes)".
const valueSize = 40

// BoltStore is the durable candle store. Safe for concurrent use: bbolt
// serializes writers internally and gives readers a consistent snapshot.
type BoltStore struct {
	db  *bbolt.DB
	log *zap.Logger
}

// Open opens (creating if absent) the store at path. The returned BoltStore
// owns the file for its lifetime; callers must call Close on shutdown.
func Open(path string, log *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &BoltStore{db: db, log: log}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put persists one candle, keyed by k. Overwrites any candle already present
// at the same key — the write is idempotent, which is what lets the
// aggregator's retry buffer (see internal/aggregator) safely re-send a write
// after a transient failure without double-counting.
func (s *BoltStore) Put(k Key, c candle.Candle) error {
	val := encodeCandle(c)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(k.seriesPrefix()))
		if err != nil {
			return fmt.Errorf("store: bucket %s: %w", k.seriesPrefix(), err)
		}
		return b.Put(encodeWindowStart(k.WindowStart), val)
	})
}

// Get looks up the candle at k. ok is false if no candle is stored there.
func (s *BoltStore) Get(k Key) (c candle.Candle, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(k.seriesPrefix()))
		if b == nil {
			return nil
		}
		v := b.Get(encodeWindowStart(k.WindowStart))
		if v == nil {
			return nil
		}
		c, ok = decodeCandle(k, v), true
		return nil
	})
	return c, ok, err
}

// Range returns every candle of the (symbol, interval) series whose
// window_start_ms falls in [from, to], in chronological order. Returns an
// empty (non-nil) slice, not an error, when from > to or the series doesn't
// exist — spec.md §4.3 treats both as "no candles in range", not a fault.
func (s *BoltStore) Range(symbol string, interval candletime.Interval, from, to int64) ([]candle.Candle, error) {
	out := make([]candle.Candle, 0)
	if from > to {
		return out, nil
	}
	prefix := []byte((Key{Symbol: symbol, Interval: interval}).seriesPrefix())

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(prefix)
		if b == nil {
			return nil
		}
		cur := b.Cursor()
		lo := encodeWindowStart(from)
		for key, val := cur.Seek(lo); key != nil; key, val = cur.Next() {
			ws := decodeWindowStart(key)
			if ws > to {
				break
			}
			out = append(out, decodeCandle(Key{Symbol: symbol, Interval: interval, WindowStart: ws}, val))
		}
		return nil
	})
	return out, err
}

// DeleteOlderThan removes every candle, across every series, whose
// window_start_ms is strictly less than cutoff. Returns the number of
// candles removed. Used by the retention sweep worker (internal/worker).
func (s *BoltStore) DeleteOlderThan(cutoff int64) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			cur := b.Cursor()
			var toDelete [][]byte
			for key, _ := cur.First(); key != nil; key, _ = cur.Next() {
				if decodeWindowStart(key) < cutoff {
					// copy: key is only valid for the lifetime of the transaction
					cp := make([]byte, len(key))
					copy(cp, key)
					toDelete = append(toDelete, cp)
				}
			}
			for _, key := range toDelete {
				if err := b.Delete(key); err != nil {
					return err
				}
				removed++
			}
			return nil
		})
	})
	return removed, err
}

// Count returns the total number of stored candles across every series.
// Intended for metrics/diagnostics, not the hot path.
func (s *BoltStore) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			n += b.Stats().KeyN
			return nil
		})
	})
	return n, err
}

// IsHealthy reports whether the underlying database file is still reachable
// for a trivial read transaction. The metrics HTTP server's /health endpoint
// does not call it.
func (s *BoltStore) IsHealthy() bool {
	err := s.db.View(func(tx *bbolt.Tx) error { return nil })
	return err == nil
}

func encodeWindowStart(ws int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ws))
	return b
}

func decodeWindowStart(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func encodeCandle(c candle.Candle) []byte {
	b := make([]byte, valueSize)
	binary.BigEndian.PutUint64(b[0:8], math.Float64bits(c.Open))
	binary.BigEndian.PutUint64(b[8:16], math.Float64bits(c.High))
	binary.BigEndian.PutUint64(b[16:24], math.Float64bits(c.Low))
	binary.BigEndian.PutUint64(b[24:32], math.Float64bits(c.Close))
	binary.BigEndian.PutUint64(b[32:40], uint64(c.Volume))
	return b
}

func decodeCandle(k Key, b []byte) candle.Candle {
	return candle.Candle{
		TimeMs: k.WindowStart,
		Open:   math.Float64frombits(binary.BigEndian.Uint64(b[0:8])),
		High:   math.Float64frombits(binary.BigEndian.Uint64(b[8:16])),
		Low:    math.Float64frombits(binary.BigEndian.Uint64(b[16:24])),
		Close:  math.Float64frombits(binary.BigEndian.Uint64(b[24:32])),
		Volume: int64(binary.BigEndian.Uint64(b[32:40])),
	}
}
