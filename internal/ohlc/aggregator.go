// Package ohlc aggregates a trade stream into fixed-interval OHLC bars.
package ohlc

import (
	"log/slog"
	"sync"

	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

// Aggregator buckets trades per symbol into bars of a fixed interval.
// A bar is sealed when the first trade of a later bucket arrives; trades
// for already-sealed buckets are dropped. Observe is O(1) per trade.
type Aggregator struct {
	mu       sync.Mutex
	interval int64 // seconds
	current  map[string]*types.Bar
	history  map[string][]types.Bar
	dropped  int64
	logger   *slog.Logger
}

// New creates an aggregator with the given bucket interval in seconds.
func New(intervalSec int64, logger *slog.Logger) *Aggregator {
	if intervalSec <= 0 {
		intervalSec = 60
	}
	return &Aggregator{
		interval: intervalSec,
		current:  make(map[string]*types.Bar),
		history:  make(map[string][]types.Bar),
		logger:   logger.With("component", "ohlc"),
	}
}

// Observe folds one trade into the stream. When the trade opens a new
// bucket it seals the previous bar and returns it with ok=true.
func (a *Aggregator) Observe(t types.Trade) (sealed types.Bar, ok bool) {
	bucket := t.TimestampMS / 1000 / a.interval * a.interval

	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.current[t.Symbol]
	if cur == nil {
		a.current[t.Symbol] = newBar(t, bucket)
		return types.Bar{}, false
	}

	switch {
	case bucket == cur.BucketStart:
		cur.Close = t.Price
		if t.Price > cur.High {
			cur.High = t.Price
		}
		if t.Price < cur.Low {
			cur.Low = t.Price
		}
		cur.Volume += t.Size
		cur.TradeCount++
		return types.Bar{}, false

	case bucket > cur.BucketStart:
		sealed = *cur
		a.history[t.Symbol] = append(a.history[t.Symbol], sealed)
		a.current[t.Symbol] = newBar(t, bucket)
		return sealed, true

	default:
		// Late trade for a sealed bucket.
		a.dropped++
		a.logger.Debug("dropping out-of-order trade",
			"symbol", t.Symbol, "bucket", bucket, "current", cur.BucketStart)
		return types.Bar{}, false
	}
}

func newBar(t types.Trade, bucket int64) *types.Bar {
	return &types.Bar{
		Symbol:      t.Symbol,
		BucketStart: bucket,
		Open:        t.Price,
		High:        t.Price,
		Low:         t.Price,
		Close:       t.Price,
		Volume:      t.Size,
		TradeCount:  1,
	}
}

// History returns the sealed bars for a symbol in bucket order.
func (a *Aggregator) History(symbol string) []types.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Bar, len(a.history[symbol]))
	copy(out, a.history[symbol])
	return out
}

// Current returns the in-progress bar for a symbol, if any.
func (a *Aggregator) Current(symbol string) (types.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.current[symbol]
	if cur == nil {
		return types.Bar{}, false
	}
	return *cur, true
}

// Dropped returns the count of out-of-order trades discarded so far.
func (a *Aggregator) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}
