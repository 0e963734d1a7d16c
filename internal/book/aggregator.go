// Package book maintains the aggregated L2 order book per symbol.
//
// Quotes from every venue are stored per (symbol, side, venue) and merged
// into price levels on snapshot. Sparse books are densified with synthetic
// levels: gaps between real prices are interpolated and depth beyond the
// outermost real level is extrapolated with decaying sizes. Synthetic
// levels are flagged so clients can render them differently.
package book

import (
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rick-more-Rick/donTrading/internal/symbols"
	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

// maxSynthetic caps synthetic levels per gap and per extrapolation run.
const maxSynthetic = 60

type venueEntry struct {
	price float64
	size  float64
	tsMS  int64
}

// sideBook is one side of one symbol's book, keyed by venue ID.
type sideBook map[int]venueEntry

// Aggregator merges per-venue quotes into book snapshots.
type Aggregator struct {
	mu        sync.Mutex
	staleMS   int64
	maxLevels int
	nowMS     func() int64
	rng       *rand.Rand
	bids      map[string]sideBook
	asks      map[string]sideBook
	updates   map[string]int64
	logger    *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the wall clock. Tests use this to control staleness.
func WithClock(nowMS func() int64) Option {
	return func(a *Aggregator) { a.nowMS = nowMS }
}

// WithRand replaces the synthetic-level noise source. Tests seed it.
func WithRand(r *rand.Rand) Option {
	return func(a *Aggregator) { a.rng = r }
}

// New creates an aggregator. Entries older than staleMS are excluded from
// snapshots. maxLevels > 0 truncates each snapshot side; 0 means no limit.
func New(staleMS int64, maxLevels int, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		staleMS:   staleMS,
		maxLevels: maxLevels,
		nowMS:     func() int64 { return time.Now().UnixMilli() },
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		bids:      make(map[string]sideBook),
		asks:      make(map[string]sideBook),
		updates:   make(map[string]int64),
		logger:    logger.With("component", "book"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply folds one venue quote into the book. It returns the new snapshot
// when the quote changed the book, or nil when it repeated known state.
// A side with price 0 is absent and leaves stored state untouched.
func (a *Aggregator) Apply(q types.Quote) *types.BookSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	changed := false
	if q.BidPrice > 0 && q.BidVenue > 0 {
		changed = a.upsert(a.bids, q.Symbol, q.BidVenue, q.BidPrice, float64(q.BidSize), q.TimestampMS) || changed
	}
	if q.AskPrice > 0 && q.AskVenue > 0 {
		changed = a.upsert(a.asks, q.Symbol, q.AskVenue, q.AskPrice, float64(q.AskSize), q.TimestampMS) || changed
	}
	if !changed {
		return nil
	}
	a.updates[q.Symbol]++
	return a.snapshotLocked(q.Symbol)
}

func (a *Aggregator) upsert(side map[string]sideBook, sym string, venue int, price, size float64, tsMS int64) bool {
	book := side[sym]
	if book == nil {
		book = make(sideBook)
		side[sym] = book
	}
	if prev, ok := book[venue]; ok && prev.price == price && prev.size == size {
		return false
	}
	book[venue] = venueEntry{price: price, size: size, tsMS: tsMS}
	return true
}

// SnapshotFor builds the current snapshot without mutating state. It
// returns nil when no quotes have been seen for the symbol.
func (a *Aggregator) SnapshotFor(symbol string) *types.BookSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.bids[symbol]) == 0 && len(a.asks[symbol]) == 0 {
		return nil
	}
	return a.snapshotLocked(symbol)
}

// realLevel is one aggregated price level before densification.
type realLevel struct {
	price  float64
	size   float64
	venues []int
}

func (a *Aggregator) snapshotLocked(symbol string) *types.BookSnapshot {
	now := a.nowMS()
	bidLevels := a.aggregateSide(a.bids[symbol], now, true)
	askLevels := a.aggregateSide(a.asks[symbol], now, false)

	var bestBid, bestAsk float64
	if len(bidLevels) > 0 {
		bestBid = bidLevels[0].price
	}
	if len(askLevels) > 0 {
		bestAsk = askLevels[0].price
	}

	ref := bestBid
	if ref == 0 {
		ref = bestAsk
	}
	if ref == 0 {
		ref = 100
	}
	step := niceStep(ref * 0.0004)

	bids := a.densify(bidLevels, step, true)
	asks := a.densify(askLevels, step, false)
	if a.maxLevels > 0 {
		if len(bids) > a.maxLevels {
			bids = bids[:a.maxLevels]
		}
		if len(asks) > a.maxLevels {
			asks = asks[:a.maxLevels]
		}
	}
	accumulate(bids)
	accumulate(asks)

	snap := &types.BookSnapshot{
		Type:         "book",
		Symbol:       symbol,
		Simbolo:      symbols.Label(symbol),
		Bids:         bids,
		Asks:         asks,
		BestBid:      bestBid,
		BestAsk:      bestAsk,
		Updates:      a.updates[symbol],
		NumVenuesBid: len(a.bids[symbol]),
		NumVenuesAsk: len(a.asks[symbol]),
	}
	if bestBid > 0 && bestAsk > 0 {
		snap.Spread = round6(bestAsk - bestBid)
		snap.MidPrice = round6((bestAsk + bestBid) / 2)
	}
	return snap
}

// aggregateSide merges fresh venue entries into sorted price levels:
// bids descending, asks ascending. Stale entries stay in storage but do
// not contribute.
func (a *Aggregator) aggregateSide(book sideBook, nowMS int64, isBid bool) []realLevel {
	byPrice := make(map[float64]*realLevel)
	for venue, e := range book {
		if a.staleMS > 0 && nowMS-e.tsMS > a.staleMS {
			continue
		}
		lvl := byPrice[e.price]
		if lvl == nil {
			lvl = &realLevel{price: e.price}
			byPrice[e.price] = lvl
		}
		lvl.size += e.size
		lvl.venues = append(lvl.venues, venue)
	}

	out := make([]realLevel, 0, len(byPrice))
	for _, lvl := range byPrice {
		sort.Ints(lvl.venues)
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if isBid {
			return out[i].price > out[j].price
		}
		return out[i].price < out[j].price
	})
	return out
}

// densify turns sorted real levels into the output ladder: real levels
// interleaved with interpolated gap fill, then extrapolated tail depth.
func (a *Aggregator) densify(levels []realLevel, step float64, isBid bool) []types.BookLevel {
	out := make([]types.BookLevel, 0, len(levels))
	for i, lvl := range levels {
		out = append(out, types.BookLevel{
			Price:  lvl.price,
			Size:   lvl.size,
			Venues: lvl.venues,
		})
		if i+1 < len(levels) {
			out = append(out, a.interpolate(lvl, levels[i+1], step, isBid)...)
		}
	}
	if len(levels) > 0 {
		out = append(out, a.extrapolate(levels, step, isBid)...)
	}
	return out
}

// interpolate fills the gap between two adjacent real levels with synthetic
// levels on the snapped price grid. Sizes follow a hump shape peaking
// mid-gap, scaled off the neighbor average.
func (a *Aggregator) interpolate(from, to realLevel, step float64, isBid bool) []types.BookLevel {
	gap := math.Abs(from.price - to.price)
	n := int(math.Round(gap/step)) - 1
	if n <= 0 {
		return nil
	}
	if n > maxSynthetic {
		n = maxSynthetic
	}

	dir := -1.0
	if !isBid {
		dir = 1.0
	}
	avg := (from.size + to.size) / 2
	eps := step * 0.01

	out := make([]types.BookLevel, 0, n)
	for k := 1; k <= n; k++ {
		price := snap(from.price+dir*float64(k)*step, step)
		if isBid && price <= to.price+eps || !isBid && price >= to.price-eps {
			break
		}
		half := float64(n) / 2
		shape := 0.3 + 0.7*(1-math.Abs(float64(k)-half)/math.Max(1, half))
		size := math.Max(1, math.Floor(avg*shape*0.4))
		out = append(out, types.BookLevel{Price: price, Size: size, Synthetic: true})
	}
	return out
}

// extrapolate extends depth beyond the outermost real level with decaying
// sizes and bounded noise. Bid prices never reach zero or below.
func (a *Aggregator) extrapolate(levels []realLevel, step float64, isBid bool) []types.BookLevel {
	last := levels[len(levels)-1]
	size := last.size
	if len(levels) > 1 {
		size = (levels[len(levels)-2].size + last.size) / 2
	}

	dir := -1.0
	if !isBid {
		dir = 1.0
	}

	out := make([]types.BookLevel, 0, maxSynthetic)
	price := last.price
	for k := 0; k < maxSynthetic; k++ {
		price = snap(price+dir*step, step)
		if isBid && price <= 0 {
			break
		}
		size *= 0.85
		noisy := size * (1 + (a.rng.Float64()-0.5)*0.4)
		out = append(out, types.BookLevel{
			Price:     price,
			Size:      math.Max(1, math.Floor(noisy)),
			Synthetic: true,
		})
	}
	return out
}

func accumulate(levels []types.BookLevel) {
	var sum float64
	for i := range levels {
		sum += levels[i].Size
		levels[i].Cumulative = round6(sum)
	}
}

// stepLadder holds the allowed grid steps, finest first.
var stepLadder = []float64{
	0.001, 0.002, 0.005, 0.01, 0.02, 0.05,
	0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 50,
}

// niceStep snaps a raw step up to the nearest ladder value.
func niceStep(raw float64) float64 {
	for _, s := range stepLadder {
		if s >= raw {
			return s
		}
	}
	return stepLadder[len(stepLadder)-1]
}

// snap rounds a price to the nearest multiple of step, 6 decimal places.
// Decimal arithmetic keeps grid prices exact for steps like 0.01.
func snap(price, step float64) float64 {
	p := decimal.NewFromFloat(price)
	s := decimal.NewFromFloat(step)
	return p.Div(s).Round(0).Mul(s).Round(6).InexactFloat64()
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
