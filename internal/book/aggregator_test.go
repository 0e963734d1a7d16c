package book

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(ms int64) func() int64 {
	return func() int64 { return ms }
}

func TestApplyMergesVenues(t *testing.T) {
	t.Parallel()
	a := New(30000, 0, discard(),
		WithClock(fixedClock(1200)), WithRand(rand.New(rand.NewSource(1))))

	snap := a.Apply(types.Quote{
		Symbol: "AAPL", BidPrice: 100.00, BidSize: 100, BidVenue: 11,
		AskPrice: 100.02, AskSize: 200, AskVenue: 12, TimestampMS: 1000,
	})
	if snap == nil {
		t.Fatal("first quote must produce a snapshot")
	}

	snap = a.Apply(types.Quote{
		Symbol: "AAPL", BidPrice: 100.00, BidSize: 50, BidVenue: 12,
		TimestampMS: 1100,
	})
	if snap == nil {
		t.Fatal("new venue must produce a snapshot")
	}

	if snap.BestBid != 100.00 || snap.BestAsk != 100.02 {
		t.Errorf("best = %v/%v, want 100.00/100.02", snap.BestBid, snap.BestAsk)
	}
	if snap.Spread != 0.02 {
		t.Errorf("spread = %v, want 0.02", snap.Spread)
	}
	top := snap.Bids[0]
	if top.Price != 100.00 || top.Size != 150 || !reflect.DeepEqual(top.Venues, []int{11, 12}) {
		t.Errorf("top bid = %+v, want 150@100.00 from venues [11 12]", top)
	}
	askTop := snap.Asks[0]
	if askTop.Price != 100.02 || askTop.Size != 200 || !reflect.DeepEqual(askTop.Venues, []int{12}) {
		t.Errorf("top ask = %+v, want 200@100.02 from venue [12]", askTop)
	}
	if snap.Updates != 2 {
		t.Errorf("updates = %d, want 2", snap.Updates)
	}
}

func TestSnapshotWireType(t *testing.T) {
	t.Parallel()
	a := New(30000, 0, discard(), WithClock(fixedClock(1000)))

	snap := a.Apply(types.Quote{
		Symbol: "AAPL", BidPrice: 100.00, BidSize: 100, BidVenue: 11,
		AskPrice: 100.02, AskSize: 200, AskVenue: 12, TimestampMS: 1000,
	})
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type":"book"`) {
		t.Errorf("frame type must be \"book\" on the wire: %s", data[:60])
	}
}

func TestApplyIdempotent(t *testing.T) {
	t.Parallel()
	a := New(30000, 0, discard(), WithClock(fixedClock(1000)))

	q := types.Quote{
		Symbol: "TSLA", BidPrice: 200.00, BidSize: 10, BidVenue: 11,
		AskPrice: 200.05, AskSize: 20, AskVenue: 12, TimestampMS: 900,
	}
	if a.Apply(q) == nil {
		t.Fatal("first apply must change the book")
	}
	if snap := a.Apply(q); snap != nil {
		t.Errorf("repeated quote produced snapshot with updates=%d", snap.Updates)
	}
	if snap := a.SnapshotFor("TSLA"); snap.Updates != 1 {
		t.Errorf("updates = %d, want 1 after duplicate", snap.Updates)
	}
}

func TestStaleEntriesExcluded(t *testing.T) {
	t.Parallel()
	now := int64(1000)
	a := New(30000, 0, discard(), WithClock(func() int64 { return now }))

	a.Apply(types.Quote{Symbol: "AAPL", BidPrice: 100.00, BidSize: 100, BidVenue: 11, TimestampMS: 1000})
	now = 40000
	a.Apply(types.Quote{Symbol: "AAPL", BidPrice: 99.90, BidSize: 50, BidVenue: 12, TimestampMS: 40000})

	snap := a.SnapshotFor("AAPL")
	if snap.BestBid != 99.90 {
		t.Errorf("best bid = %v, stale venue 11 should be excluded", snap.BestBid)
	}
	for _, lvl := range snap.Bids {
		if !lvl.Synthetic && lvl.Price == 100.00 {
			t.Error("stale level still present in snapshot")
		}
	}
	// The entry persists in storage and in the venue count.
	if snap.NumVenuesBid != 2 {
		t.Errorf("NumVenuesBid = %d, want 2", snap.NumVenuesBid)
	}

	// Venue 11 refreshes with new state and contributes again.
	a.Apply(types.Quote{Symbol: "AAPL", BidPrice: 100.00, BidSize: 80, BidVenue: 11, TimestampMS: 40000})
	if snap := a.SnapshotFor("AAPL"); snap.BestBid != 100.00 {
		t.Errorf("best bid = %v after refresh, want 100.00", snap.BestBid)
	}
}

func TestCrossedBookPreserved(t *testing.T) {
	t.Parallel()
	a := New(30000, 0, discard(), WithClock(fixedClock(1000)))

	snap := a.Apply(types.Quote{
		Symbol: "AAPL", BidPrice: 100.10, BidSize: 10, BidVenue: 11,
		AskPrice: 100.00, AskSize: 10, AskVenue: 12, TimestampMS: 1000,
	})
	if snap.BestBid != 100.10 || snap.BestAsk != 100.00 {
		t.Errorf("crossed book altered: best = %v/%v", snap.BestBid, snap.BestAsk)
	}
	if snap.Spread != -0.1 {
		t.Errorf("spread = %v, want -0.1", snap.Spread)
	}
}

func TestSnapshotDeterministicWithSeed(t *testing.T) {
	t.Parallel()
	build := func() *types.BookSnapshot {
		a := New(30000, 0, discard(),
			WithClock(fixedClock(1000)), WithRand(rand.New(rand.NewSource(42))))
		a.Apply(types.Quote{Symbol: "AAPL", BidPrice: 100.00, BidSize: 100, BidVenue: 11, TimestampMS: 1000})
		a.Apply(types.Quote{Symbol: "AAPL", BidPrice: 99.00, BidSize: 40, BidVenue: 12, TimestampMS: 1000})
		a.Apply(types.Quote{Symbol: "AAPL", AskPrice: 100.05, AskSize: 200, AskVenue: 12, TimestampMS: 1000})
		return a.SnapshotFor("AAPL")
	}

	if !reflect.DeepEqual(build(), build()) {
		t.Error("same seed and state produced different snapshots")
	}
}

func TestInterpolationFillsGap(t *testing.T) {
	t.Parallel()
	a := New(30000, 0, discard(),
		WithClock(fixedClock(1000)), WithRand(rand.New(rand.NewSource(3))))

	a.Apply(types.Quote{Symbol: "AAPL", BidPrice: 100.00, BidSize: 100, BidVenue: 11, TimestampMS: 1000})
	a.Apply(types.Quote{Symbol: "AAPL", BidPrice: 90.00, BidSize: 60, BidVenue: 12, TimestampMS: 1000})
	snap := a.SnapshotFor("AAPL")

	synthetic := 0
	for _, lvl := range snap.Bids {
		if !lvl.Synthetic {
			continue
		}
		if lvl.Price >= 100.00 || lvl.Price <= 0 {
			t.Fatalf("synthetic level outside book range: %+v", lvl)
		}
		if lvl.Size < 1 {
			t.Fatalf("synthetic size below 1: %+v", lvl)
		}
		if lvl.Price > 90.00 {
			synthetic++
		}
	}
	if synthetic == 0 || synthetic > maxSynthetic {
		t.Errorf("gap synthetic levels = %d, want 1..%d", synthetic, maxSynthetic)
	}

	var prev float64 = -1
	for _, lvl := range snap.Bids {
		if lvl.Cumulative <= prev {
			t.Fatalf("cumulative not increasing at %+v", lvl)
		}
		prev = lvl.Cumulative
	}
}

func TestInterpolationRoundsStepCount(t *testing.T) {
	t.Parallel()
	a := New(30000, 0, discard(),
		WithClock(fixedClock(1000)), WithRand(rand.New(rand.NewSource(5))))

	// Gap of 0.148 at step 0.05 is 2.96 steps: rounding yields two grid
	// levels (99.95, 99.90); truncation would lose one.
	a.Apply(types.Quote{Symbol: "AAPL", BidPrice: 100.00, BidSize: 100, BidVenue: 11, TimestampMS: 1000})
	a.Apply(types.Quote{Symbol: "AAPL", BidPrice: 99.852, BidSize: 60, BidVenue: 12, TimestampMS: 1000})
	snap := a.SnapshotFor("AAPL")

	var inGap []float64
	for _, lvl := range snap.Bids {
		if lvl.Synthetic && lvl.Price < 100.00 && lvl.Price > 99.852 {
			inGap = append(inGap, lvl.Price)
		}
	}
	if len(inGap) != 2 {
		t.Fatalf("gap levels = %v, want [99.95 99.9]", inGap)
	}
	if inGap[0] != 99.95 || inGap[1] != 99.9 {
		t.Errorf("gap levels = %v, want [99.95 99.9]", inGap)
	}
}

func TestExtrapolationStopsAboveZero(t *testing.T) {
	t.Parallel()
	a := New(30000, 0, discard(),
		WithClock(fixedClock(1000)), WithRand(rand.New(rand.NewSource(9))))

	snap := a.Apply(types.Quote{
		Symbol: "PENNY", BidPrice: 0.02, BidSize: 500, BidVenue: 11, TimestampMS: 1000,
	})
	for _, lvl := range snap.Bids {
		if lvl.Price <= 0 {
			t.Fatalf("bid extrapolated to non-positive price: %+v", lvl)
		}
	}
}

func TestMaxLevelsTruncates(t *testing.T) {
	t.Parallel()
	a := New(30000, 5, discard(),
		WithClock(fixedClock(1000)), WithRand(rand.New(rand.NewSource(1))))

	snap := a.Apply(types.Quote{
		Symbol: "AAPL", BidPrice: 100.00, BidSize: 100, BidVenue: 11,
		AskPrice: 100.02, AskSize: 200, AskVenue: 12, TimestampMS: 1000,
	})
	if len(snap.Bids) > 5 || len(snap.Asks) > 5 {
		t.Errorf("sides not truncated: %d bids, %d asks", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price != 100.00 {
		t.Errorf("truncation dropped the best level: %+v", snap.Bids[0])
	}
}

func TestSnapshotForUnknownSymbol(t *testing.T) {
	t.Parallel()
	a := New(30000, 0, discard())
	if snap := a.SnapshotFor("NOPE"); snap != nil {
		t.Errorf("SnapshotFor(unknown) = %+v, want nil", snap)
	}
}

func TestNiceStep(t *testing.T) {
	t.Parallel()
	cases := map[float64]float64{
		0.0001: 0.001,
		0.04:   0.05,
		0.1:    0.1,
		30:     50,
		1000:   50,
	}
	for raw, want := range cases {
		if got := niceStep(raw); got != want {
			t.Errorf("niceStep(%v) = %v, want %v", raw, got, want)
		}
	}
}

func TestSnapGrid(t *testing.T) {
	t.Parallel()
	if got := snap(100.013, 0.01); got != 100.01 {
		t.Errorf("snap(100.013, 0.01) = %v, want 100.01", got)
	}
	if got := snap(99.996, 0.05); got != 100.0 {
		t.Errorf("snap(99.996, 0.05) = %v, want 100", got)
	}
}
