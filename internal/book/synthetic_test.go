package book

import (
	"math/rand"
	"testing"
)

func TestSyntheticCryptoBook(t *testing.T) {
	t.Parallel()
	snap := SyntheticCryptoBook("BTCUSD", 65000, 7, rand.New(rand.NewSource(1)))

	if snap.Type != "book" {
		t.Errorf("frame type = %q, want book", snap.Type)
	}
	if len(snap.Bids) != 15 || len(snap.Asks) != 15 {
		t.Fatalf("levels = %d/%d, want 15/15", len(snap.Bids), len(snap.Asks))
	}
	if snap.Simbolo != "BTC/USD" {
		t.Errorf("Simbolo = %q, want BTC/USD", snap.Simbolo)
	}
	if snap.BestAsk <= snap.BestBid {
		t.Errorf("best ask %v not above best bid %v", snap.BestAsk, snap.BestBid)
	}
	if snap.Updates != 7 {
		t.Errorf("updates = %d, want 7", snap.Updates)
	}
	for i := 1; i < len(snap.Bids); i++ {
		if snap.Bids[i].Price >= snap.Bids[i-1].Price {
			t.Fatalf("bids not descending at %d", i)
		}
		if snap.Bids[i].Cumulative <= snap.Bids[i-1].Cumulative {
			t.Fatalf("cumulative not increasing at %d", i)
		}
	}
	for i, lvl := range snap.Bids {
		if len(lvl.Venues) != 1 || lvl.Venues[0] != 100+i {
			t.Fatalf("bid venue at %d = %v", i, lvl.Venues)
		}
	}
	for i, lvl := range snap.Asks {
		if len(lvl.Venues) != 1 || lvl.Venues[0] != 200+i {
			t.Fatalf("ask venue at %d = %v", i, lvl.Venues)
		}
	}
}

func TestSyntheticEquityBook(t *testing.T) {
	t.Parallel()
	for seed := int64(0); seed < 20; seed++ {
		snap := SyntheticEquityBook("AAPL", 189.50, 1, rand.New(rand.NewSource(seed)))

		if snap.Type != "book" {
			t.Fatalf("frame type = %q, want book", snap.Type)
		}
		if len(snap.Bids) != 20 || len(snap.Asks) != 20 {
			t.Fatalf("levels = %d/%d, want 20/20", len(snap.Bids), len(snap.Asks))
		}
		spread := snap.BestAsk - snap.BestBid
		if spread < 0.009 || spread > 0.041 {
			t.Fatalf("seed %d: spread %v outside expected range", seed, spread)
		}
		for i := 1; i < 20; i++ {
			if got := snap.Bids[i-1].Price - snap.Bids[i].Price; got < 0.009 || got > 0.011 {
				t.Fatalf("seed %d: bid spacing %v, want 0.01", seed, got)
			}
			if got := snap.Asks[i].Price - snap.Asks[i-1].Price; got < 0.009 || got > 0.011 {
				t.Fatalf("seed %d: ask spacing %v, want 0.01", seed, got)
			}
		}
		for _, lvl := range append(snap.Bids, snap.Asks...) {
			if lvl.Size < 100 {
				t.Fatalf("seed %d: size %v below minimum", seed, lvl.Size)
			}
			found := false
			for _, v := range equityVenues {
				if len(lvl.Venues) == 1 && lvl.Venues[0] == v {
					found = true
				}
			}
			if !found {
				t.Fatalf("seed %d: venue %v not in pool", seed, lvl.Venues)
			}
		}
	}
}
