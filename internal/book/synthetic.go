package book

import (
	"math"
	"math/rand"

	"github.com/Rick-more-Rick/donTrading/internal/symbols"
	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

// SyntheticCryptoBook builds a plausible crypto book around a last trade
// price. The crypto feed has no quote stream on the basic plan, so the
// poller publishes these instead of venue-derived snapshots.
func SyntheticCryptoBook(symbol string, price float64, updates int64, rng *rand.Rand) *types.BookSnapshot {
	const levels = 15
	spread := price * 0.0001
	bestBid := round6(price - spread/2)
	bestAsk := round6(price + spread/2)
	step := math.Max(0.01, price*0.00005)

	bids := make([]types.BookLevel, 0, levels)
	asks := make([]types.BookLevel, 0, levels)
	for i := 0; i < levels; i++ {
		size := round6((0.001 + rng.Float64()*0.499) * (1 + 0.3*float64(i)))
		bids = append(bids, types.BookLevel{
			Price:  round6(bestBid - float64(i)*step),
			Size:   size,
			Venues: []int{100 + i},
		})
		size = round6((0.001 + rng.Float64()*0.499) * (1 + 0.3*float64(i)))
		asks = append(asks, types.BookLevel{
			Price:  round6(bestAsk + float64(i)*step),
			Size:   size,
			Venues: []int{200 + i},
		})
	}
	accumulate(bids)
	accumulate(asks)

	return &types.BookSnapshot{
		Type:         "book",
		Symbol:       symbol,
		Simbolo:      symbols.Label(symbol),
		Bids:         bids,
		Asks:         asks,
		BestBid:      bestBid,
		BestAsk:      bestAsk,
		Spread:       round6(bestAsk - bestBid),
		MidPrice:     round6((bestAsk + bestBid) / 2),
		Updates:      updates,
		NumVenuesBid: levels,
		NumVenuesAsk: levels,
	}
}

// equityVenues is the venue pool synthetic equity levels draw from.
var equityVenues = []int{4, 7, 11, 12, 15, 19}

// SyntheticEquityBook builds a plausible equity book around a last trade
// price, used while the venue session is closed and no quotes arrive.
func SyntheticEquityBook(symbol string, price float64, updates int64, rng *rand.Rand) *types.BookSnapshot {
	const (
		levels = 20
		step   = 0.01
	)
	spread := 0.01 + rng.Float64()*0.02
	bestBid := round6(price - spread/2)
	bestAsk := round6(price + spread/2)
	if bestAsk < bestBid+0.01 {
		bestAsk = round6(bestBid + 0.01)
	}

	bids := make([]types.BookLevel, 0, levels)
	asks := make([]types.BookLevel, 0, levels)
	for i := 0; i < levels; i++ {
		bids = append(bids, types.BookLevel{
			Price:  round6(bestBid - float64(i)*step),
			Size:   math.Floor(float64(100+rng.Intn(701)) * (1 + float64(i)/3)),
			Venues: []int{equityVenues[rng.Intn(len(equityVenues))]},
		})
		asks = append(asks, types.BookLevel{
			Price:  round6(bestAsk + float64(i)*step),
			Size:   math.Floor(float64(100+rng.Intn(701)) * (1 + float64(i)/3)),
			Venues: []int{equityVenues[rng.Intn(len(equityVenues))]},
		})
	}
	accumulate(bids)
	accumulate(asks)

	return &types.BookSnapshot{
		Type:         "book",
		Symbol:       symbol,
		Simbolo:      symbols.Label(symbol),
		Bids:         bids,
		Asks:         asks,
		BestBid:      bestBid,
		BestAsk:      bestAsk,
		Spread:       round6(bestAsk - bestBid),
		MidPrice:     round6((bestAsk + bestBid) / 2),
		Updates:      updates,
		NumVenuesBid: levels,
		NumVenuesAsk: levels,
	}
}
