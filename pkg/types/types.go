// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the server — normalized trades
// and quotes from the upstream feed, OHLC bars, order-book snapshots, and
// the JSON frames exchanged with browser clients. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"math"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Normalized upstream events
// ————————————————————————————————————————————————————————————————————————

// Trade is a single execution normalized from the provider's wire format.
//
// Provider field mapping: sym→Symbol, p→Price, s→Size, t→TimestampMS,
// x→VenueID, c→Conditions. Immutable once produced.
type Trade struct {
	Symbol      string
	Price       float64
	Size        int64
	TimestampMS int64
	VenueID     int
	Conditions  []int
}

// Time returns the trade timestamp as a time.Time (UTC).
func (t Trade) Time() time.Time {
	return time.UnixMilli(t.TimestampMS).UTC()
}

// LatencyMS is the approximate wire latency: now minus the trade timestamp.
func (t Trade) LatencyMS() float64 {
	return float64(time.Now().UnixMilli() - t.TimestampMS)
}

// Quote is a top-of-book update from one venue, normalized from the
// provider's wire format: sym→Symbol, bp/bs→Bid*, ap/as→Ask*, bx/ax→*Venue,
// t→TimestampMS. Either side may be absent (price 0). Immutable.
type Quote struct {
	Symbol      string
	BidPrice    float64
	BidSize     int64
	AskPrice    float64
	AskSize     int64
	BidVenue    int
	AskVenue    int
	TimestampMS int64
}

// Spread returns ask minus bid, rounded to 6 decimal places.
func (q Quote) Spread() float64 {
	return round6(q.AskPrice - q.BidPrice)
}

// Mid returns the midpoint between bid and ask, rounded to 6 decimal places.
func (q Quote) Mid() float64 {
	return round6((q.BidPrice + q.AskPrice) / 2)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// ————————————————————————————————————————————————————————————————————————
// OHLC bars
// ————————————————————————————————————————————————————————————————————————

// Bar is an OHLC candle over one time bucket. BucketStart is in epoch
// seconds and is always a multiple of the aggregation interval.
type Bar struct {
	Symbol      string  `json:"symbol"`
	BucketStart int64   `json:"bucket"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      int64   `json:"volume"`
	TradeCount  int     `json:"num_trades"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// BookLevel is one price level of the aggregated L2 book. Synthetic levels
// are interpolated/extrapolated padding with no underlying venue quote.
//
// JSON field names match the original browser client wire format.
type BookLevel struct {
	Price      float64 `json:"precio"`
	Size       float64 `json:"tamano"`
	Cumulative float64 `json:"acumulado"`
	Venues     []int   `json:"exchanges"`
	Synthetic  bool    `json:"interpolado,omitempty"`
}

// BookSnapshot is the full aggregated book for one symbol. Bids are sorted
// by price descending, asks ascending. Best/spread/mid are computed from
// real (non-synthetic) levels only. A crossed book (best bid above best
// ask) is emitted as-is — it is observable state, not an error.
type BookSnapshot struct {
	Type         string      `json:"type"`
	Symbol       string      `json:"symbol"`
	Simbolo      string      `json:"simbolo"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	BestBid      float64     `json:"best_bid"`
	BestAsk      float64     `json:"best_ask"`
	Spread       float64     `json:"spread"`
	MidPrice     float64     `json:"mid_price"`
	Updates      int64       `json:"updates"`
	NumVenuesBid int         `json:"num_exchanges_bid"`
	NumVenuesAsk int         `json:"num_exchanges_ask"`
}

// VenueNames maps the provider's equity venue IDs to display names.
// Used for log output and the console book dump.
var VenueNames = map[int]string{
	1: "NYSE American", 2: "NASDAQ OMX BX", 3: "NYSE National",
	4: "FINRA", 5: "ISE", 6: "EDGA", 7: "EDGX",
	8: "NYSE Chicago", 9: "NYSE Arca", 10: "BATS",
	11: "IEX", 12: "NASDAQ", 15: "MIAX Pearl",
	16: "MEMX", 17: "LTSE", 19: "CBOE BYX",
	20: "CBOE BZX", 21: "EPRL", 22: "NYSE",
}

// ————————————————————————————————————————————————————————————————————————
// Fan-out frames (server → browser)
// ————————————————————————————————————————————————————————————————————————

// TickPoint is one {time, value} sample of the per-second price series.
type TickPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// SymbolsFrame lists the symbols a client may subscribe to.
type SymbolsFrame struct {
	Type    string   `json:"type"` // "symbols"
	Symbols []string `json:"symbols"`
}

// InitFrame replays the price series for a symbol to a newly connected or
// re-subscribed client. Timeframe/Source/CandlesLoaded are set on
// timeframe reloads.
type InitFrame struct {
	Type          string      `json:"type"` // "init"
	Symbol        string      `json:"symbol"`
	Data          []TickPoint `json:"data"`
	Timeframe     int         `json:"timeframe,omitempty"`
	Source        string      `json:"source,omitempty"`
	CandlesLoaded int         `json:"candles_loaded,omitempty"`
}

// TickFrame is one live price update.
type TickFrame struct {
	Type   string  `json:"type"` // "tick"
	Symbol string  `json:"symbol"`
	Time   int64   `json:"time"`
	Value  float64 `json:"value"`
}

// SessionFrame describes the current venue session.
type SessionFrame struct {
	Type      string `json:"type"` // "session"
	Session   string `json:"session"`
	Label     string `json:"label"`
	TimeET    string `json:"time_et"`
	IsWeekend bool   `json:"is_weekend"`
	IsOpen    bool   `json:"is_open"`
}

// DataInfoFrame is an informational frame describing the data source.
type DataInfoFrame struct {
	Type         string `json:"type"` // "data_info"
	Source       string `json:"source"`
	APIKeyPrefix string `json:"api_key_preview"`
	DataType     string `json:"data_type"`
	MarketStatus string `json:"market_status"`
}

// ClientAction is a message from a browser client: subscribe or
// set_timeframe.
type ClientAction struct {
	Action    string `json:"action"`
	Symbol    string `json:"symbol,omitempty"`
	Timeframe int    `json:"timeframe,omitempty"`
}
