package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Rick-more-Rick/donTrading/internal/book"
	"github.com/Rick-more-Rick/donTrading/internal/symbols"
	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

const (
	restBaseURL   = "https://api.polygon.io"
	pollTimeout   = 8 * time.Second
	bookBufferLen = 64
)

// PricePoller polls last-trade prices over REST for symbols whose feed has
// no streaming quotes (crypto and fx on the basic plan). Price changes are
// emitted as trades on the same channel shape the sessions use, plus a
// synthetic book snapshot per observation.
type PricePoller struct {
	http    *resty.Client
	symbols []string
	period  time.Duration

	lastPrice map[string]float64
	updates   map[string]int64

	tradeCh chan types.Trade
	bookCh  chan *types.BookSnapshot
	rng     *rand.Rand
	logger  *slog.Logger
}

// NewPricePoller creates a poller for the given symbols (internal form).
func NewPricePoller(apiKey string, syms []string, period time.Duration, logger *slog.Logger) *PricePoller {
	httpClient := resty.New().
		SetBaseURL(restBaseURL).
		SetTimeout(pollTimeout).
		SetQueryParam("apiKey", apiKey)

	return &PricePoller{
		http:      httpClient,
		symbols:   syms,
		period:    period,
		lastPrice: make(map[string]float64, len(syms)),
		updates:   make(map[string]int64, len(syms)),
		tradeCh:   make(chan types.Trade, tradeBufferSize),
		bookCh:    make(chan *types.BookSnapshot, bookBufferLen),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    logger.With("component", "poller"),
	}
}

// Trades returns the price-change stream.
func (p *PricePoller) Trades() <-chan types.Trade { return p.tradeCh }

// Books returns the synthetic book snapshot stream.
func (p *PricePoller) Books() <-chan *types.BookSnapshot { return p.bookCh }

// Run polls until ctx is cancelled. The first cycle starts immediately.
func (p *PricePoller) Run(ctx context.Context) {
	p.logger.Info("price poller started", "symbols", p.symbols, "period", p.period)

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	p.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *PricePoller) cycle(ctx context.Context) {
	for _, sym := range p.symbols {
		if ctx.Err() != nil {
			return
		}
		price, tsMS, err := p.fetchPrice(ctx, sym)
		if err != nil {
			p.logger.Warn("poll failed, skipping symbol", "symbol", sym, "error", err)
			continue
		}
		if price <= 0 || price == p.lastPrice[sym] {
			continue
		}
		p.lastPrice[sym] = price
		p.updates[sym]++

		trade := types.Trade{
			Symbol:      sym,
			Price:       price,
			Size:        1,
			TimestampMS: tsMS,
			VenueID:     1,
		}
		select {
		case p.tradeCh <- trade:
		default:
			p.logger.Warn("trade channel full, dropping poll result", "symbol", sym)
		}

		snap := book.SyntheticCryptoBook(sym, price, p.updates[sym], p.rng)
		select {
		case p.bookCh <- snap:
		default:
			p.logger.Warn("book channel full, dropping snapshot", "symbol", sym)
		}
	}
}

type lastTradeResponse struct {
	Results struct {
		Price     float64 `json:"p"`
		Timestamp int64   `json:"t"`
	} `json:"results"`
	Status string `json:"status"`
}

type prevBar struct {
	Close     float64 `json:"c"`
	Timestamp int64   `json:"t"`
}

type prevCloseResponse struct {
	Results []prevBar `json:"results"`
}

// fetchPrice tries the last-trade endpoint, then falls back to the
// previous-day close when the symbol has no recent trade.
func (p *PricePoller) fetchPrice(ctx context.Context, sym string) (float64, int64, error) {
	ticker := symbols.ProviderTicker(sym)

	var last lastTradeResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&last).
		Get("/v2/last/trade/" + ticker)
	if err == nil && resp.StatusCode() == http.StatusOK && last.Results.Price > 0 {
		return last.Results.Price, normalizeMS(last.Results.Timestamp), nil
	}

	var prev prevCloseResponse
	resp, err = p.http.R().
		SetContext(ctx).
		SetResult(&prev).
		Get(fmt.Sprintf("/v2/aggs/ticker/%s/prev", ticker))
	if err != nil {
		return 0, 0, fmt.Errorf("prev close: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, 0, fmt.Errorf("prev close: status %d", resp.StatusCode())
	}
	if len(prev.Results) == 0 || prev.Results[0].Close <= 0 {
		return 0, 0, fmt.Errorf("no price data for %s", sym)
	}
	return prev.Results[0].Close, normalizeMS(prev.Results[0].Timestamp), nil
}
