package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Rick-more-Rick/donTrading/internal/market"
	"github.com/Rick-more-Rick/donTrading/internal/symbols"
	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

const (
	bootstrapTimeout = 30 * time.Second
	reloadTimeout    = 15 * time.Second
	seriesLimit      = 5000
	bootstrapLimit   = 50000
	seriesMaxPoints  = 500
	bootstrapTfSec   = 60
)

// History fetches aggregate bars over REST, both for timeframe reloads
// requested by chart clients and for seeding the replay buffer at startup.
type History struct {
	http *resty.Client
	// reloadBudget bounds one client-driven FetchSeries request; the
	// slower bootstrapTimeout applies only to startup seeding.
	reloadBudget time.Duration
	logger       *slog.Logger
}

// NewHistory creates a history fetcher.
func NewHistory(apiKey string, logger *slog.Logger) *History {
	return &History{
		http: resty.New().
			SetBaseURL(restBaseURL).
			SetTimeout(bootstrapTimeout).
			SetQueryParam("apiKey", apiKey),
		reloadBudget: reloadTimeout,
		logger:       logger.With("component", "history"),
	}
}

// BootstrapSink receives the seeded series and last prices at startup.
type BootstrapSink interface {
	SeedBuffer(symbol string, points []types.TickPoint)
	SetLastPrice(symbol string, price float64)
}

type aggBar struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
}

type aggsResponse struct {
	Results      []aggBar `json:"results"`
	ResultsCount int      `json:"resultsCount"`
}

// timeframeRange maps a timeframe in seconds to the provider's
// (multiplier, unit) pair.
func timeframeRange(tfSec int) (int, string) {
	switch {
	case tfSec < 60:
		return tfSec, "second"
	case tfSec < 3600:
		return tfSec / 60, "minute"
	default:
		return tfSec / 3600, "hour"
	}
}

// lookbackDays sizes the request window so roughly 500 bars of the given
// timeframe fit inside it, assuming a 6.5 hour trading day, padded and
// clamped to [3, 60] days.
func lookbackDays(tfSec int) int {
	hoursNeeded := 500 * float64(tfSec) / 3600
	days := int(math.Max(1, math.Trunc(hoursNeeded/6.5)))
	days = int(float64(days)*1.5) + 3
	if days < 3 {
		days = 3
	}
	if days > 60 {
		days = 60
	}
	return days
}

// FetchSeries loads the tick series for one symbol at the given timeframe.
// Each bar expands to four points (open, high, low, close) at the bar's
// second. Equity bars outside extended hours are dropped. At most the
// newest 500 points are returned, along with the bar count.
func (h *History) FetchSeries(ctx context.Context, symbol string, tfSec int) ([]types.TickPoint, int, error) {
	ctx, cancel := context.WithTimeout(ctx, h.reloadBudget)
	defer cancel()

	mult, unit := timeframeRange(tfSec)
	days := lookbackDays(tfSec)

	bars, err := h.fetchAggs(ctx, symbol, mult, unit, days, seriesLimit)
	if err != nil {
		return nil, 0, err
	}

	isEquity := symbols.Classify(symbol) == symbols.Equity
	points := make([]types.TickPoint, 0, len(bars)*4)
	count := 0
	for _, b := range bars {
		if b.Timestamp <= 0 || b.Close <= 0 {
			continue
		}
		if isEquity && !market.InExtendedHours(b.Timestamp) {
			continue
		}
		sec := b.Timestamp / 1000
		points = append(points,
			types.TickPoint{Time: sec, Value: b.Open},
			types.TickPoint{Time: sec, Value: b.High},
			types.TickPoint{Time: sec, Value: b.Low},
			types.TickPoint{Time: sec, Value: b.Close},
		)
		count++
	}
	if len(points) > seriesMaxPoints {
		points = points[len(points)-seriesMaxPoints:]
	}
	return points, count, nil
}

// Bootstrap seeds the replay buffer and last prices from 1-minute bars.
// Each symbol is independent; one failure does not stop the others.
func (h *History) Bootstrap(ctx context.Context, syms []string, sink BootstrapSink) {
	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	for _, sym := range syms {
		if ctx.Err() != nil {
			return
		}
		bars, err := h.fetchAggs(ctx, sym, 1, "minute", lookbackDays(bootstrapTfSec), bootstrapLimit)
		if err != nil {
			h.logger.Warn("bootstrap failed for symbol", "symbol", sym, "error", err)
			continue
		}

		isEquity := symbols.Classify(sym) == symbols.Equity
		points := make([]types.TickPoint, 0, len(bars))
		var last float64
		for _, b := range bars {
			if b.Timestamp <= 0 || b.Close <= 0 {
				continue
			}
			if isEquity && !market.InExtendedHours(b.Timestamp) {
				continue
			}
			points = append(points, types.TickPoint{Time: b.Timestamp / 1000, Value: b.Close})
			last = b.Close
		}
		sink.SeedBuffer(sym, points)
		if last > 0 {
			sink.SetLastPrice(sym, last)
		}
		h.logger.Info("bootstrapped symbol", "symbol", sym, "points", len(points))
	}
}

func (h *History) fetchAggs(ctx context.Context, symbol string, mult int, unit string, days, limit int) ([]aggBar, error) {
	to := time.Now()
	from := to.AddDate(0, 0, -days)

	var result aggsResponse
	resp, err := h.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"adjusted": "true",
			"sort":     "asc",
			"limit":    fmt.Sprintf("%d", limit),
		}).
		SetResult(&result).
		Get(fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%s/%s",
			symbols.ProviderTicker(symbol), mult, unit,
			from.Format("2006-01-02"), to.Format("2006-01-02")))
	if err != nil {
		return nil, fmt.Errorf("fetch aggs: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch aggs: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Results, nil
}
