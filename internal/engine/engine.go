// Package engine is the central orchestrator of the fan-out server.
//
// It wires together all subsystems:
//
//  1. Upstream sessions stream trades and quotes per asset class; the
//     REST poller covers symbols without a streaming feed.
//  2. Consumer loops fold trades into OHLC bars and the tick server's
//     replay buffer, and quotes into the aggregated order book.
//  3. The tick and book servers fan the results out to browser clients.
//  4. Periodic tickers publish stats, session transitions, and synthetic
//     equity books while the venue is closed.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/Rick-more-Rick/donTrading/internal/book"
	"github.com/Rick-more-Rick/donTrading/internal/config"
	"github.com/Rick-more-Rick/donTrading/internal/fanout"
	"github.com/Rick-more-Rick/donTrading/internal/market"
	"github.com/Rick-more-Rick/donTrading/internal/ohlc"
	"github.com/Rick-more-Rick/donTrading/internal/symbols"
	"github.com/Rick-more-Rick/donTrading/internal/upstream"
	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

const (
	statsInterval     = 30 * time.Second
	syntheticInterval = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
	barIntervalSec    = 60
)

// Engine owns every long-lived goroutine and the shutdown sequencing.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	bars  *ohlc.Aggregator
	books *book.Aggregator

	tickSrv *fanout.TickServer
	bookSrv *fanout.BookServer

	sessions []*upstream.Session
	poller   *upstream.PricePoller
	history  *upstream.History

	// fatal delivers the one error that must abort the process (bad api
	// key). degraded marks a reconnect-limit failure for the exit code.
	fatal    chan error
	mu       sync.Mutex
	degraded bool

	tradeCount int64
	quoteCount int64

	rng    *rand.Rand
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires all components from the validated config.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	history := upstream.NewHistory(cfg.APIKey, logger)
	e := &Engine{
		cfg:     cfg,
		logger:  logger.With("component", "engine"),
		bars:    ohlc.New(barIntervalSec, logger),
		books:   book.New(cfg.StaleMS, 0, logger),
		tickSrv: fanout.NewTickServer(cfg.ChartPort, cfg.Symbols, cfg.KeyPreview(), history, logger),
		bookSrv: fanout.NewBookServer(cfg.OrderBookPort, cfg.Symbols, cfg.ThrottleMS, logger),
		history: history,
		fatal:   make(chan error, 1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:     ctx,
		cancel:  cancel,
	}

	heartbeat := time.Duration(cfg.HeartbeatSec) * time.Second
	if len(cfg.Equities) > 0 {
		e.sessions = append(e.sessions,
			upstream.NewSession(upstream.KindTrades, symbols.EndpointStocks,
				cfg.APIKey, cfg.Equities, heartbeat, cfg.MaxReconnects, logger),
			upstream.NewSession(upstream.KindQuotes, symbols.EndpointStocks,
				cfg.APIKey, cfg.Equities, heartbeat, cfg.MaxReconnects, logger),
		)
	}
	if len(cfg.FX) > 0 {
		e.sessions = append(e.sessions,
			upstream.NewSession(upstream.KindTrades, symbols.EndpointForex,
				cfg.APIKey, cfg.FX, heartbeat, cfg.MaxReconnects, logger),
			upstream.NewSession(upstream.KindQuotes, symbols.EndpointForex,
				cfg.APIKey, cfg.FX, heartbeat, cfg.MaxReconnects, logger),
		)
	}
	if len(cfg.Cryptos) > 0 {
		e.poller = upstream.NewPricePoller(cfg.APIKey, cfg.Cryptos,
			time.Duration(cfg.PollSec)*time.Second, logger)
	}

	return e
}

// Fatal delivers the error that must abort the process, if any occurs.
func (e *Engine) Fatal() <-chan error { return e.fatal }

// Degraded reports whether any upstream session hit its reconnect limit.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Start launches the servers, seeds history, and runs all feed and
// consumer goroutines. It returns immediately.
func (e *Engine) Start() {
	e.logger.Info("starting",
		"symbols", e.cfg.Symbols,
		"equities", len(e.cfg.Equities),
		"cryptos", len(e.cfg.Cryptos),
		"fx", len(e.cfg.FX))

	e.spawn(func() {
		if err := e.tickSrv.Start(); err != nil {
			e.logger.Error("tick server failed", "error", err)
		}
	})
	e.spawn(func() {
		if err := e.bookSrv.Start(); err != nil {
			e.logger.Error("book server failed", "error", err)
		}
	})

	// One-shot bootstrap: seed replay buffers and last prices before the
	// live feeds take over.
	e.spawn(func() {
		e.history.Bootstrap(e.ctx, e.cfg.Symbols, e.tickSrv)
	})

	for _, s := range e.sessions {
		e.spawn(func() { e.runSession(s) })
		e.spawn(func() { e.consumeTrades(s.Trades()) })
		e.spawn(func() { e.consumeQuotes(s.Quotes()) })
	}
	if e.poller != nil {
		e.spawn(func() { e.poller.Run(e.ctx) })
		e.spawn(func() { e.consumeTrades(e.poller.Trades()) })
		e.spawn(func() { e.consumePollerBooks() })
	}

	e.spawn(e.statsLoop)
	e.spawn(e.syntheticEquityLoop)
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *Engine) runSession(s *upstream.Session) {
	err := s.Run(e.ctx)
	switch {
	case err == nil:
		return
	case errors.Is(err, upstream.ErrAuthFailed):
		select {
		case e.fatal <- err:
		default:
		}
	case errors.Is(err, upstream.ErrReconnectLimit):
		e.logger.Error("upstream gave up reconnecting, feed degraded", "error", err)
		e.mu.Lock()
		e.degraded = true
		e.mu.Unlock()
	default:
		e.logger.Error("session ended", "error", err)
	}
}

// consumeTrades feeds trades into the bar aggregator and the tick stream.
func (e *Engine) consumeTrades(trades <-chan types.Trade) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case t, ok := <-trades:
			if !ok {
				return
			}
			e.mu.Lock()
			e.tradeCount++
			e.mu.Unlock()

			if bar, sealed := e.bars.Observe(t); sealed {
				e.logger.Debug("bar closed",
					"symbol", bar.Symbol, "bucket", bar.BucketStart,
					"close", bar.Close, "volume", bar.Volume, "trades", bar.TradeCount)
			}
			e.tickSrv.RegisterTick(t.Symbol, t.Price, t.TimestampMS)
		}
	}
}

// consumeQuotes feeds quotes into the book aggregator and publishes the
// resulting snapshots.
func (e *Engine) consumeQuotes(quotes <-chan types.Quote) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			e.mu.Lock()
			e.quoteCount++
			e.mu.Unlock()

			if snap := e.books.Apply(q); snap != nil {
				e.bookSrv.Publish(snap)
			}
		}
	}
}

func (e *Engine) consumePollerBooks() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case snap, ok := <-e.poller.Books():
			if !ok {
				return
			}
			e.bookSrv.Publish(snap)
		}
	}
}

// statsLoop logs throughput and keeps tick clients' session state fresh.
func (e *Engine) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	lastSession := market.Session(time.Now())
	var lastTrades int64

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			lastSession, lastTrades = e.emitStats(lastSession, lastTrades)
		}
	}
}

// emitStats logs throughput, logs a session transition when one happened,
// and broadcasts the session frame to every tick client. The broadcast is
// unconditional so clients recover their session state even when a
// transition frame was lost.
func (e *Engine) emitStats(lastSession string, lastTrades int64) (string, int64) {
	e.mu.Lock()
	trades, quotes := e.tradeCount, e.quoteCount
	e.mu.Unlock()

	session := market.Session(time.Now())
	e.logger.Info("stats",
		"trades", trades,
		"quotes", quotes,
		"trades_per_sec", float64(trades-lastTrades)/statsInterval.Seconds(),
		"session", session)

	if session != lastSession {
		e.logger.Info("session transition", "from", lastSession, "to", session)
	}
	e.tickSrv.BroadcastSession(market.Info(time.Now()))

	return session, trades
}

// syntheticEquityLoop publishes synthetic equity books while the venue is
// closed, so book clients see plausible depth around the last price.
func (e *Engine) syntheticEquityLoop() {
	if len(e.cfg.Equities) == 0 {
		return
	}
	ticker := time.NewTicker(syntheticInterval)
	defer ticker.Stop()

	var updates int64
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if market.Session(time.Now()) != market.SessionClosed {
				continue
			}
			updates++
			for _, sym := range e.cfg.Equities {
				price := e.tickSrv.LastPrice(sym)
				if price <= 0 {
					continue
				}
				e.bookSrv.Publish(book.SyntheticEquityBook(sym, price, updates, e.rng))
			}
		}
	}
}

// Stop tears everything down: feeds first, then the servers, bounded by
// shutdownTimeout.
func (e *Engine) Stop() {
	e.logger.Info("stopping")
	e.cancel()

	for _, s := range e.sessions {
		s.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.tickSrv.Shutdown(ctx); err != nil {
		e.logger.Warn("tick server shutdown", "error", err)
	}
	if err := e.bookSrv.Shutdown(ctx); err != nil {
		e.logger.Warn("book server shutdown", "error", err)
	}

	e.wg.Wait()
	e.logger.Info("stopped")
}
