package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rick-more-Rick/donTrading/internal/market"
	"github.com/Rick-more-Rick/donTrading/internal/symbols"
	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

const (
	// Replay buffer watermarks: trim kicks in above bufferHigh and keeps
	// the newest bufferLow entries.
	bufferHigh = 50000
	bufferLow  = 40000

	historyRequestTimeout = 35 * time.Second
)

// HistoryLoader loads a tick series for a timeframe reload request.
type HistoryLoader interface {
	FetchSeries(ctx context.Context, symbol string, tfSec int) ([]types.TickPoint, int, error)
}

// TickServer streams per-second prices to chart clients and replays the
// recent series on connect. One buffer per symbol, keyed by epoch second.
type TickServer struct {
	symbols  []string
	symSet   map[string]bool
	preview  string // api key preview for the data_info frame
	history  HistoryLoader
	srv      *http.Server
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]bool

	bufMu     sync.Mutex
	buffers   map[string]map[int64]float64
	lastPrice map[string]float64

	logger *slog.Logger
}

// NewTickServer creates the chart fan-out server. syms is the configured
// watch list in internal form; the first entry is the default registration
// for new clients.
func NewTickServer(port int, syms []string, keyPreview string, history HistoryLoader, logger *slog.Logger) *TickServer {
	s := &TickServer{
		symbols:   syms,
		symSet:    make(map[string]bool, len(syms)),
		preview:   keyPreview,
		history:   history,
		clients:   make(map[*client]bool),
		buffers:   make(map[string]map[int64]float64, len(syms)),
		lastPrice: make(map[string]float64, len(syms)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "tick_server"),
	}
	for _, sym := range syms {
		s.symSet[sym] = true
		s.buffers[sym] = make(map[int64]float64)
	}

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s,
	}
	return s
}

// ServeHTTP upgrades every request to a WebSocket client connection.
func (s *TickServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r)
}

// Start begins serving. It returns once the listener fails or shuts down.
func (s *TickServer) Start() error {
	s.logger.Info("tick server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener and disconnects all clients.
func (s *TickServer) Shutdown(ctx context.Context) error {
	s.clientsMu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()
	return s.srv.Shutdown(ctx)
}

func (s *TickServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	c := newClient(conn, s.symbols[0])
	s.clientsMu.Lock()
	s.clients[c] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("client connected", "count", count, "remote", r.RemoteAddr)

	go c.writePump()

	c.enqueueJSON(types.SymbolsFrame{Type: "symbols", Symbols: s.symbols}, s.logger)
	s.sendInit(c, c.currentSymbol(), 0, "", 0)
	c.enqueueJSON(market.Info(time.Now()), s.logger)
	c.enqueueJSON(s.dataInfo(), s.logger)

	c.readPump(s.handleAction, s.dropClient, s.logger)
}

func (s *TickServer) dropClient(c *client) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("client disconnected", "count", count)
}

func (s *TickServer) handleAction(c *client, action types.ClientAction) {
	switch action.Action {
	case "subscribe":
		sym := symbols.Normalize(action.Symbol)
		if !s.symSet[sym] {
			s.logger.Warn("subscribe to unknown symbol ignored", "symbol", action.Symbol)
			return
		}
		c.setSymbol(sym)
		s.sendInit(c, sym, 0, "", 0)
		c.enqueueJSON(market.Info(time.Now()), s.logger)

	case "set_timeframe":
		if action.Timeframe <= 0 || s.history == nil {
			return
		}
		c.setTimeframe(action.Timeframe)
		sym := c.currentSymbol()

		ctx, cancel := context.WithTimeout(context.Background(), historyRequestTimeout)
		defer cancel()
		points, count, err := s.history.FetchSeries(ctx, sym, action.Timeframe)
		if err != nil {
			s.logger.Warn("timeframe reload failed", "symbol", sym,
				"timeframe", action.Timeframe, "error", err)
			return
		}
		c.enqueueJSON(types.InitFrame{
			Type:          "init",
			Symbol:        sym,
			Data:          points,
			Timeframe:     action.Timeframe,
			Source:        "polygon_rest",
			CandlesLoaded: count,
		}, s.logger)

	default:
		s.logger.Debug("unknown client action", "action", action.Action)
	}
}

// sendInit replays the buffered series for a symbol, sorted ascending.
func (s *TickServer) sendInit(c *client, sym string, timeframe int, source string, candles int) {
	s.bufMu.Lock()
	buf := s.buffers[sym]
	points := make([]types.TickPoint, 0, len(buf))
	for sec, price := range buf {
		points = append(points, types.TickPoint{Time: sec, Value: price})
	}
	s.bufMu.Unlock()

	sort.Slice(points, func(i, j int) bool { return points[i].Time < points[j].Time })

	c.enqueueJSON(types.InitFrame{
		Type:          "init",
		Symbol:        sym,
		Data:          points,
		Timeframe:     timeframe,
		Source:        source,
		CandlesLoaded: candles,
	}, s.logger)
}

func (s *TickServer) dataInfo() types.DataInfoFrame {
	status := "closed"
	if market.IsOpen(time.Now()) {
		status = "open"
	}
	return types.DataInfoFrame{
		Type:         "data_info",
		Source:       "polygon",
		APIKeyPrefix: s.preview,
		DataType:     "real_time",
		MarketStatus: status,
	}
}

// RegisterTick records one price observation and broadcasts it to clients
// registered on the symbol. Equity ticks outside extended hours are
// dropped.
func (s *TickServer) RegisterTick(sym string, price float64, tsMS int64) {
	if symbols.Classify(sym) == symbols.Equity && !market.InExtendedHours(tsMS) {
		return
	}

	s.bufMu.Lock()
	buf := s.buffers[sym]
	if buf == nil {
		buf = make(map[int64]float64)
		s.buffers[sym] = buf
	}
	sec := tsMS / 1000
	buf[sec] = price
	s.lastPrice[sym] = price
	if len(buf) > bufferHigh {
		s.trimLocked(sym, buf)
	}
	s.bufMu.Unlock()

	s.broadcast(sym, types.TickFrame{Type: "tick", Symbol: sym, Time: sec, Value: price})
}

// trimLocked keeps the newest bufferLow entries. Caller holds bufMu.
func (s *TickServer) trimLocked(sym string, buf map[int64]float64) {
	secs := make([]int64, 0, len(buf))
	for sec := range buf {
		secs = append(secs, sec)
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i] < secs[j] })
	for _, sec := range secs[:len(secs)-bufferLow] {
		delete(buf, sec)
	}
	s.logger.Debug("trimmed replay buffer", "symbol", sym, "size", len(buf))
}

// BroadcastSession pushes a session frame to every client.
func (s *TickServer) BroadcastSession(frame types.SessionFrame) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if !c.enqueueJSON(frame, s.logger) {
			s.logger.Warn("client send buffer full, dropping session frame")
		}
	}
}

func (s *TickServer) broadcast(sym string, frame types.TickFrame) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if c.currentSymbol() != sym {
			continue
		}
		if !c.enqueueJSON(frame, s.logger) {
			s.logger.Warn("client send buffer full, dropping tick", "symbol", sym)
		}
	}
}

// SeedBuffer replaces the replay series for a symbol, used at bootstrap.
func (s *TickServer) SeedBuffer(sym string, points []types.TickPoint) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	buf := make(map[int64]float64, len(points))
	for _, p := range points {
		buf[p.Time] = p.Value
	}
	s.buffers[sym] = buf
}

// SetLastPrice records the latest known price without broadcasting.
func (s *TickServer) SetLastPrice(sym string, price float64) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	s.lastPrice[sym] = price
}

// LastPrice returns the latest known price for a symbol, 0 when unknown.
func (s *TickServer) LastPrice(sym string) float64 {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.lastPrice[sym]
}

// BufferLen returns the replay buffer size for a symbol.
func (s *TickServer) BufferLen(sym string) int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return len(s.buffers[sym])
}
