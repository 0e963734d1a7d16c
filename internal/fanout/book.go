package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rick-more-Rick/donTrading/internal/symbols"
	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

// BookServer streams aggregated order-book snapshots to clients. Broadcasts
// are throttled per symbol; inside the quiet window only the cache is
// updated, so a late joiner always gets the newest snapshot.
type BookServer struct {
	symbols    []string
	symSet     map[string]bool
	throttleMS int64
	nowMS      func() int64
	srv        *http.Server
	upgrader   websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]bool

	cacheMu  sync.Mutex
	cache    map[string]*types.BookSnapshot
	lastSent map[string]int64

	logger *slog.Logger
}

// BookOption configures a BookServer.
type BookOption func(*BookServer)

// WithBookClock replaces the throttle clock. Tests use this.
func WithBookClock(nowMS func() int64) BookOption {
	return func(s *BookServer) { s.nowMS = nowMS }
}

// NewBookServer creates the order-book fan-out server.
func NewBookServer(port int, syms []string, throttleMS int64, logger *slog.Logger, opts ...BookOption) *BookServer {
	s := &BookServer{
		symbols:    syms,
		symSet:     make(map[string]bool, len(syms)),
		throttleMS: throttleMS,
		nowMS:      func() int64 { return time.Now().UnixMilli() },
		clients:    make(map[*client]bool),
		cache:      make(map[string]*types.BookSnapshot),
		lastSent:   make(map[string]int64),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "book_server"),
	}
	for _, sym := range syms {
		s.symSet[sym] = true
	}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s,
	}
	return s
}

// ServeHTTP upgrades every request to a WebSocket client connection.
func (s *BookServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r)
}

// Start begins serving. It returns once the listener fails or shuts down.
func (s *BookServer) Start() error {
	s.logger.Info("book server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener and disconnects all clients.
func (s *BookServer) Shutdown(ctx context.Context) error {
	s.clientsMu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()
	return s.srv.Shutdown(ctx)
}

func (s *BookServer) handleWS(w http.ResponseWriter, r *http.Request) {
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
	s.sendSnapshot(c, c.currentSymbol())

	c.readPump(s.handleAction, s.dropClient, s.logger)
}

func (s *BookServer) dropClient(c *client) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("client disconnected", "count", count)
}

func (s *BookServer) handleAction(c *client, action types.ClientAction) {
	if action.Action != "subscribe" {
		s.logger.Debug("unknown client action", "action", action.Action)
		return
	}
	// An unknown symbol is accepted: the client sees an empty book until
	// data arrives for it.
	sym := symbols.Normalize(action.Symbol)
	if sym == "" {
		return
	}
	c.setSymbol(sym)
	s.sendSnapshot(c, sym)
}

// sendSnapshot delivers the cached snapshot for a symbol, or an empty
// book when nothing has been published yet.
func (s *BookServer) sendSnapshot(c *client, sym string) {
	s.cacheMu.Lock()
	snap := s.cache[sym]
	s.cacheMu.Unlock()

	if snap == nil {
		snap = &types.BookSnapshot{
			Type:    "book",
			Symbol:  sym,
			Simbolo: symbols.Label(sym),
			Bids:    []types.BookLevel{},
			Asks:    []types.BookLevel{},
		}
	}
	c.enqueueJSON(snap, s.logger)
}

// Publish caches a snapshot and broadcasts it unless the symbol is inside
// its throttle window. The cache always holds the newest snapshot.
func (s *BookServer) Publish(snap *types.BookSnapshot) {
	if snap == nil {
		return
	}
	now := s.nowMS()

	s.cacheMu.Lock()
	s.cache[snap.Symbol] = snap
	if last, ok := s.lastSent[snap.Symbol]; ok && now-last < s.throttleMS {
		s.cacheMu.Unlock()
		return
	}
	s.lastSent[snap.Symbol] = now
	s.cacheMu.Unlock()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if c.currentSymbol() != snap.Symbol {
			continue
		}
		if !c.enqueueJSON(snap, s.logger) {
			s.logger.Warn("client send buffer full, dropping snapshot", "symbol", snap.Symbol)
		}
	}
}

// Cached returns the newest published snapshot for a symbol, nil if none.
func (s *BookServer) Cached(sym string) *types.BookSnapshot {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache[sym]
}
