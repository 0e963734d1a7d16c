// Package upstream maintains the market-data connections to Polygon.io:
// authenticated WebSocket sessions for trades and quotes, a REST price
// poller for symbols without a streaming feed, and historical bootstrap.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rick-more-Rick/donTrading/internal/symbols"
	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

const (
	writeTimeout     = 10 * time.Second
	readGrace        = 10 * time.Second // read deadline = heartbeat + grace
	maxReconnectWait = 60 * time.Second
	stableAfter      = 10 * time.Second // streaming this long resets backoff
	tradeBufferSize  = 1024
	quoteBufferSize  = 1024
)

// Terminal session errors. Run returns them instead of reconnecting.
var (
	ErrAuthFailed     = errors.New("upstream rejected api key")
	ErrReconnectLimit = errors.New("reconnect limit reached")
)

// State is the connection lifecycle phase, exported for metrics.
type State int32

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Subscribing
	Streaming
	Closing
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Subscribing:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Kind selects which feed a session subscribes to.
type Kind int

const (
	KindTrades Kind = iota
	KindQuotes
)

func (k Kind) String() string {
	if k == KindQuotes {
		return "quotes"
	}
	return "trades"
}

// Metrics is a point-in-time snapshot of session health.
type Metrics struct {
	Received   int64
	Reconnects int64
	Connected  bool
	LastMsgAge time.Duration
}

// Session manages one WebSocket connection to an upstream endpoint.
// It handles the welcome/auth/subscribe handshake, message routing into
// typed channels, heartbeats, and reconnection with exponential backoff.
type Session struct {
	endpoint      string
	apiKey        string
	kind          Kind
	heartbeat     time.Duration
	maxReconnects int

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // internal symbol form

	state      atomic.Int32
	closed     atomic.Bool
	received   atomic.Int64
	reconnects atomic.Int64
	lastMsgMS  atomic.Int64

	tradeCh chan types.Trade
	quoteCh chan types.Quote

	logger *slog.Logger
}

// NewSession creates a session for one (kind, endpoint) pair. syms is the
// initial subscription set in internal form.
func NewSession(kind Kind, endpoint, apiKey string, syms []string, heartbeat time.Duration, maxReconnects int, logger *slog.Logger) *Session {
	s := &Session{
		endpoint:      endpoint,
		apiKey:        apiKey,
		kind:          kind,
		heartbeat:     heartbeat,
		maxReconnects: maxReconnects,
		subscribed:    make(map[string]bool, len(syms)),
		tradeCh:       make(chan types.Trade, tradeBufferSize),
		quoteCh:       make(chan types.Quote, quoteBufferSize),
		logger: logger.With("component", "upstream",
			"feed", kind.String(), "endpoint", endpoint),
	}
	for _, sym := range syms {
		s.subscribed[symbols.Normalize(sym)] = true
	}
	return s
}

// Trades returns the normalized trade stream.
func (s *Session) Trades() <-chan types.Trade { return s.tradeCh }

// Quotes returns the normalized quote stream.
func (s *Session) Quotes() <-chan types.Quote { return s.quoteCh }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Metrics reports session health counters.
func (s *Session) Metrics() Metrics {
	m := Metrics{
		Received:   s.received.Load(),
		Reconnects: s.reconnects.Load(),
		Connected:  s.State() == Streaming,
	}
	if last := s.lastMsgMS.Load(); last > 0 {
		m.LastMsgAge = time.Duration(time.Now().UnixMilli()-last) * time.Millisecond
	}
	return m
}

// Run connects and maintains the session until ctx is cancelled, Stop is
// called, or a terminal error occurs. ErrAuthFailed is never retried;
// ErrReconnectLimit is returned after maxReconnects consecutive failures
// without a stable connection in between.
func (s *Session) Run(ctx context.Context) error {
	attempts := 0

	for {
		start := time.Now()
		before := s.received.Load()

		err := s.connectAndStream(ctx)

		s.setState(Disconnected)
		if errors.Is(err, ErrAuthFailed) {
			s.setState(Failed)
			return err
		}
		if ctx.Err() != nil || s.closed.Load() {
			return nil
		}

		attempts = resetAttempts(attempts, time.Since(start), s.received.Load() > before)
		attempts++
		s.reconnects.Add(1)
		if attempts > s.maxReconnects {
			s.setState(Failed)
			return fmt.Errorf("%w after %d attempts", ErrReconnectLimit, attempts-1)
		}

		wait := backoffDelay(attempts)
		s.logger.Warn("websocket disconnected, reconnecting",
			"error", err, "attempt", attempts, "backoff", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// resetAttempts clears the failure streak after a connection that both
// streamed long enough to count as stable and actually delivered data.
func resetAttempts(attempts int, streamed time.Duration, delivered bool) int {
	if delivered && streamed >= stableAfter {
		return 0
	}
	return attempts
}

// backoffDelay is the wait before reconnect attempt n (1-based):
// 2s, 4s, 8s, 16s, 32s, then 60s.
func backoffDelay(attempt int) time.Duration {
	if attempt >= 6 {
		return maxReconnectWait
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxReconnectWait {
		d = maxReconnectWait
	}
	return d
}

// Subscribe adds a symbol to the session. When connected, the frame is
// sent immediately; the set is re-sent on every reconnect either way.
func (s *Session) Subscribe(symbol string) error {
	sym := symbols.Normalize(symbol)
	s.subscribedMu.Lock()
	s.subscribed[sym] = true
	s.subscribedMu.Unlock()

	if s.State() != Streaming {
		return nil
	}
	return s.writeJSON(actionMsg{Action: "subscribe", Params: s.channelFor(sym)})
}

// Unsubscribe removes a symbol from the session.
func (s *Session) Unsubscribe(symbol string) error {
	sym := symbols.Normalize(symbol)
	s.subscribedMu.Lock()
	delete(s.subscribed, sym)
	s.subscribedMu.Unlock()

	if s.State() != Streaming {
		return nil
	}
	return s.writeJSON(actionMsg{Action: "unsubscribe", Params: s.channelFor(sym)})
}

// Stop closes the socket and prevents further reconnects.
func (s *Session) Stop() {
	s.closed.Store(true)
	s.setState(Closing)
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

type actionMsg struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

func (s *Session) connectAndStream(ctx context.Context) error {
	s.setState(Connecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.heartbeat + readGrace))
		return nil
	})

	s.setState(Authenticating)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(s.heartbeat + readGrace))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if err := s.dispatchFrame(msg); err != nil {
			return err
		}
	}
}

// dispatchFrame parses one wire frame (a JSON array of events) and routes
// each event. Status events drive the handshake; a returned error tears
// the connection down.
func (s *Session) dispatchFrame(data []byte) error {
	var events []json.RawMessage
	if err := json.Unmarshal(data, &events); err != nil {
		s.logger.Warn("malformed frame, dropping", "error", err, "data", truncate(data, 200))
		return nil
	}

	for _, raw := range events {
		var envelope struct {
			Ev      string `json:"ev"`
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			s.logger.Warn("malformed event, dropping", "error", err)
			continue
		}

		if envelope.Ev == "status" {
			if err := s.handleStatus(envelope.Status, envelope.Message); err != nil {
				return err
			}
			continue
		}

		s.received.Add(1)
		s.lastMsgMS.Store(time.Now().UnixMilli())

		switch envelope.Ev {
		case "T", "XT":
			s.emitTrade(raw)
		case "Q", "XQ":
			s.emitQuote(raw)
		case "CA":
			s.emitFXAggregate(raw)
		case "C":
			s.emitFXQuote(raw)
		default:
			s.logger.Debug("unknown event type", "ev", envelope.Ev)
		}
	}
	return nil
}

func (s *Session) handleStatus(status, message string) error {
	switch status {
	case "connected":
		s.logger.Info("websocket connected, authenticating")
		return s.writeJSON(actionMsg{Action: "auth", Params: s.apiKey})

	case "auth_success":
		s.logger.Info("authenticated, subscribing")
		s.setState(Subscribing)
		if err := s.sendSubscriptions(); err != nil {
			return err
		}
		s.setState(Streaming)
		return nil

	case "auth_failed":
		s.logger.Error("authentication rejected", "message", message)
		return ErrAuthFailed

	case "success":
		s.logger.Debug("subscription confirmed", "message", message)
		return nil

	default:
		s.logger.Debug("status event", "status", status, "message", message)
		return nil
	}
}

// sendSubscriptions subscribes the full current set as one comma-joined
// params string.
func (s *Session) sendSubscriptions() error {
	s.subscribedMu.RLock()
	channels := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		channels = append(channels, s.channelFor(sym))
	}
	s.subscribedMu.RUnlock()

	if len(channels) == 0 {
		return nil
	}
	return s.writeJSON(actionMsg{Action: "subscribe", Params: strings.Join(channels, ",")})
}

func (s *Session) channelFor(sym string) string {
	if s.kind == KindQuotes {
		return symbols.QuoteChannel(sym)
	}
	return symbols.TradeChannel(sym)
}

// Wire records. Equity and crypto share field names; fx differs.
type wireTrade struct {
	Sym        string  `json:"sym"`
	Price      float64 `json:"p"`
	Size       float64 `json:"s"`
	Timestamp  int64   `json:"t"`
	Venue      int     `json:"x"`
	Conditions []int   `json:"c"`
}

type wireQuote struct {
	Sym         string  `json:"sym"`
	BidPrice    float64 `json:"bp"`
	BidSize     float64 `json:"bs"`
	AskPrice    float64 `json:"ap"`
	AskSize     float64 `json:"as"`
	BidVenue    int     `json:"bx"`
	AskVenue    int     `json:"ax"`
	SingleVenue int     `json:"x"`
	Timestamp   int64   `json:"t"`
}

type wireFXAggregate struct {
	Pair   string  `json:"pair"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
	Start  int64   `json:"s"`
}

type wireFXQuote struct {
	Pair      string  `json:"p"`
	Bid       float64 `json:"b"`
	Ask       float64 `json:"a"`
	Venue     int     `json:"x"`
	Timestamp int64   `json:"t"`
}

func (s *Session) emitTrade(raw json.RawMessage) {
	var w wireTrade
	if err := json.Unmarshal(raw, &w); err != nil {
		s.logger.Warn("unmarshal trade", "error", err)
		return
	}
	s.sendTrade(types.Trade{
		Symbol:      symbols.Normalize(w.Sym),
		Price:       w.Price,
		Size:        int64(w.Size),
		TimestampMS: normalizeMS(w.Timestamp),
		VenueID:     w.Venue,
		Conditions:  w.Conditions,
	})
}

func (s *Session) emitQuote(raw json.RawMessage) {
	var w wireQuote
	if err := json.Unmarshal(raw, &w); err != nil {
		s.logger.Warn("unmarshal quote", "error", err)
		return
	}
	q := types.Quote{
		Symbol:      symbols.Normalize(w.Sym),
		BidPrice:    w.BidPrice,
		BidSize:     int64(w.BidSize),
		AskPrice:    w.AskPrice,
		AskSize:     int64(w.AskSize),
		BidVenue:    w.BidVenue,
		AskVenue:    w.AskVenue,
		TimestampMS: normalizeMS(w.Timestamp),
	}
	// Crypto quotes carry one venue for both sides.
	if q.BidVenue == 0 && q.AskVenue == 0 && w.SingleVenue > 0 {
		q.BidVenue = w.SingleVenue
		q.AskVenue = w.SingleVenue
	}
	s.sendQuote(q)
}

func (s *Session) emitFXAggregate(raw json.RawMessage) {
	var w wireFXAggregate
	if err := json.Unmarshal(raw, &w); err != nil {
		s.logger.Warn("unmarshal fx aggregate", "error", err)
		return
	}
	if w.Close <= 0 {
		return
	}
	s.sendTrade(types.Trade{
		Symbol:      symbols.Normalize(strings.ReplaceAll(w.Pair, "/", "")),
		Price:       w.Close,
		Size:        int64(w.Volume),
		TimestampMS: normalizeMS(w.Start),
		VenueID:     1,
	})
}

func (s *Session) emitFXQuote(raw json.RawMessage) {
	var w wireFXQuote
	if err := json.Unmarshal(raw, &w); err != nil {
		s.logger.Warn("unmarshal fx quote", "error", err)
		return
	}
	s.sendQuote(types.Quote{
		Symbol:      symbols.Normalize(strings.ReplaceAll(w.Pair, "/", "")),
		BidPrice:    w.Bid,
		BidSize:     1,
		AskPrice:    w.Ask,
		AskSize:     1,
		BidVenue:    max(w.Venue, 1),
		AskVenue:    max(w.Venue, 1),
		TimestampMS: normalizeMS(w.Timestamp),
	})
}

func (s *Session) sendTrade(t types.Trade) {
	select {
	case s.tradeCh <- t:
	default:
		s.logger.Warn("trade channel full, dropping event", "symbol", t.Symbol)
	}
}

func (s *Session) sendQuote(q types.Quote) {
	select {
	case s.quoteCh <- q:
	default:
		s.logger.Warn("quote channel full, dropping event", "symbol", q.Symbol)
	}
}

func (s *Session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.logger.Warn("ping failed", "error", err)
				}
			}
			s.connMu.Unlock()
		}
	}
}

func (s *Session) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// normalizeMS converts a provider timestamp in nanoseconds, microseconds
// or milliseconds to milliseconds.
func normalizeMS(ts int64) int64 {
	switch {
	case ts > 1e17: // nanoseconds
		return ts / 1e6
	case ts > 1e14: // microseconds
		return ts / 1e3
	default:
		return ts
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
