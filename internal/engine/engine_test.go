package engine

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rick-more-Rick/donTrading/internal/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		APIKey:        "test_key",
		Symbols:       []string{"AAPL"},
		Equities:      []string{"AAPL"},
		ChartPort:     8765,
		OrderBookPort: 8766,
		StaleMS:       30000,
		ThrottleMS:    100,
		PollSec:       5,
		HeartbeatSec:  30,
		MaxReconnects: 50,
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return frame
}

func TestEmitStatsBroadcastsSessionEveryInterval(t *testing.T) {
	eng := New(testConfig(), discard())

	srv := httptest.NewServer(eng.tickSrv)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	for i := 0; i < 4; i++ {
		readFrame(t, conn) // handshake frames
	}

	// Two consecutive intervals without a session transition: the session
	// frame still goes out both times.
	session, trades := eng.emitStats("", 0)
	frame := readFrame(t, conn)
	if frame["type"] != "session" {
		t.Fatalf("frame type = %v, want session", frame["type"])
	}

	eng.emitStats(session, trades)
	frame = readFrame(t, conn)
	if frame["type"] != "session" {
		t.Fatalf("second interval sent %v, want session", frame["type"])
	}
}
