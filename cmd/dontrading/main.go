// Command dontrading runs the real-time market-data fan-out server: it
// streams trades and quotes from Polygon.io and serves per-second price
// ticks and aggregated order books to browser clients over WebSocket.
//
// Exit codes: 0 clean shutdown, 1 configuration error, 2 upstream
// rejected the api key, 3 a feed gave up reconnecting before shutdown.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Rick-more-Rick/donTrading/internal/config"
	"github.com/Rick-more-Rick/donTrading/internal/engine"
	"github.com/Rick-more-Rick/donTrading/internal/market"
)

func main() {
	os.Exit(run())
}

func run() int {
	envPath := os.Getenv("DONTRADING_ENV")
	if envPath == "" {
		envPath = ".env"
	}

	cfg, err := config.Load(envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if err := market.Check(); err != nil {
		fmt.Fprintf(os.Stderr, "config: venue timezone: %v\n", err)
		return 1
	}

	logger := newLogger(cfg)
	logger.Info("dontrading starting",
		"symbols", cfg.Symbols,
		"chart_port", cfg.ChartPort,
		"orderbook_port", cfg.OrderBookPort,
		"api_key", cfg.KeyPreview())

	eng := engine.New(cfg, logger)
	eng.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-eng.Fatal():
		logger.Error("fatal upstream error", "error", err)
		eng.Stop()
		return 2
	}

	eng.Stop()
	if eng.Degraded() {
		logger.Warn("exited with degraded feeds")
		return 3
	}
	return 0
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
