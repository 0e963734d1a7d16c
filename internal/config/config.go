// Package config defines all configuration for the fan-out server.
// Config is loaded from a key=value .env file (default: ./.env). Every
// key may also be supplied as a process environment variable, which takes
// precedence over the file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Rick-more-Rick/donTrading/internal/symbols"
)

// Config is the top-level configuration.
type Config struct {
	// APIKey authenticates the upstream WebSocket sessions and every REST
	// call.
	APIKey string

	// Symbols is the full watch list in internal form, uppercased.
	// Equities, Cryptos and FX are the classified partitions of Symbols.
	Symbols  []string
	Equities []string
	Cryptos  []string
	FX       []string

	// ChartPort serves price ticks, OrderBookPort serves book snapshots.
	ChartPort     int
	OrderBookPort int

	LogLevel  string
	LogFormat string

	// StaleMS is the book staleness window in milliseconds.
	StaleMS int64
	// ThrottleMS is the minimum interval between book broadcasts per symbol.
	ThrottleMS int64
	// PollSec is the REST price poller period in seconds.
	PollSec int
	// HeartbeatSec is the upstream WebSocket ping interval in seconds.
	HeartbeatSec int
	// MaxReconnects caps consecutive upstream reconnection attempts.
	MaxReconnects int
}

// Load reads config from an env-format file with environment overrides.
// A missing file is not an error since all values can come from the
// environment, but a malformed file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("SIMBOLOS", "AAPL,TSLA")
	v.SetDefault("CHART_PORT", 8765)
	v.SetDefault("ORDERBOOK_PORT", 8766)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("STALE_MS", 30000)
	v.SetDefault("THROTTLE_MS", 100)
	v.SetDefault("POLL_SEC", 5)
	v.SetDefault("HEARTBEAT_SEC", 30)
	v.SetDefault("MAX_RECONNECTS", 50)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		APIKey:        v.GetString("POLYGON_API_KEY"),
		ChartPort:     v.GetInt("CHART_PORT"),
		OrderBookPort: v.GetInt("ORDERBOOK_PORT"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		LogFormat:     v.GetString("LOG_FORMAT"),
		StaleMS:       v.GetInt64("STALE_MS"),
		ThrottleMS:    v.GetInt64("THROTTLE_MS"),
		PollSec:       v.GetInt("POLL_SEC"),
		HeartbeatSec:  v.GetInt("HEARTBEAT_SEC"),
		MaxReconnects: v.GetInt("MAX_RECONNECTS"),
	}

	for _, s := range strings.Split(v.GetString("SIMBOLOS"), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		cfg.Symbols = append(cfg.Symbols, symbols.Normalize(s))
	}
	cfg.Equities, cfg.Cryptos, cfg.FX = symbols.SplitByKind(cfg.Symbols)

	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("POLYGON_API_KEY is required (set it in .env or the environment)")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("SIMBOLOS must list at least one symbol")
	}
	if c.ChartPort <= 0 || c.ChartPort > 65535 {
		return fmt.Errorf("CHART_PORT %d out of range", c.ChartPort)
	}
	if c.OrderBookPort <= 0 || c.OrderBookPort > 65535 {
		return fmt.Errorf("ORDERBOOK_PORT %d out of range", c.OrderBookPort)
	}
	if c.ChartPort == c.OrderBookPort {
		return fmt.Errorf("CHART_PORT and ORDERBOOK_PORT must differ")
	}
	if c.MaxReconnects <= 0 {
		return fmt.Errorf("MAX_RECONNECTS must be > 0")
	}
	return nil
}

// KeyPreview returns a truncated API key for log output and info frames.
func (c *Config) KeyPreview() string {
	if len(c.APIKey) <= 8 {
		return c.APIKey
	}
	return c.APIKey[:8] + "..."
}
