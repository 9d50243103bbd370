// Package config defines the top-level configuration for the trend bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// duration wraps time.Duration so TOML values like "30s" decode directly.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRENDBOT_* environment
// variables.
type Config struct {
	Bitmex     BitmexConfig     `toml:"bitmex"`
	Feed       FeedConfig       `toml:"feed"`
	Supertrend SupertrendConfig `toml:"supertrend"`
	Risk       RiskConfig       `toml:"risk"`
	Trader     TraderConfig     `toml:"trader"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// BitmexConfig holds BitMEX REST credentials and endpoints.
type BitmexConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	Testnet   bool   `toml:"testnet"`
	BaseURL   string `toml:"base_url"` // overrides the testnet/mainnet default
	Symbol    string `toml:"symbol"`
}

// FeedConfig holds websocket market-data parameters.
type FeedConfig struct {
	URL             string   `toml:"url"` // overrides the testnet/mainnet default
	TradeBuffer     int      `toml:"trade_buffer"`
	PingIdle        duration `toml:"ping_idle"`
	InboundTimeout  duration `toml:"inbound_timeout"`
	ReconnectBase   duration `toml:"reconnect_base"`
	MaxReconnects   int      `toml:"max_reconnects"`
	DialTimeout     duration `toml:"dial_timeout"`
}

// SupertrendConfig holds the signal engine parameters. The three strength
// weights must sum to 100.
type SupertrendConfig struct {
	ATRPeriod         int     `toml:"atr_period"`
	Multiplier        float64 `toml:"multiplier"`
	DurationPerCandle float64 `toml:"duration_per_candle"`
	DurationMax       float64 `toml:"duration_max"`
	VolumeMax         float64 `toml:"volume_max"`
	MomentumMax       float64 `toml:"momentum_max"`
	StrongThreshold   float64 `toml:"strong_threshold"`
	MinVolumeFactor   float64 `toml:"min_volume_factor"`
	RSIPeriod         int     `toml:"rsi_period"`
	ROCPeriod         int     `toml:"roc_period"`
	VolumeMAPeriod    int     `toml:"volume_ma_period"`
	VolatilityWindow  int     `toml:"volatility_window"`
}

// RiskConfig holds account-protection limits and sizing parameters.
type RiskConfig struct {
	TradingHourStart    int     `toml:"trading_hour_start"`
	TradingHourEnd      int     `toml:"trading_hour_end"`
	MaxDailyTrades      int     `toml:"max_daily_trades"`
	MaxDailyLossPercent float64 `toml:"max_daily_loss_percent"`
	MaxDrawdownPercent  float64 `toml:"max_drawdown_percent"`
	MinBalance          float64 `toml:"min_balance"`
	RiskPercent         float64 `toml:"risk_percent"`
	Leverage            float64 `toml:"leverage"`
	StopLossPercent     float64 `toml:"stop_loss_percent"`
	MinOrderSize        float64 `toml:"min_order_size"`
	TickSize            float64 `toml:"tick_size"`
}

// TraderConfig holds the control-loop parameters.
type TraderConfig struct {
	TickInterval       duration `toml:"tick_interval"`
	Timeframe          string   `toml:"timeframe"`
	CandleLimit        int      `toml:"candle_limit"`
	ImbalanceThreshold float64  `toml:"imbalance_threshold"`
	MaxSlippagePercent float64  `toml:"max_slippage_percent"`
	TrailingStops      bool     `toml:"trailing_stops"`
	MinStopMove        float64  `toml:"min_stop_move"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	Enabled       bool   `toml:"enabled"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Enabled    bool   `toml:"enabled"`
}

// NotifyConfig holds chat notification credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns the built-in configuration: testnet trading on XBTUSD
// with conservative risk limits.
func Defaults() Config {
	return Config{
		Bitmex: BitmexConfig{
			Testnet: true,
			Symbol:  "XBTUSD",
		},
		Feed: FeedConfig{
			TradeBuffer:    1000,
			PingIdle:       duration{10 * time.Second},
			InboundTimeout: duration{30 * time.Second},
			ReconnectBase:  duration{5 * time.Second},
			MaxReconnects:  5,
			DialTimeout:    duration{15 * time.Second},
		},
		Supertrend: SupertrendConfig{
			ATRPeriod:         10,
			Multiplier:        3.0,
			DurationPerCandle: 2,
			DurationMax:       40,
			VolumeMax:         30,
			MomentumMax:       30,
			StrongThreshold:   70,
			MinVolumeFactor:   1.2,
			RSIPeriod:         14,
			ROCPeriod:         10,
			VolumeMAPeriod:    20,
			VolatilityWindow:  24,
		},
		Risk: RiskConfig{
			TradingHourStart:    0,
			TradingHourEnd:      24,
			MaxDailyTrades:      10,
			MaxDailyLossPercent: 5,
			MaxDrawdownPercent:  15,
			MinBalance:          100,
			RiskPercent:         1,
			Leverage:            5,
			StopLossPercent:     1.5,
			MinOrderSize:        100,
			TickSize:            0.5,
		},
		Trader: TraderConfig{
			TickInterval:       duration{time.Second},
			Timeframe:          "1m",
			CandleLimit:        100,
			ImbalanceThreshold: 0.25,
			MaxSlippagePercent: 0.5,
			TrailingStops:      true,
			MinStopMove:        1,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "trendbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			Enabled:       false,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Enabled:    false,
		},
		Notify: NotifyConfig{
			Events: []string{"entry", "exit", "stop_moved", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Bitmex: credentials are required outside monitor mode.
	if c.Bitmex.Symbol == "" {
		errs = append(errs, "bitmex: symbol must not be empty")
	}
	if mode := strings.ToLower(c.Mode); mode == "trade" || mode == "full" {
		if c.Bitmex.APIKey == "" || c.Bitmex.APISecret == "" {
			errs = append(errs, "bitmex: api_key and api_secret are required for mode "+c.Mode)
		}
	}

	// Feed
	if c.Feed.TradeBuffer < 1 {
		errs = append(errs, "feed: trade_buffer must be >= 1")
	}
	if c.Feed.MaxReconnects < 1 {
		errs = append(errs, "feed: max_reconnects must be >= 1")
	}
	if c.Feed.ReconnectBase.Duration <= 0 {
		errs = append(errs, "feed: reconnect_base must be positive")
	}

	// Supertrend
	if c.Supertrend.ATRPeriod < 2 {
		errs = append(errs, "supertrend: atr_period must be >= 2")
	}
	if c.Supertrend.Multiplier <= 0 {
		errs = append(errs, "supertrend: multiplier must be > 0")
	}
	if sum := c.Supertrend.DurationMax + c.Supertrend.VolumeMax + c.Supertrend.MomentumMax; sum != 100 {
		errs = append(errs, fmt.Sprintf("supertrend: strength weights must sum to 100, got %.1f", sum))
	}
	if c.Supertrend.StrongThreshold <= 0 || c.Supertrend.StrongThreshold >= 100 {
		errs = append(errs, "supertrend: strong_threshold must be in (0, 100)")
	}

	// Risk
	if c.Risk.TradingHourStart < 0 || c.Risk.TradingHourStart > 24 {
		errs = append(errs, fmt.Sprintf("risk: trading_hour_start must be 0-24, got %d", c.Risk.TradingHourStart))
	}
	if c.Risk.TradingHourEnd < 0 || c.Risk.TradingHourEnd > 24 {
		errs = append(errs, fmt.Sprintf("risk: trading_hour_end must be 0-24, got %d", c.Risk.TradingHourEnd))
	}
	if c.Risk.MaxDailyTrades < 1 {
		errs = append(errs, "risk: max_daily_trades must be >= 1")
	}
	if c.Risk.RiskPercent <= 0 || c.Risk.RiskPercent > 100 {
		errs = append(errs, "risk: risk_percent must be in (0, 100]")
	}
	if c.Risk.Leverage <= 0 {
		errs = append(errs, "risk: leverage must be > 0")
	}
	if c.Risk.StopLossPercent <= 0 {
		errs = append(errs, "risk: stop_loss_percent must be > 0")
	}
	if c.Risk.TickSize <= 0 {
		errs = append(errs, "risk: tick_size must be > 0")
	}

	// Trader
	if c.Trader.TickInterval.Duration <= 0 {
		errs = append(errs, "trader: tick_interval must be positive")
	}
	if c.Trader.CandleLimit < 1 {
		errs = append(errs, "trader: candle_limit must be >= 1")
	}

	// Database
	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Notify: Telegram needs both halves.
	tk := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tk != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
