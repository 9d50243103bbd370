package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRENDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRENDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Bitmex ──
	setStr(&cfg.Bitmex.APIKey, "TRENDBOT_BITMEX_API_KEY")
	setStr(&cfg.Bitmex.APISecret, "TRENDBOT_BITMEX_API_SECRET")
	setBool(&cfg.Bitmex.Testnet, "TRENDBOT_BITMEX_TESTNET")
	setStr(&cfg.Bitmex.BaseURL, "TRENDBOT_BITMEX_BASE_URL")
	setStr(&cfg.Bitmex.Symbol, "TRENDBOT_BITMEX_SYMBOL")

	// ── Feed ──
	setStr(&cfg.Feed.URL, "TRENDBOT_FEED_URL")
	setInt(&cfg.Feed.TradeBuffer, "TRENDBOT_FEED_TRADE_BUFFER")
	setDuration(&cfg.Feed.PingIdle, "TRENDBOT_FEED_PING_IDLE")
	setDuration(&cfg.Feed.InboundTimeout, "TRENDBOT_FEED_INBOUND_TIMEOUT")
	setDuration(&cfg.Feed.ReconnectBase, "TRENDBOT_FEED_RECONNECT_BASE")
	setInt(&cfg.Feed.MaxReconnects, "TRENDBOT_FEED_MAX_RECONNECTS")
	setDuration(&cfg.Feed.DialTimeout, "TRENDBOT_FEED_DIAL_TIMEOUT")

	// ── Supertrend ──
	setInt(&cfg.Supertrend.ATRPeriod, "TRENDBOT_SUPERTREND_ATR_PERIOD")
	setFloat64(&cfg.Supertrend.Multiplier, "TRENDBOT_SUPERTREND_MULTIPLIER")
	setFloat64(&cfg.Supertrend.StrongThreshold, "TRENDBOT_SUPERTREND_STRONG_THRESHOLD")
	setFloat64(&cfg.Supertrend.MinVolumeFactor, "TRENDBOT_SUPERTREND_MIN_VOLUME_FACTOR")

	// ── Risk ──
	setInt(&cfg.Risk.TradingHourStart, "TRENDBOT_RISK_TRADING_HOUR_START")
	setInt(&cfg.Risk.TradingHourEnd, "TRENDBOT_RISK_TRADING_HOUR_END")
	setInt(&cfg.Risk.MaxDailyTrades, "TRENDBOT_RISK_MAX_DAILY_TRADES")
	setFloat64(&cfg.Risk.MaxDailyLossPercent, "TRENDBOT_RISK_MAX_DAILY_LOSS_PERCENT")
	setFloat64(&cfg.Risk.MaxDrawdownPercent, "TRENDBOT_RISK_MAX_DRAWDOWN_PERCENT")
	setFloat64(&cfg.Risk.MinBalance, "TRENDBOT_RISK_MIN_BALANCE")
	setFloat64(&cfg.Risk.RiskPercent, "TRENDBOT_RISK_RISK_PERCENT")
	setFloat64(&cfg.Risk.Leverage, "TRENDBOT_RISK_LEVERAGE")
	setFloat64(&cfg.Risk.StopLossPercent, "TRENDBOT_RISK_STOP_LOSS_PERCENT")
	setFloat64(&cfg.Risk.MinOrderSize, "TRENDBOT_RISK_MIN_ORDER_SIZE")
	setFloat64(&cfg.Risk.TickSize, "TRENDBOT_RISK_TICK_SIZE")

	// ── Trader ──
	setDuration(&cfg.Trader.TickInterval, "TRENDBOT_TRADER_TICK_INTERVAL")
	setStr(&cfg.Trader.Timeframe, "TRENDBOT_TRADER_TIMEFRAME")
	setInt(&cfg.Trader.CandleLimit, "TRENDBOT_TRADER_CANDLE_LIMIT")
	setFloat64(&cfg.Trader.ImbalanceThreshold, "TRENDBOT_TRADER_IMBALANCE_THRESHOLD")
	setFloat64(&cfg.Trader.MaxSlippagePercent, "TRENDBOT_TRADER_MAX_SLIPPAGE_PERCENT")
	setBool(&cfg.Trader.TrailingStops, "TRENDBOT_TRADER_TRAILING_STOPS")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "TRENDBOT_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "TRENDBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "TRENDBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "TRENDBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "TRENDBOT_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "TRENDBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "TRENDBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "TRENDBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "TRENDBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "TRENDBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "TRENDBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRENDBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRENDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRENDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRENDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRENDBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRENDBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRENDBOT_REDIS_TLS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRENDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRENDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRENDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRENDBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRENDBOT_MODE")
	setStr(&cfg.LogLevel, "TRENDBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
