package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateInMonitorMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresCredentialsForTrading(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key and api_secret")
}

func TestValidateRejectsBadStrengthWeights(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Supertrend.VolumeMax = 50 // 40 + 50 + 30 = 120
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strength weights must sum to 100")
}

func TestValidateRejectsPartialTelegram(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Notify.TelegramToken = "tok"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "monitor"

[bitmex]
symbol = "ETHUSD"

[risk]
max_daily_trades = 3

[trader]
tick_interval = "2s"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "ETHUSD", cfg.Bitmex.Symbol)
	assert.Equal(t, 3, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 2*time.Second, cfg.Trader.TickInterval.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Feed.TradeBuffer)
	assert.Equal(t, 70.0, cfg.Supertrend.StrongThreshold)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	t.Setenv("TRENDBOT_BITMEX_SYMBOL", "SOLUSD")
	t.Setenv("TRENDBOT_RISK_LEVERAGE", "10")
	t.Setenv("TRENDBOT_FEED_RECONNECT_BASE", "1s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "SOLUSD", cfg.Bitmex.Symbol)
	assert.Equal(t, 10.0, cfg.Risk.Leverage)
	assert.Equal(t, time.Second, cfg.Feed.ReconnectBase.Duration)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Bitmex.APISecret = "supersecret"
	cfg.Redis.Password = "hunter2"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Bitmex.APISecret)
	assert.Equal(t, "***", red.Redis.Password)
	// The original is untouched.
	assert.Equal(t, "supersecret", cfg.Bitmex.APISecret)
}
