package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/selimacar/trendbot/internal/cache/redis"
	"github.com/selimacar/trendbot/internal/config"
	"github.com/selimacar/trendbot/internal/domain"
	"github.com/selimacar/trendbot/internal/exchange"
	"github.com/selimacar/trendbot/internal/exchange/bitmex"
	"github.com/selimacar/trendbot/internal/feed"
	"github.com/selimacar/trendbot/internal/lifecycle"
	"github.com/selimacar/trendbot/internal/notify"
	"github.com/selimacar/trendbot/internal/risk"
	"github.com/selimacar/trendbot/internal/signal"
	"github.com/selimacar/trendbot/internal/store/postgres"
)

const (
	mainnetWsURL = "wss://ws.bitmex.com/realtime"
	testnetWsURL = "wss://ws.testnet.bitmex.com/realtime"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Exchange exchange.Exchange
	Feed     *feed.Conn
	Engine   *signal.Engine
	Gate     *risk.Gate
	Orders   *lifecycle.Manager

	// Optional persistence and messaging; nil when disabled.
	OrderStore    domain.OrderStore
	PositionStore domain.PositionStore
	TradeStore    domain.TradeStore
	AuditStore    domain.AuditStore
	SignalBus     domain.SignalBus
	SnapshotCache domain.SnapshotCache

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (optional) ---
	if cfg.Database.Enabled {
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		if cfg.Database.RunMigrations {
			if err := postgres.Migrate(ctx, pool); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		rdb, err := redis.Dial(ctx, redis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })

		deps.SignalBus = redis.NewSignalBus(rdb, "trendbot")
		deps.SnapshotCache = redis.NewSnapshotCache(rdb, "trendbot")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		events := make([]notify.Event, 0, len(cfg.Notify.Events))
		for _, e := range cfg.Notify.Events {
			events = append(events, notify.Event(e))
		}
		deps.Notifier = notify.New(logger, senders, notify.WithEvents(events...))
	}

	// --- Exchange client ---
	deps.Exchange = bitmex.NewClient(bitmex.ClientConfig{
		APIKey:    cfg.Bitmex.APIKey,
		APISecret: cfg.Bitmex.APISecret,
		Testnet:   cfg.Bitmex.Testnet,
		BaseURL:   cfg.Bitmex.BaseURL,
	})

	// --- Market-data feed ---
	wsURL := cfg.Feed.URL
	if wsURL == "" {
		wsURL = mainnetWsURL
		if cfg.Bitmex.Testnet {
			wsURL = testnetWsURL
		}
	}
	onFatal := func(err error) {
		logger.Error("market data feed gave up reconnecting", slog.Any("error", err))
		if deps.Notifier != nil {
			deps.Notifier.Notify(context.Background(), notify.Message{
				Event: notify.EventError,
				Title: "Feed down",
				Body:  fmt.Sprintf("reconnect attempts exhausted: %v", err),
			})
		}
	}
	deps.Feed = feed.New(feed.Config{
		URL:            wsURL,
		Symbol:         cfg.Bitmex.Symbol,
		APIKey:         cfg.Bitmex.APIKey,
		APISecret:      cfg.Bitmex.APISecret,
		TradeBuffer:    cfg.Feed.TradeBuffer,
		PingIdle:       cfg.Feed.PingIdle.Duration,
		InboundTimeout: cfg.Feed.InboundTimeout.Duration,
		ReconnectBase:  cfg.Feed.ReconnectBase.Duration,
		MaxReconnects:  cfg.Feed.MaxReconnects,
		DialTimeout:    cfg.Feed.DialTimeout.Duration,
	}, onFatal, logger)

	// --- Core ---
	deps.Engine = signal.NewEngine(signal.Config{
		ATRPeriod:         cfg.Supertrend.ATRPeriod,
		Multiplier:        cfg.Supertrend.Multiplier,
		DurationPerCandle: cfg.Supertrend.DurationPerCandle,
		DurationMax:       cfg.Supertrend.DurationMax,
		VolumeMax:         cfg.Supertrend.VolumeMax,
		MomentumMax:       cfg.Supertrend.MomentumMax,
		StrongThreshold:   cfg.Supertrend.StrongThreshold,
		MinVolumeFactor:   cfg.Supertrend.MinVolumeFactor,
		RSIPeriod:         cfg.Supertrend.RSIPeriod,
		ROCPeriod:         cfg.Supertrend.ROCPeriod,
		VolumeMAPeriod:    cfg.Supertrend.VolumeMAPeriod,
		VolatilityWindow:  cfg.Supertrend.VolatilityWindow,
	}, logger)

	deps.Gate = risk.NewGate(risk.Config{
		Symbol:              cfg.Bitmex.Symbol,
		TradingHourStart:    cfg.Risk.TradingHourStart,
		TradingHourEnd:      cfg.Risk.TradingHourEnd,
		MaxDailyTrades:      cfg.Risk.MaxDailyTrades,
		MaxDailyLossPercent: cfg.Risk.MaxDailyLossPercent,
		MaxDrawdownPercent:  cfg.Risk.MaxDrawdownPercent,
		MinBalance:          cfg.Risk.MinBalance,
		RiskPercent:         cfg.Risk.RiskPercent,
		Leverage:            cfg.Risk.Leverage,
		StopLossPercent:     cfg.Risk.StopLossPercent,
		MinOrderSize:        cfg.Risk.MinOrderSize,
		TickSize:            cfg.Risk.TickSize,
	}, deps.Exchange, logger)

	deps.Orders = lifecycle.NewManager(cfg.Bitmex.Symbol, deps.Exchange, lifecycle.Stores{
		Orders:    deps.OrderStore,
		Trades:    deps.TradeStore,
		Positions: deps.PositionStore,
		Audit:     deps.AuditStore,
	}, deps.Notifier, logger)

	return deps, cleanup, nil
}
