package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/selimacar/trendbot/internal/trader"
)

// TradeMode starts the market-data feed and the trading control loop.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Feed.Run(ctx)
	})

	tr := a.newTrader(deps)
	g.Go(func() error {
		return tr.Run(ctx)
	})

	return g.Wait()
}

// MonitorMode streams market data and publishes signals without ever
// placing an order. Useful for watching a configuration before funding it.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Feed.Run(ctx)
	})

	g.Go(func() error {
		return a.runSignalWatch(ctx, deps)
	})

	return g.Wait()
}

// FullMode runs trading plus the periodic risk metrics reporter.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Feed.Run(ctx)
	})

	tr := a.newTrader(deps)
	g.Go(func() error {
		return tr.Run(ctx)
	})

	g.Go(func() error {
		return a.runMetricsReporter(ctx, deps)
	})

	return g.Wait()
}

func (a *App) newTrader(deps *Dependencies) *trader.Trader {
	return trader.New(trader.Config{
		Symbol:             a.cfg.Bitmex.Symbol,
		TickInterval:       a.cfg.Trader.TickInterval.Duration,
		Timeframe:          a.cfg.Trader.Timeframe,
		CandleLimit:        a.cfg.Trader.CandleLimit,
		ImbalanceThreshold: a.cfg.Trader.ImbalanceThreshold,
		MaxSlippagePercent: a.cfg.Trader.MaxSlippagePercent,
		TrailingStops:      a.cfg.Trader.TrailingStops,
		MinStopMove:        a.cfg.Trader.MinStopMove,
	}, deps.Feed, deps.Engine, deps.Gate, deps.Orders, deps.Exchange,
		deps.SignalBus, deps.SnapshotCache, a.logger)
}

// runSignalWatch recomputes and publishes the signal on the trader's tick
// without touching the order path.
func (a *App) runSignalWatch(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Trader.TickInterval.Duration
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			candles, err := deps.Exchange.FetchOHLCV(ctx, a.cfg.Bitmex.Symbol, a.cfg.Trader.Timeframe, a.cfg.Trader.CandleLimit)
			if err != nil {
				a.logger.Warn("candle fetch failed", slog.Any("error", err))
				continue
			}
			sig, err := deps.Engine.Update(candles)
			if err != nil {
				a.logger.Warn("signal update failed", slog.Any("error", err))
				continue
			}
			if deps.SnapshotCache != nil {
				if err := deps.SnapshotCache.SetSignal(ctx, sig); err != nil {
					a.logger.Warn("signal cache update failed", slog.Any("error", err))
				}
			}
			if deps.SignalBus != nil {
				if payload, err := json.Marshal(sig); err == nil {
					if err := deps.SignalBus.Publish(ctx, "signal", payload); err != nil {
						a.logger.Warn("signal publish failed", slog.Any("error", err))
					}
				}
			}
			a.logger.Info("signal",
				slog.String("direction", string(sig.Direction)),
				slog.Float64("strength", sig.Strength),
				slog.Bool("confirmed", sig.Confirmed),
				slog.Float64("close", sig.Close))
		}
	}
}

// runMetricsReporter publishes the risk gate's daily counters once a minute.
func (a *App) runMetricsReporter(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m := deps.Gate.Metrics(ctx)
			a.logger.Info("daily stats",
				slog.Int("trades", m.Trades),
				slog.Float64("realized_pnl", m.RealizedPnL),
				slog.Float64("daily_loss", m.DailyLoss),
				slog.Float64("max_drawdown", m.MaxDrawdown))
			if deps.SignalBus != nil {
				if payload, err := json.Marshal(m); err == nil {
					if err := deps.SignalBus.Publish(ctx, "metrics", payload); err != nil {
						a.logger.Warn("metrics publish failed", slog.Any("error", err))
					}
				}
			}
		}
	}
}
