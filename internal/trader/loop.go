// Package trader runs the control loop that turns signals into orders.
package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/selimacar/trendbot/internal/domain"
	"github.com/selimacar/trendbot/internal/exchange"
)

// MarketData supplies the latest order book snapshot.
type MarketData interface {
	Snapshot() domain.MarketSnapshot
}

// SignalEngine recomputes the trend signal from candle history.
type SignalEngine interface {
	Update(candles []domain.Candle) (domain.TrendSignal, error)
}

// RiskGate approves entries and sizes them.
type RiskGate interface {
	CanTrade(ctx context.Context) (bool, string)
	SizePosition(ctx context.Context, side domain.OrderSide, entryPrice float64) (float64, float64, error)
	ComputeStop(side domain.OrderSide, entryPrice float64) float64
	RecordTradeOutcome(pnl float64)
}

// OrderManager owns entry, stop and close execution.
type OrderManager interface {
	PlaceEntry(ctx context.Context, side domain.OrderSide, amount, intendedPrice, stopPrice float64) (domain.Order, error)
	ModifyStop(ctx context.Context, newStopPrice float64) (domain.Order, error)
	ClosePosition(ctx context.Context, reason string) error
	CancelAll(ctx context.Context) error
	SyncFills(ctx context.Context) error
}

// Config tunes the control loop.
type Config struct {
	Symbol             string
	TickInterval       time.Duration // how often the loop runs
	Timeframe          string        // candle bin size fetched from the venue
	CandleLimit        int
	ImbalanceThreshold float64 // book imbalance beyond which an opposing entry is skipped
	MaxSlippagePercent float64 // expected-slippage level that draws a warning
	TrailingStops      bool    // ratchet the stop along the trend band
	MinStopMove        float64 // smallest improvement worth a stop replacement
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.Timeframe == "" {
		c.Timeframe = "1m"
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 100
	}
	if c.ImbalanceThreshold <= 0 {
		c.ImbalanceThreshold = 0.25
	}
	if c.MaxSlippagePercent <= 0 {
		c.MaxSlippagePercent = 0.5
	}
	if c.MinStopMove <= 0 {
		c.MinStopMove = 1
	}
}

// Trader is the single writer over the risk gate and the order manager.
// One iteration runs per tick; iteration errors are logged and the loop
// carries on at the next tick.
type Trader struct {
	cfg    Config
	feed   MarketData
	engine SignalEngine
	gate   RiskGate
	orders OrderManager
	ex     exchange.Exchange
	bus    domain.SignalBus
	cache  domain.SnapshotCache
	logger *slog.Logger

	lastStop float64 // price of the stop currently protecting the position
}

func New(cfg Config, feed MarketData, engine SignalEngine, gate RiskGate, orders OrderManager, ex exchange.Exchange, bus domain.SignalBus, cache domain.SnapshotCache, logger *slog.Logger) *Trader {
	cfg.applyDefaults()
	return &Trader{
		cfg:    cfg,
		feed:   feed,
		engine: engine,
		gate:   gate,
		orders: orders,
		ex:     ex,
		bus:    bus,
		cache:  cache,
		logger: logger.With(slog.String("component", "trader"), slog.String("symbol", cfg.Symbol)),
	}
}

// Run executes the control loop until ctx is cancelled.
func (t *Trader) Run(ctx context.Context) error {
	t.logger.Info("trader started",
		slog.Duration("tick", t.cfg.TickInterval),
		slog.String("timeframe", t.cfg.Timeframe))

	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("trader stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := t.Iterate(ctx); err != nil {
				t.logger.Error("iteration failed", slog.Any("error", err))
			}
		}
	}
}

// Iterate performs one full cycle: refresh the signal, manage the open
// position, and enter when the gate allows it.
func (t *Trader) Iterate(ctx context.Context) error {
	candles, err := t.ex.FetchOHLCV(ctx, t.cfg.Symbol, t.cfg.Timeframe, t.cfg.CandleLimit)
	if err != nil {
		return fmt.Errorf("trader: fetch candles: %w", err)
	}

	sig, err := t.engine.Update(candles)
	if err != nil {
		return fmt.Errorf("trader: update signal: %w", err)
	}
	t.publish(ctx, sig)

	// Reconcile tracked orders before acting so a stop fill since the
	// last tick is seen as flat, not as an open position.
	if err := t.orders.SyncFills(ctx); err != nil {
		t.logger.Warn("order sync failed", slog.Any("error", err))
	}

	pos, err := t.ex.FetchPosition(ctx, t.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("trader: fetch position: %w", err)
	}

	if pos != nil && pos.Open() {
		return t.managePosition(ctx, pos, sig)
	}
	return t.maybeEnter(ctx, sig)
}

// managePosition closes on a trend flip against the position and
// otherwise trails the stop along the trend band.
func (t *Trader) managePosition(ctx context.Context, pos *domain.Position, sig domain.TrendSignal) error {
	against := (pos.Side == domain.OrderSideBuy && sig.Direction == domain.TrendDown) ||
		(pos.Side == domain.OrderSideSell && sig.Direction == domain.TrendUp)
	if sig.Flipped && against {
		if err := t.orders.ClosePosition(ctx, "trend flip"); err != nil {
			return fmt.Errorf("trader: close on flip: %w", err)
		}
		t.gate.RecordTradeOutcome(pos.UnrealizedPnL)
		t.lastStop = 0
		return nil
	}

	if t.cfg.TrailingStops && !sig.Flipped {
		t.trailStop(ctx, pos, sig)
	}
	return nil
}

// trailStop moves the stop to the current trend band when that improves
// protection by at least MinStopMove. Failures are logged, not fatal; the
// existing stop stays in place.
func (t *Trader) trailStop(ctx context.Context, pos *domain.Position, sig domain.TrendSignal) {
	var target float64
	switch {
	case pos.Side == domain.OrderSideBuy && sig.Direction == domain.TrendUp:
		target = sig.LowerBand
	case pos.Side == domain.OrderSideSell && sig.Direction == domain.TrendDown:
		target = sig.UpperBand
	default:
		return
	}
	if math.IsNaN(target) || target <= 0 {
		return
	}

	current := t.lastStop
	if current == 0 {
		current = t.gate.ComputeStop(pos.Side, pos.EntryPrice)
	}
	improves := (pos.Side == domain.OrderSideBuy && target > current+t.cfg.MinStopMove) ||
		(pos.Side == domain.OrderSideSell && target < current-t.cfg.MinStopMove)
	if !improves {
		return
	}

	if _, err := t.orders.ModifyStop(ctx, target); err != nil {
		t.logger.Warn("trailing stop move failed",
			slog.Float64("target", target), slog.Any("error", err))
		return
	}
	t.lastStop = target
}

// maybeEnter opens a position when the signal confirms a fresh trend, the
// risk gate allows it, and the order book does not lean against the trade.
func (t *Trader) maybeEnter(ctx context.Context, sig domain.TrendSignal) error {
	if !sig.Actionable() || !sig.Confirmed {
		return nil
	}

	ok, reason := t.gate.CanTrade(ctx)
	if !ok {
		t.logger.Info("entry blocked", slog.String("reason", reason))
		return nil
	}

	side := sig.EntrySide()
	snap := t.feed.Snapshot()
	imb := snap.Imbalance()
	if (side == domain.OrderSideBuy && imb < -t.cfg.ImbalanceThreshold) ||
		(side == domain.OrderSideSell && imb > t.cfg.ImbalanceThreshold) {
		t.logger.Info("entry skipped on book imbalance",
			slog.String("side", string(side)), slog.Float64("imbalance", imb))
		return nil
	}

	price := t.entryPrice(side, snap, sig)
	size, stop, err := t.gate.SizePosition(ctx, side, price)
	if err != nil {
		return fmt.Errorf("trader: size position: %w", err)
	}

	if est := snap.EstimateSlippage(side, size, price); est > t.cfg.MaxSlippagePercent {
		t.logger.Warn("expected slippage above threshold",
			slog.Float64("expected_pct", est),
			slog.Float64("threshold_pct", t.cfg.MaxSlippagePercent))
	}

	order, err := t.orders.PlaceEntry(ctx, side, size, price, stop)
	if err != nil {
		return fmt.Errorf("trader: place entry: %w", err)
	}
	t.lastStop = stop
	t.logger.Info("entered position",
		slog.String("order_id", order.ID),
		slog.String("side", string(side)),
		slog.Float64("size", size),
		slog.Float64("strength", sig.Strength))
	return nil
}

// entryPrice takes the touch price from the book, falling back to the
// signal close when the book is empty.
func (t *Trader) entryPrice(side domain.OrderSide, snap domain.MarketSnapshot, sig domain.TrendSignal) float64 {
	if side == domain.OrderSideBuy {
		if ask := snap.BestAsk(); ask.Price > 0 {
			return ask.Price
		}
	} else {
		if bid := snap.BestBid(); bid.Price > 0 {
			return bid.Price
		}
	}
	return sig.Close
}

// publish pushes the fresh signal and ticker to the bus and cache.
// Both are best-effort.
func (t *Trader) publish(ctx context.Context, sig domain.TrendSignal) {
	if t.cache != nil {
		if err := t.cache.SetSignal(ctx, sig); err != nil {
			t.logger.Warn("signal cache update failed", slog.Any("error", err))
		}
		if tick := t.feed.Snapshot().Ticker; tick.LastPrice > 0 {
			if err := t.cache.SetTicker(ctx, tick); err != nil {
				t.logger.Warn("ticker cache update failed", slog.Any("error", err))
			}
		}
	}
	if t.bus != nil {
		payload, err := json.Marshal(sig)
		if err != nil {
			t.logger.Warn("signal marshal failed", slog.Any("error", err))
			return
		}
		if err := t.bus.Publish(ctx, "signal", payload); err != nil {
			t.logger.Warn("signal publish failed", slog.Any("error", err))
		}
	}
}
