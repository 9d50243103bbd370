// Package risk gates trade entries and sizes positions.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/selimacar/trendbot/internal/domain"
	"github.com/selimacar/trendbot/internal/exchange"
)

// Config holds the account-protection limits and sizing parameters.
type Config struct {
	Symbol string // reported in metrics; position projection is per symbol

	TradingHourStart int // inclusive, exchange-local hour
	TradingHourEnd   int // exclusive; may be below start to wrap midnight

	MaxDailyTrades      int
	MaxDailyLossPercent float64 // of the balance at the first trade of the day
	MaxDrawdownPercent  float64 // decline from the first balance of the day
	MinBalance          float64

	RiskPercent     float64 // equity fraction risked per trade
	Leverage        float64
	StopLossPercent float64
	MinOrderSize    float64
	TickSize        float64
}

// DefaultConfig trades around the clock and risks 1% per trade at 5x.
func DefaultConfig() Config {
	return Config{
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
	}
}

// Metrics is a point-in-time view of the gate: the open position, the
// account balance, and the daily counters.
type Metrics struct {
	Day          string  `json:"day"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	RealizedPnL  float64 `json:"realized_pnl"`
	DailyLoss    float64 `json:"daily_loss"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	PeakBalance  float64 `json:"peak_balance"`
	StartBalance float64 `json:"start_balance"`

	// Account and position projections; zero/nil when the exchange
	// queries fail or no position is open.
	Balance  exchange.Balance `json:"balance"`
	Position *domain.Position `json:"position,omitempty"`
}

// Gate decides whether a new entry is allowed and how large it may be.
// Counters reset at the first call on each new calendar day.
type Gate struct {
	cfg    Config
	ex     exchange.Exchange
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	day          time.Time
	trades       int
	wins         int
	losses       int
	realizedPnL  float64
	dailyLoss    float64 // sum of |pnl| over losing trades; wins never reduce it
	maxDrawdown  float64
	startBalance float64
	peakBalance  float64
}

func NewGate(cfg Config, ex exchange.Exchange, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		ex:     ex,
		logger: logger.With(slog.String("component", "risk")),
		now:    time.Now,
	}
}

// CanTrade runs the entry checks in order and returns the first blocking
// reason. A balance fetch failure blocks the trade rather than letting it
// through unchecked.
func (g *Gate) CanTrade(ctx context.Context) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()

	if !g.withinHours(g.now().UTC().Hour()) {
		return false, fmt.Sprintf("outside trading hours %d-%d", g.cfg.TradingHourStart, g.cfg.TradingHourEnd)
	}
	if g.trades >= g.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit %d reached", g.cfg.MaxDailyTrades)
	}

	bal, err := g.ex.FetchBalance(ctx)
	if err != nil {
		g.logger.Warn("balance fetch failed, blocking entry", slog.Any("error", err))
		return false, "balance unavailable"
	}
	if g.startBalance == 0 {
		g.startBalance = bal.Total
	}
	if bal.Total > g.peakBalance {
		g.peakBalance = bal.Total
	}

	if g.dailyLoss > 0 && g.startBalance > 0 {
		lossPct := g.dailyLoss / g.startBalance * 100
		if lossPct >= g.cfg.MaxDailyLossPercent {
			return false, fmt.Sprintf("daily loss %.1f%% at limit %.1f%%", lossPct, g.cfg.MaxDailyLossPercent)
		}
	}
	if g.startBalance > 0 {
		ddPct := (g.startBalance - bal.Total) / g.startBalance * 100
		if ddPct > g.maxDrawdown {
			g.maxDrawdown = ddPct
		}
		if ddPct >= g.cfg.MaxDrawdownPercent {
			return false, fmt.Sprintf("drawdown %.1f%% at limit %.1f%%", ddPct, g.cfg.MaxDrawdownPercent)
		}
	}
	if bal.Total < g.cfg.MinBalance {
		return false, fmt.Sprintf("balance %.2f below minimum %.2f", bal.Total, g.cfg.MinBalance)
	}
	return true, ""
}

// SizePosition returns the contract quantity for an entry at the given
// price together with its stop price. The size targets RiskPercent of free
// equity lost at the stop, scaled by leverage and clamped to the
// exchange's bounds. Zero distance between entry and stop is rejected.
func (g *Gate) SizePosition(ctx context.Context, side domain.OrderSide, entryPrice float64) (float64, float64, error) {
	if entryPrice <= 0 {
		return 0, 0, fmt.Errorf("risk: entry price %.2f not positive", entryPrice)
	}
	bal, err := g.ex.FetchBalance(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("risk: fetch balance: %w", err)
	}

	stop := g.ComputeStop(side, entryPrice)
	riskPerUnit := math.Abs(entryPrice - stop)
	if riskPerUnit == 0 {
		return 0, 0, fmt.Errorf("risk: stop equals entry at %.2f", entryPrice)
	}

	size := bal.Free * g.cfg.RiskPercent / 100 / riskPerUnit * g.cfg.Leverage
	maxSize := bal.Free * g.cfg.Leverage * 0.95
	if size > maxSize {
		size = maxSize
	}
	if size < g.cfg.MinOrderSize {
		size = g.cfg.MinOrderSize
	}
	return math.Floor(size), stop, nil
}

// ComputeStop places the stop StopLossPercent away from entry on the
// losing side, rounded to the tick size.
func (g *Gate) ComputeStop(side domain.OrderSide, entryPrice float64) float64 {
	pct := g.cfg.StopLossPercent / 100
	var stop float64
	if side == domain.OrderSideBuy {
		stop = entryPrice * (1 - pct)
	} else {
		stop = entryPrice * (1 + pct)
	}
	if g.cfg.TickSize > 0 {
		stop = math.Round(stop/g.cfg.TickSize) * g.cfg.TickSize
	}
	return stop
}

// RecordTradeOutcome counts a completed trade against the daily limits.
func (g *Gate) RecordTradeOutcome(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	g.trades++
	switch {
	case pnl > 0:
		g.wins++
	case pnl < 0:
		g.losses++
		g.dailyLoss += -pnl
	}
	g.realizedPnL += pnl
	g.logger.Info("trade outcome recorded",
		slog.Float64("pnl", pnl),
		slog.Int("daily_trades", g.trades),
		slog.Float64("daily_pnl", g.realizedPnL),
		slog.Float64("daily_loss", g.dailyLoss))
}

// Metrics snapshots the daily counters together with the account balance
// and open position. The exchange queries are best-effort; a failure
// leaves the projection fields zeroed.
func (g *Gate) Metrics(ctx context.Context) Metrics {
	bal, err := g.ex.FetchBalance(ctx)
	if err != nil {
		g.logger.Warn("metrics balance fetch failed", slog.Any("error", err))
	}
	var pos *domain.Position
	if g.cfg.Symbol != "" {
		pos, err = g.ex.FetchPosition(ctx, g.cfg.Symbol)
		if err != nil {
			g.logger.Warn("metrics position fetch failed", slog.Any("error", err))
			pos = nil
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	winRate := 0.0
	if decided := g.wins + g.losses; decided > 0 {
		winRate = float64(g.wins) / float64(decided) * 100
	}
	return Metrics{
		Day:          g.day.Format("2006-01-02"),
		Trades:       g.trades,
		Wins:         g.wins,
		Losses:       g.losses,
		WinRate:      winRate,
		RealizedPnL:  g.realizedPnL,
		DailyLoss:    g.dailyLoss,
		MaxDrawdown:  g.maxDrawdown,
		PeakBalance:  g.peakBalance,
		StartBalance: g.startBalance,
		Balance:      bal,
		Position:     pos,
	}
}

func (g *Gate) withinHours(hour int) bool {
	start, end := g.cfg.TradingHourStart, g.cfg.TradingHourEnd
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	// Window wraps midnight, e.g. 22-6.
	return hour >= start || hour < end
}

func (g *Gate) rollDayLocked() {
	today := g.now().UTC().Truncate(24 * time.Hour)
	if today.Equal(g.day) {
		return
	}
	if !g.day.IsZero() {
		g.logger.Info("daily counters reset",
			slog.String("day", today.Format("2006-01-02")),
			slog.Int("trades", g.trades),
			slog.Float64("realized_pnl", g.realizedPnL))
	}
	g.day = today
	g.trades = 0
	g.wins = 0
	g.losses = 0
	g.realizedPnL = 0
	g.dailyLoss = 0
	g.maxDrawdown = 0
	g.startBalance = 0
}
