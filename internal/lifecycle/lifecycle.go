// Package lifecycle places entry and stop orders and tracks them until the
// position is closed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/selimacar/trendbot/internal/domain"
	"github.com/selimacar/trendbot/internal/exchange"
	"github.com/selimacar/trendbot/internal/notify"
)

const persistTimeout = 5 * time.Second

// Stores groups the optional persistence sinks. Any field may be nil;
// persistence is fire-and-forget and never blocks the trading path.
type Stores struct {
	Orders    domain.OrderStore
	Trades    domain.TradeStore
	Positions domain.PositionStore
	Audit     domain.AuditStore
}

// Manager owns the order lifecycle for a single symbol: it places the
// entry with its protective stop, replaces stops, and closes positions.
// All exchange calls are synchronous; persistence and notifications are
// best-effort.
type Manager struct {
	symbol   string
	ex       exchange.Exchange
	stores   Stores
	notifier *notify.Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]domain.Order
	entry  *domain.Order
}

func NewManager(symbol string, ex exchange.Exchange, stores Stores, notifier *notify.Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		symbol:   symbol,
		ex:       ex,
		stores:   stores,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "lifecycle"), slog.String("symbol", symbol)),
		active:   make(map[string]domain.Order),
	}
}

// PlaceEntry opens a position with a market order and immediately protects
// it with a close-on-trigger stop. Stale orders are cancelled first. If
// the stop cannot be placed the entry is flattened again so a failure
// never leaves an unprotected position.
func (m *Manager) PlaceEntry(ctx context.Context, side domain.OrderSide, amount, intendedPrice, stopPrice float64) (domain.Order, error) {
	if amount <= 0 {
		return domain.Order{}, fmt.Errorf("lifecycle: %w: amount %.4f", domain.ErrInvalidOrder, amount)
	}

	if err := m.CancelAll(ctx); err != nil {
		m.logger.Warn("pre-entry cancel failed", slog.Any("error", err))
	}

	role := domain.OrderRoleEntryLong
	if side == domain.OrderSideSell {
		role = domain.OrderRoleEntryShort
	}

	entry, err := m.ex.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:   m.symbol,
		Type:     domain.OrderTypeMarket,
		Side:     side,
		Amount:   amount,
		ClientID: uuid.NewString(),
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("lifecycle: place entry: %w", err)
	}
	entry.Role = role
	entry.IntendedPrice = intendedPrice

	stop, err := m.ex.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:         m.symbol,
		Type:           domain.OrderTypeStopMarket,
		Side:           side.Opposite(),
		Amount:         amount,
		StopPrice:      stopPrice,
		CloseOnTrigger: true,
		ClientID:       uuid.NewString(),
	})
	if err != nil {
		m.flatten(ctx, side, amount)
		return domain.Order{}, fmt.Errorf("lifecycle: place stop: %w", err)
	}
	stop.Role = domain.OrderRoleStopLoss
	stop.IntendedPrice = stopPrice

	m.mu.Lock()
	m.active[entry.ID] = entry
	m.active[stop.ID] = stop
	m.entry = &entry
	m.mu.Unlock()

	m.logger.Info("entry placed",
		slog.String("order_id", entry.ID),
		slog.String("side", string(side)),
		slog.Float64("amount", amount),
		slog.Float64("intended_price", intendedPrice),
		slog.Float64("stop_price", stopPrice))

	m.persistOrder(entry)
	m.persistOrder(stop)
	m.audit("entry_placed", map[string]any{
		"order_id": entry.ID, "side": string(side),
		"amount": amount, "stop_price": stopPrice,
	})
	m.notify(ctx, notify.EventEntry, "Entry placed",
		fmt.Sprintf("%s %s %.0f @ ~%.2f, stop %.2f", m.symbol, side, amount, intendedPrice, stopPrice))
	return entry, nil
}

// ModifyStop replaces the protective stop with one at newStopPrice. The
// replacement is placed before the old stop is cancelled so the position
// is never without protection. A failed cancel of the old stop is logged
// and retried on the next CancelAll.
func (m *Manager) ModifyStop(ctx context.Context, newStopPrice float64) (domain.Order, error) {
	m.mu.Lock()
	old, entry := m.findStopLocked(), m.entry
	m.mu.Unlock()
	if old == nil || entry == nil {
		return domain.Order{}, fmt.Errorf("lifecycle: modify stop: %w", domain.ErrNotFound)
	}

	replacement, err := m.ex.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:         m.symbol,
		Type:           domain.OrderTypeStopMarket,
		Side:           old.Side,
		Amount:         old.Amount,
		StopPrice:      newStopPrice,
		CloseOnTrigger: true,
		ClientID:       uuid.NewString(),
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("lifecycle: place replacement stop: %w", err)
	}
	replacement.Role = domain.OrderRoleStopLoss
	replacement.IntendedPrice = newStopPrice

	m.mu.Lock()
	m.active[replacement.ID] = replacement
	m.mu.Unlock()

	if err := m.ex.CancelOrder(ctx, old.ID, m.symbol); err != nil {
		m.logger.Warn("old stop cancel failed",
			slog.String("order_id", old.ID), slog.Any("error", err))
	} else {
		m.mu.Lock()
		delete(m.active, old.ID)
		m.mu.Unlock()
		m.persistStatus(old.ID, domain.OrderStatusCancelled)
	}

	m.logger.Info("stop replaced",
		slog.String("old_id", old.ID),
		slog.String("new_id", replacement.ID),
		slog.Float64("old_price", old.StopPrice),
		slog.Float64("new_price", newStopPrice))
	m.persistOrder(replacement)
	m.notify(ctx, notify.EventStopMoved, "Stop moved",
		fmt.Sprintf("%s stop %.2f -> %.2f", m.symbol, old.StopPrice, newStopPrice))
	return replacement, nil
}

// ClosePosition flattens the open position with a market order and cancels
// the remaining stops. Returns domain.ErrNoPosition when flat.
func (m *Manager) ClosePosition(ctx context.Context, reason string) error {
	pos, err := m.ex.FetchPosition(ctx, m.symbol)
	if err != nil {
		return fmt.Errorf("lifecycle: fetch position: %w", err)
	}
	if pos == nil || !pos.Open() {
		return domain.ErrNoPosition
	}

	side := domain.OrderSideSell
	if pos.Side == domain.OrderSideSell {
		side = domain.OrderSideBuy
	}
	order, err := m.ex.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:   m.symbol,
		Type:     domain.OrderTypeMarket,
		Side:     side,
		Amount:   pos.Size,
		ClientID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("lifecycle: close position: %w", err)
	}

	if err := m.CancelAll(ctx); err != nil {
		m.logger.Warn("post-close cancel failed", slog.Any("error", err))
	}

	m.mu.Lock()
	entry := m.entry
	m.entry = nil
	m.mu.Unlock()

	m.logger.Info("position closed",
		slog.String("order_id", order.ID),
		slog.String("reason", reason),
		slog.Float64("size", pos.Size),
		slog.Float64("pnl", pos.UnrealizedPnL))

	if m.stores.Positions != nil {
		closed := domain.ClosedPosition{
			ID:         uuid.NewString(),
			Symbol:     m.symbol,
			Side:       pos.Side,
			Size:       pos.Size,
			EntryPrice: pos.EntryPrice,
			ExitPrice:  pos.MarkPrice,
			PnL:        pos.UnrealizedPnL,
			ClosedAt:   time.Now().UTC(),
		}
		if entry != nil {
			closed.OpenedAt = entry.CreatedAt
		}
		m.fireAndForget("closed position", func(ctx context.Context) error {
			return m.stores.Positions.Create(ctx, closed)
		})
	}
	m.audit("position_closed", map[string]any{
		"reason": reason, "size": pos.Size, "pnl": pos.UnrealizedPnL,
	})
	m.notify(ctx, notify.EventExit, "Position closed",
		fmt.Sprintf("%s %s %.0f, pnl %.4f (%s)", m.symbol, pos.Side, pos.Size, pos.UnrealizedPnL, reason))
	return nil
}

// CancelAll cancels every open order for the symbol. Local tracking is
// cleared even when the exchange call fails so the next cycle starts from
// a known state.
func (m *Manager) CancelAll(ctx context.Context) error {
	err := m.ex.CancelAllOrders(ctx, m.symbol)

	m.mu.Lock()
	cancelled := make([]string, 0, len(m.active))
	for id := range m.active {
		cancelled = append(cancelled, id)
	}
	m.active = make(map[string]domain.Order)
	m.mu.Unlock()

	for _, id := range cancelled {
		m.persistStatus(id, domain.OrderStatusCancelled)
	}
	if err != nil {
		return fmt.Errorf("lifecycle: cancel all: %w", err)
	}
	return nil
}

// RecordFill measures slippage for a filled order against its intended
// price and persists the execution. The order leaves the active set; a
// filled stop also ends the entry cycle since the position is flat.
func (m *Manager) RecordFill(ctx context.Context, order domain.Order, executedPrice float64) domain.SlippageSample {
	sample := domain.SlippageSample{
		OrderID:       order.ID,
		Role:          order.Role,
		IntendedPrice: order.IntendedPrice,
		ExecutedPrice: executedPrice,
		Timestamp:     time.Now().UTC(),
	}
	if order.IntendedPrice > 0 {
		sample.Slippage = math.Abs(executedPrice - order.IntendedPrice)
		sample.SlippagePercent = sample.Slippage / order.IntendedPrice * 100
	}

	m.mu.Lock()
	delete(m.active, order.ID)
	if order.Role == domain.OrderRoleStopLoss {
		m.entry = nil
	}
	m.mu.Unlock()

	m.logger.Info("fill recorded",
		slog.String("order_id", order.ID),
		slog.String("role", string(order.Role)),
		slog.Float64("executed_price", executedPrice),
		slog.Float64("slippage_pct", sample.SlippagePercent))

	m.persistStatus(order.ID, domain.OrderStatusFilled)
	if m.stores.Trades != nil {
		fill := domain.TradeFill{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			Symbol:          order.Symbol,
			Side:            order.Side,
			Role:            order.Role,
			Price:           executedPrice,
			Amount:          order.Amount,
			SlippagePercent: sample.SlippagePercent,
			ExecutedAt:      sample.Timestamp,
		}
		m.fireAndForget("trade fill", func(ctx context.Context) error {
			return m.stores.Trades.Create(ctx, fill)
		})
	}
	return sample
}

// SyncFills reconciles the tracked orders against the exchange. Fills are
// recorded at the exchange-reported average price; cancelled and rejected
// orders are dropped from tracking. Orders the exchange no longer knows
// are dropped silently. Returns the first query error after trying every
// order.
func (m *Manager) SyncFills(ctx context.Context) error {
	m.mu.Lock()
	tracked := make([]domain.Order, 0, len(m.active))
	for _, o := range m.active {
		tracked = append(tracked, o)
	}
	m.mu.Unlock()

	var firstErr error
	for _, o := range tracked {
		current, err := m.ex.FetchOrder(ctx, o.ID, m.symbol)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				m.mu.Lock()
				delete(m.active, o.ID)
				m.mu.Unlock()
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		switch current.Status {
		case domain.OrderStatusFilled:
			m.RecordFill(ctx, o, current.ExecutedPrice)
			if o.Role == domain.OrderRoleStopLoss {
				m.notify(ctx, notify.EventExit, "Stop filled",
					fmt.Sprintf("%s stop %.2f filled at %.2f", m.symbol, o.StopPrice, current.ExecutedPrice))
			}
		case domain.OrderStatusCancelled, domain.OrderStatusRejected:
			m.mu.Lock()
			delete(m.active, o.ID)
			m.mu.Unlock()
			m.persistStatus(o.ID, current.Status)
		}
	}
	if firstErr != nil {
		return fmt.Errorf("lifecycle: sync fills: %w", firstErr)
	}
	return nil
}

// ActiveOrders returns a copy of the tracked open orders.
func (m *Manager) ActiveOrders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, o)
	}
	return out
}

// HasEntry reports whether an entry cycle is being tracked.
func (m *Manager) HasEntry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry != nil
}

func (m *Manager) findStopLocked() *domain.Order {
	for _, o := range m.active {
		if o.Role == domain.OrderRoleStopLoss {
			return &o
		}
	}
	return nil
}

// flatten undoes a just-placed entry after a stop placement failure.
func (m *Manager) flatten(ctx context.Context, side domain.OrderSide, amount float64) {
	_, err := m.ex.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:   m.symbol,
		Type:     domain.OrderTypeMarket,
		Side:     side.Opposite(),
		Amount:   amount,
		ClientID: uuid.NewString(),
	})
	if err != nil {
		m.logger.Error("flatten after failed stop placement",
			slog.Any("error", err))
		m.notify(ctx, notify.EventError, "Unprotected position",
			fmt.Sprintf("%s entry could not be flattened after stop failure: %v", m.symbol, err))
		return
	}
	if err := m.CancelAll(ctx); err != nil {
		m.logger.Warn("cancel after flatten failed", slog.Any("error", err))
	}
}

func (m *Manager) persistOrder(order domain.Order) {
	if m.stores.Orders == nil {
		return
	}
	m.fireAndForget("order", func(ctx context.Context) error {
		return m.stores.Orders.Create(ctx, order)
	})
}

func (m *Manager) persistStatus(id string, status domain.OrderStatus) {
	if m.stores.Orders == nil {
		return
	}
	m.fireAndForget("order status", func(ctx context.Context) error {
		return m.stores.Orders.UpdateStatus(ctx, id, status)
	})
}

func (m *Manager) audit(event string, detail map[string]any) {
	if m.stores.Audit == nil {
		return
	}
	m.fireAndForget("audit event", func(ctx context.Context) error {
		return m.stores.Audit.Log(ctx, event, detail)
	})
}

func (m *Manager) fireAndForget(what string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.logger.Warn("persist failed", slog.String("what", what), slog.Any("error", err))
		}
	}()
}

func (m *Manager) notify(ctx context.Context, event notify.Event, title, body string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(ctx, notify.Message{Event: event, Title: title, Body: body})
}
