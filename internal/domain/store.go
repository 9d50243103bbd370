package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// OrderStore persists an append-only record of every order placed. The core
// calls it fire-and-forget after each lifecycle event.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Order, error)
}

// ClosedPosition is a completed trade cycle written on position close.
type ClosedPosition struct {
	ID         string
	Symbol     string
	Side       OrderSide
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// PositionStore persists closed positions for external audit/reporting.
type PositionStore interface {
	Create(ctx context.Context, pos ClosedPosition) error
	ListRecent(ctx context.Context, opts ListOpts) ([]ClosedPosition, error)
}

// TradeFill is one recorded execution with its measured slippage.
type TradeFill struct {
	ID              string
	OrderID         string
	Symbol          string
	Side            OrderSide
	Role            OrderRole
	Price           float64
	Amount          float64
	SlippagePercent float64
	ExecutedAt      time.Time
}

// TradeStore persists executions.
type TradeStore interface {
	Create(ctx context.Context, fill TradeFill) error
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeFill, error)
}

// AuditStore persists an append-only operational event log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// SignalBus publishes core events (signals, ticker updates, lifecycle
// events) to external consumers such as the dashboard and the chat bot.
type SignalBus interface {
	Publish(ctx context.Context, event string, payload []byte) error
}

// SnapshotCache holds the latest signal and ticker for pull-style consumers.
type SnapshotCache interface {
	SetSignal(ctx context.Context, sig TrendSignal) error
	SetTicker(ctx context.Context, tick Ticker) error
}
