// Package exchange defines the synchronous query/trade surface the core
// uses to talk to a derivatives venue. Implementations live in
// sub-packages (see bitmex).
package exchange

import (
	"context"

	"github.com/selimacar/trendbot/internal/domain"
)

// Balance is the account balance in the settlement currency.
type Balance struct {
	Free  float64
	Used  float64
	Total float64
}

// OrderRequest describes one order to submit.
type OrderRequest struct {
	Symbol         string
	Type           domain.OrderType
	Side           domain.OrderSide
	Amount         float64
	Price          float64 // limit price, for limit orders
	StopPrice      float64 // trigger price, for stop_market orders
	CloseOnTrigger bool    // stop closes the position instead of opening one
	ClientID       string  // client-assigned correlation id
}

// Exchange is the venue contract: balance/position/candle queries plus
// order placement and cancellation. All calls are synchronous and bounded
// by the transport's timeout; callers treat failures as retryable at the
// next control-loop tick.
type Exchange interface {
	FetchBalance(ctx context.Context) (Balance, error)
	FetchPosition(ctx context.Context, symbol string) (*domain.Position, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
	FetchOrder(ctx context.Context, id, symbol string) (domain.Order, error)
	CreateOrder(ctx context.Context, req OrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	CancelAllOrders(ctx context.Context, symbol string) error
}
