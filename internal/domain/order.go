package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderRole identifies what an active order is for within one trading cycle.
type OrderRole string

const (
	OrderRoleEntryLong  OrderRole = "entry_long"
	OrderRoleEntryShort OrderRole = "entry_short"
	OrderRoleStopLoss   OrderRole = "stop_loss"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
)

// OrderStatus tracks the exchange-reported order state.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is one exchange order tracked by the lifecycle layer. ID is assigned
// by the exchange and treated as an opaque string. IntendedPrice is the price
// the strategy wanted; the fill price is compared against it for slippage.
type Order struct {
	ID            string
	Symbol        string
	Role          OrderRole
	Side          OrderSide
	Type          OrderType
	Amount        float64
	IntendedPrice float64
	StopPrice     float64
	ExecutedPrice float64 // average fill price, set once the exchange reports a fill
	Status        OrderStatus
	CreatedAt     time.Time
}

// SlippageSample is one measured intended-versus-executed price difference.
type SlippageSample struct {
	OrderID         string
	Role            OrderRole
	IntendedPrice   float64
	ExecutedPrice   float64
	Slippage        float64
	SlippagePercent float64
	Timestamp       time.Time
}
