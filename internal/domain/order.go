package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side that closes a position held on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType distinguishes limit from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the lifecycle state of an order.
//
// Transitions are monotonic:
//
//	pending -> open -> {filled | partially_filled -> filled, cancelled}
//	pending -> rejected
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// Order is a working or finished order tracked by the ledger.
// The ID is exchange-assigned, or a locally-generated placeholder
// (prefix "local-") until the exchange reports its own identifier.
type Order struct {
	ID         string
	MarketID   int
	Side       Side
	Type       OrderType
	Price      decimal.Decimal // zero for market orders
	Size       decimal.Decimal
	FilledSize decimal.Decimal
	Status     OrderStatus
	Strategy   string
	PostOnly   bool
	ReduceOnly bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsActive reports whether the order is still working on the exchange.
func (o *Order) IsActive() bool {
	return !o.Status.Terminal()
}

// RemainingSize is the unfilled portion of the order.
func (o *Order) RemainingSize() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// FillPct returns the filled percentage (0-100).
func (o *Order) FillPct() decimal.Decimal {
	if o.Size.IsPositive() {
		return o.FilledSize.Div(o.Size).Mul(decimal.NewFromInt(100))
	}
	return decimal.Zero
}
