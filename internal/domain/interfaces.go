package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountSnapshot is the exchange-reported truth for the trading identity.
type AccountSnapshot struct {
	Equity     decimal.Decimal
	Positions  []Position
	OpenOrders []Order
}

// OrderRequest carries the parameters of a new order submission.
type OrderRequest struct {
	MarketID   int
	Side       Side
	Type       OrderType
	Price      decimal.Decimal // ignored for market orders
	Size       decimal.Decimal
	PostOnly   bool
	ReduceOnly bool
}

// Exchange is the order-mutating capability of the exchange collaborator.
// Every mutating call carries the sequencing token acquired for that
// attempt; tokens must never be reused across attempts. Calls may fail
// with a transport error, a permanent rejection, or a transient ordering
// conflict, distinguished via the ExchangeError classification.
type Exchange interface {
	AccountInfo(ctx context.Context) (*AccountSnapshot, error)
	SubmitLimitOrder(ctx context.Context, token uint64, req OrderRequest) (orderID string, err error)
	SubmitMarketOrder(ctx context.Context, token uint64, req OrderRequest) (orderID string, err error)
	CancelOrder(ctx context.Context, token uint64, orderID string, marketID int) error
	CancelAllOrders(ctx context.Context, token uint64, marketID int) error
	OpenOrders(ctx context.Context) ([]Order, error)
}

// TokenSource hands out fresh sequencing tokens for order-mutating calls.
type TokenSource interface {
	NextToken(ctx context.Context) (uint64, error)
}

// MarketFeed is the read-only market data capability. Reads are not
// synchronized against in-flight submissions and may run concurrently.
type MarketFeed interface {
	OrderBook(ctx context.Context, marketID, depth int) (*OrderBook, error)
	Markets(ctx context.Context) ([]MarketInfo, error)
}
