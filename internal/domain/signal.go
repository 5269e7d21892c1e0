package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TradeSignal is a validated trade intent produced by a strategy.
// Side, Price, Size and Reason are required; PostOnly and ReduceOnly
// are optional refinements. Construct through NewTradeSignal so that
// an invalid intent can never reach the submission path.
type TradeSignal struct {
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	Reason     string
	PostOnly   bool
	ReduceOnly bool
}

// NewTradeSignal builds a signal, rejecting malformed intents.
func NewTradeSignal(side Side, price, size decimal.Decimal, reason string) (*TradeSignal, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("trade signal: invalid side %q", side)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("trade signal: price must be positive, got %s", price)
	}
	if !size.IsPositive() {
		return nil, fmt.Errorf("trade signal: size must be positive, got %s", size)
	}
	if reason == "" {
		return nil, fmt.Errorf("trade signal: reason is required")
	}
	return &TradeSignal{Side: side, Price: price, Size: size, Reason: reason}, nil
}

// NotionalUSD is the dollar value of the intent.
func (s *TradeSignal) NotionalUSD() decimal.Decimal {
	return s.Price.Mul(s.Size)
}
