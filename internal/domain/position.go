package domain

import "github.com/shopspring/decimal"

// Position is a single open position reported by the exchange.
// There is at most one per market; a flat market has no Position at all.
// Size is always a non-negative magnitude paired with Side.
type Position struct {
	MarketID         int
	Side             Side
	Size             decimal.Decimal
	EntryPrice       decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	RealizedPnL      decimal.Decimal
	LiquidationPrice decimal.Decimal // zero when the exchange reports none
}

// NotionalValue is the dollar value of the position at entry.
func (p *Position) NotionalValue() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}
