package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderBookLevel is a single price level.
type OrderBookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a depth snapshot for one market, bids and asks sorted
// best-first.
type OrderBook struct {
	MarketID   int
	Bids       []OrderBookLevel
	Asks       []OrderBookLevel
	LastUpdate time.Time
}

// BestBid returns the highest bid, if any.
func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(ob.Bids) == 0 {
		return decimal.Zero, false
	}
	return ob.Bids[0].Price, true
}

// BestAsk returns the lowest ask, if any.
func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(ob.Asks) == 0 {
		return decimal.Zero, false
	}
	return ob.Asks[0].Price, true
}

// MidPrice is the midpoint between best bid and best ask.
func (ob *OrderBook) MidPrice() (decimal.Decimal, bool) {
	bid, okB := ob.BestBid()
	ask, okA := ob.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Spread is best ask minus best bid.
func (ob *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, okB := ob.BestBid()
	ask, okA := ob.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// SpreadBps is the spread relative to mid price in basis points.
func (ob *OrderBook) SpreadBps() (decimal.Decimal, bool) {
	spread, okS := ob.Spread()
	mid, okM := ob.MidPrice()
	if !okS || !okM || !mid.IsPositive() {
		return decimal.Zero, false
	}
	return spread.Div(mid).Mul(decimal.NewFromInt(10000)), true
}

const liquidityDepth = 5

// BidLiquidity sums size over the top levels of the bid side.
func (ob *OrderBook) BidLiquidity() decimal.Decimal {
	return sumLevels(ob.Bids)
}

// AskLiquidity sums size over the top levels of the ask side.
func (ob *OrderBook) AskLiquidity() decimal.Decimal {
	return sumLevels(ob.Asks)
}

func sumLevels(levels []OrderBookLevel) decimal.Decimal {
	total := decimal.Zero
	for i, lvl := range levels {
		if i >= liquidityDepth {
			break
		}
		total = total.Add(lvl.Size)
	}
	return total
}

// Imbalance is (bidLiquidity - askLiquidity) / total over the top levels.
// Positive means more resting bids than asks.
func (ob *OrderBook) Imbalance() decimal.Decimal {
	bid := ob.BidLiquidity()
	ask := ob.AskLiquidity()
	total := bid.Add(ask)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return bid.Sub(ask).Div(total)
}

// MarketInfo is static metadata for one perpetual market.
type MarketInfo struct {
	MarketID     int
	Symbol       string
	TickSize     decimal.Decimal
	MinOrderSize decimal.Decimal
	FundingRate  decimal.Decimal
	MarkPrice    decimal.Decimal
	Volume24h    decimal.Decimal
}
