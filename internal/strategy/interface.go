// Package strategy contains the trading strategies and the shared state
// machinery (cooldown gating, performance tracking) they build on.
package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"scalper_go/internal/domain"
)

// Strategy is the interface every trading strategy implements. The
// supervisor calls OnOrderBookUpdate with fresh depth, then Evaluate for
// a trade intent; a nil signal with a nil error means "nothing to do".
type Strategy interface {
	Name() string
	MarketID() int

	// OnOrderBookUpdate hands the strategy a fresh depth snapshot.
	OnOrderBookUpdate(ob *domain.OrderBook)

	// Evaluate returns a trade intent or nil.
	Evaluate(ctx context.Context) (*domain.TradeSignal, error)

	// IsEnabled folds the manual enabled flag and cooldown state;
	// consumed before every evaluation cycle.
	IsEnabled() bool

	// RecordTradeResult feeds a realized trade outcome back into the
	// strategy's loss/cooldown tracking.
	RecordTradeResult(pnl decimal.Decimal)

	// Cleanup cancels the strategy's own resting orders.
	Cleanup(ctx context.Context)

	Stats() Stats
}

// Config carries the trading knobs shared by all strategies.
type Config struct {
	MaxPositionUSD  decimal.Decimal
	DefaultLeverage decimal.Decimal
	RiskPerTradePct decimal.Decimal

	MinSpreadBps    decimal.Decimal
	TargetProfitBps decimal.Decimal

	MMSpreadBps    decimal.Decimal
	MMOrderSizeUSD decimal.Decimal

	OrderRefreshInterval time.Duration

	MaxConsecutiveLosses int
	CooldownDuration     time.Duration
}

// Stats summarizes a strategy's performance for status reporting.
type Stats struct {
	Name              string
	Trades            int
	Wins              int
	Losses            int
	TotalPnL          decimal.Decimal
	WinRate           decimal.Decimal
	ConsecutiveLosses int
	InCooldown        bool
}
