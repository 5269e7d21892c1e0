package strategy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"scalper_go/internal/domain"
	"scalper_go/internal/ledger"
)

var (
	hundred         = decimal.NewFromInt(100)
	riskBaselineUSD = decimal.NewFromInt(100)
	minOrderUSD     = decimal.NewFromInt(15)
	sizeDecimals    = int32(4)
)

// Base holds the state common to all strategies: the latest book, the
// trade ledger handle, the cooldown gate and performance counters.
// Concrete strategies embed it and implement Evaluate.
type Base struct {
	name     string
	marketID int
	cfg      Config

	ledger   *ledger.Ledger
	cooldown *Cooldown
	logger   *slog.Logger

	mu   sync.RWMutex
	book *domain.OrderBook

	statsMu  sync.Mutex
	trades   int
	wins     int
	losses   int
	totalPnL decimal.Decimal
}

// NewBase wires the shared strategy state.
func NewBase(name string, marketID int, cfg Config, lg *ledger.Ledger) Base {
	return Base{
		name:     name,
		marketID: marketID,
		cfg:      cfg,
		ledger:   lg,
		cooldown: NewCooldown(name, cfg.MaxConsecutiveLosses, cfg.CooldownDuration),
		logger:   slog.Default().With("module", "strategy", "strategy", name),
	}
}

func (b *Base) Name() string  { return b.name }
func (b *Base) MarketID() int { return b.marketID }

// OnOrderBookUpdate stores the latest depth snapshot.
func (b *Base) OnOrderBookUpdate(ob *domain.OrderBook) {
	b.mu.Lock()
	b.book = ob
	b.mu.Unlock()
}

// Book returns the last seen order book, nil before the first update.
func (b *Base) Book() *domain.OrderBook {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.book
}

// IsEnabled reports whether the strategy may trade right now.
func (b *Base) IsEnabled() bool {
	return b.cooldown.Enabled()
}

// SetEnabled flips the manual trading gate.
func (b *Base) SetEnabled(enabled bool) {
	b.cooldown.SetEnabled(enabled)
}

// RecordTradeResult updates the performance counters and the loss streak.
func (b *Base) RecordTradeResult(pnl decimal.Decimal) {
	b.statsMu.Lock()
	b.trades++
	b.totalPnL = b.totalPnL.Add(pnl)
	if pnl.IsPositive() {
		b.wins++
	} else {
		b.losses++
	}
	b.statsMu.Unlock()

	if pnl.IsPositive() {
		b.cooldown.RecordWin()
	} else {
		b.cooldown.RecordLoss()
	}

	b.logger.Info("trade result",
		slog.String("pnl", pnl.StringFixed(4)),
		slog.Int("consecutive_losses", b.cooldown.ConsecutiveLosses()))
}

// Cleanup cancels this strategy's resting orders on its market.
func (b *Base) Cleanup(ctx context.Context) {
	b.ledger.CancelAll(ctx, b.marketID, b.name)
}

// Stats returns a snapshot of the performance counters.
func (b *Base) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	winRate := decimal.Zero
	if b.trades > 0 {
		winRate = decimal.NewFromInt(int64(b.wins)).
			Div(decimal.NewFromInt(int64(b.trades))).Mul(hundred)
	}
	return Stats{
		Name:              b.name,
		Trades:            b.trades,
		Wins:              b.wins,
		Losses:            b.losses,
		TotalPnL:          b.totalPnL,
		WinRate:           winRate,
		ConsecutiveLosses: b.cooldown.ConsecutiveLosses(),
		InCooldown:        b.cooldown.InCooldown(),
	}
}

// positionSize converts the risk budget into a base-asset size at the
// given price: a fixed percentage of the capital baseline, levered, and
// capped by the position limit. A floor keeps orders above the exchange
// minimum notional.
func (b *Base) positionSize(price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}

	riskUSD := b.cfg.RiskPerTradePct.Div(hundred).Mul(riskBaselineUSD)
	sizeUSD := decimal.Max(minOrderUSD, riskUSD.Mul(b.cfg.DefaultLeverage))
	sizeUSD = decimal.Min(b.cfg.MaxPositionUSD, sizeUSD)

	return sizeUSD.Div(price).Round(sizeDecimals)
}

// position looks up this strategy's market position in the ledger.
func (b *Base) position() (domain.Position, bool) {
	return b.ledger.Position(b.marketID)
}
