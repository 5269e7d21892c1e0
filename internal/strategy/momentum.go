package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"scalper_go/internal/domain"
	"scalper_go/internal/ledger"
)

const (
	momentumHistorySize    = 30
	momentumMinHistory     = 15
	momentumSignalInterval = 45 * time.Second
)

var (
	momentumThresholdPct = decimal.NewFromFloat(0.10)
	momentumSizeFactor   = decimal.NewFromFloat(0.2)
	momentumBuyEntry     = decimal.NewFromFloat(0.9998)
	momentumSellEntry    = decimal.NewFromFloat(1.0002)
	momentumTPPct        = decimal.NewFromFloat(0.002)
	momentumSLPct        = decimal.NewFromFloat(0.004)
)

// Momentum trades short-term mid-price drift: it compares the average
// of the last few mid prices against the preceding window and enters in
// the direction of the move with a small post-only order.
type Momentum struct {
	Base

	history    []decimal.Decimal
	lastSignal time.Time
	now        func() time.Time
}

// NewMomentum creates a momentum strategy for one market.
func NewMomentum(marketID int, cfg Config, lg *ledger.Ledger) *Momentum {
	return &Momentum{
		Base: NewBase("momentum", marketID, cfg, lg),
		now:  time.Now,
	}
}

// OnOrderBookUpdate records the mid price into the rolling history.
func (m *Momentum) OnOrderBookUpdate(ob *domain.OrderBook) {
	m.Base.OnOrderBookUpdate(ob)

	mid, ok := ob.MidPrice()
	if !ok {
		return
	}
	m.mu.Lock()
	m.history = append(m.history, mid)
	if len(m.history) > momentumHistorySize {
		m.history = m.history[len(m.history)-momentumHistorySize:]
	}
	m.mu.Unlock()
}

// Evaluate manages an open position first, then looks for a fresh
// entry. Signals are rate limited to avoid overtrading.
func (m *Momentum) Evaluate(ctx context.Context) (*domain.TradeSignal, error) {
	book := m.Book()
	if book == nil {
		return nil, nil
	}

	if m.now().Sub(m.lastSignal) < momentumSignalInterval {
		return nil, nil
	}

	if pos, held := m.position(); held {
		return m.managePosition(&pos, book), nil
	}

	sig := m.analyzeMomentum(book)
	if sig != nil {
		m.lastSignal = m.now()
	}
	return sig, nil
}

func (m *Momentum) analyzeMomentum(book *domain.OrderBook) *domain.TradeSignal {
	m.mu.RLock()
	prices := make([]decimal.Decimal, len(m.history))
	copy(prices, m.history)
	m.mu.RUnlock()

	if len(prices) < momentumMinHistory {
		return nil
	}

	recent := average(prices[len(prices)-5:])
	older := average(prices[len(prices)-15 : len(prices)-5])
	if older.IsZero() {
		return nil
	}

	momentumPct := recent.Sub(older).Div(older).Mul(hundred)
	if momentumPct.Abs().LessThan(momentumThresholdPct) {
		return nil
	}

	mid, ok := book.MidPrice()
	if !ok {
		return nil
	}

	size := m.positionSize(mid).Mul(momentumSizeFactor).Round(sizeDecimals)
	if !size.IsPositive() {
		return nil
	}

	var side domain.Side
	var entry decimal.Decimal
	var reason string
	if momentumPct.IsPositive() {
		side = domain.SideBuy
		entry = mid.Mul(momentumBuyEntry)
		reason = fmt.Sprintf("bullish momentum: %s%%", momentumPct.StringFixed(3))
	} else {
		side = domain.SideSell
		entry = mid.Mul(momentumSellEntry)
		reason = fmt.Sprintf("bearish momentum: %s%%", momentumPct.StringFixed(3))
	}
	entry = entry.Div(priceTick).Round(0).Mul(priceTick)

	m.logger.Info("momentum signal", slog.String("reason", reason))

	sig, err := domain.NewTradeSignal(side, entry, size, reason)
	if err != nil {
		return nil
	}
	sig.PostOnly = true
	return sig
}

// managePosition emits reduce-only exits at a fixed profit target and a
// wider stop, both expressed as a fraction of position notional.
func (m *Momentum) managePosition(pos *domain.Position, book *domain.OrderBook) *domain.TradeSignal {
	notional := pos.NotionalValue()
	target := notional.Mul(momentumTPPct)
	maxLoss := notional.Mul(momentumSLPct)

	var exitPrice decimal.Decimal
	var ok bool
	if pos.Side == domain.SideBuy {
		exitPrice, ok = book.BestBid()
	} else {
		exitPrice, ok = book.BestAsk()
	}
	if !ok {
		return nil
	}

	var reason string
	switch {
	case pos.UnrealizedPnL.GreaterThanOrEqual(target):
		reason = fmt.Sprintf("momentum TP: +%s USD", pos.UnrealizedPnL.StringFixed(4))
	case pos.UnrealizedPnL.LessThanOrEqual(maxLoss.Neg()):
		reason = fmt.Sprintf("momentum SL: %s USD", pos.UnrealizedPnL.StringFixed(4))
	default:
		return nil
	}

	sig, err := domain.NewTradeSignal(pos.Side.Opposite(), exitPrice, pos.Size, reason)
	if err != nil {
		return nil
	}
	sig.ReduceOnly = true
	return sig
}

func average(vals []decimal.Decimal) decimal.Decimal {
	if len(vals) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(vals))))
}
