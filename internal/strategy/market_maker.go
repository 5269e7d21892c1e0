package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"scalper_go/internal/domain"
	"scalper_go/internal/ledger"
)

var (
	tenThousand       = decimal.NewFromInt(10000)
	priceTick         = decimal.NewFromFloat(0.01)
	two               = decimal.NewFromInt(2)
	mmMaxInventoryUSD = decimal.NewFromInt(50)
)

// MarketMaker keeps a post-only bid/ask pair resting around the mid
// price and refreshes it on an interval. It manages its own orders and
// never emits signals; quoting both sides is not a directional intent
// the risk routing should size.
type MarketMaker struct {
	Base

	lastRefresh time.Time
	now         func() time.Time
}

// NewMarketMaker creates a market maker for one market.
func NewMarketMaker(marketID int, cfg Config, lg *ledger.Ledger) *MarketMaker {
	return &MarketMaker{
		Base: NewBase("market_maker", marketID, cfg, lg),
		now:  time.Now,
	}
}

// Evaluate refreshes the resting quote pair. Always returns a nil
// signal; the orders are placed directly.
func (m *MarketMaker) Evaluate(ctx context.Context) (*domain.TradeSignal, error) {
	book := m.Book()
	if book == nil {
		return nil, nil
	}

	if m.now().Sub(m.lastRefresh) < m.cfg.OrderRefreshInterval {
		return nil, nil
	}

	mid, ok := book.MidPrice()
	if !ok {
		return nil, nil
	}

	// Stop quoting while inventory is heavy; let the other loops work
	// the position down first.
	if pos, held := m.position(); held {
		if pos.NotionalValue().GreaterThan(mmMaxInventoryUSD) {
			m.logger.Debug("inventory too large, skipping quote refresh",
				slog.String("notional", pos.NotionalValue().StringFixed(2)))
			return nil, nil
		}
	}

	size := m.quoteSize(mid)
	if size.IsZero() {
		return nil, nil
	}

	halfSpread := m.cfg.MMSpreadBps.Div(two).Div(tenThousand)
	bid := mid.Mul(decimal.NewFromInt(1).Sub(halfSpread)).Div(priceTick).Floor().Mul(priceTick)
	ask := mid.Mul(decimal.NewFromInt(1).Add(halfSpread)).Div(priceTick).Ceil().Mul(priceTick)

	// Replace the previous pair wholesale. Partial pairs left behind by
	// one-sided fills are cancelled too.
	m.ledger.CancelAll(ctx, m.marketID, m.name)

	if _, err := m.ledger.PlaceLimitOrder(ctx, m.marketID, domain.SideBuy,
		bid, size, m.name, true, false); err != nil {
		return nil, err
	}
	if _, err := m.ledger.PlaceLimitOrder(ctx, m.marketID, domain.SideSell,
		ask, size, m.name, true, false); err != nil {
		return nil, err
	}

	m.lastRefresh = m.now()
	m.logger.Info("refreshed quotes",
		slog.String("bid", bid.String()),
		slog.String("ask", ask.String()),
		slog.String("size", size.String()))
	return nil, nil
}

// quoteSize caps the per-side quote at the configured dollar size.
func (m *MarketMaker) quoteSize(mid decimal.Decimal) decimal.Decimal {
	size := m.positionSize(mid)
	capSize := m.cfg.MMOrderSizeUSD.Div(mid).Round(sizeDecimals)
	return decimal.Min(size, capSize)
}
