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
	scalperHistorySize    = 20
	scalperMinHistory     = 10
	scalperSignalInterval = 30 * time.Second
)

var (
	scalperSpreadExpansion = decimal.NewFromFloat(1.2)
	scalperImbalanceMin    = decimal.NewFromFloat(0.40)
	scalperSizeFactor      = decimal.NewFromFloat(0.3)
	scalperSLMultiple      = decimal.NewFromInt(2)
)

// SpreadScalper captures temporary spread expansions. It waits for the
// spread to widen well past its rolling average, reads the book
// imbalance for direction, and joins the heavy side of the book with a
// post-only order.
type SpreadScalper struct {
	Base

	spreadHistory []decimal.Decimal
	lastSignal    time.Time
	now           func() time.Time
}

// NewSpreadScalper creates a spread scalper for one market.
func NewSpreadScalper(marketID int, cfg Config, lg *ledger.Ledger) *SpreadScalper {
	return &SpreadScalper{
		Base: NewBase("spread_scalper", marketID, cfg, lg),
		now:  time.Now,
	}
}

// OnOrderBookUpdate records the spread into the rolling history.
func (s *SpreadScalper) OnOrderBookUpdate(ob *domain.OrderBook) {
	s.Base.OnOrderBookUpdate(ob)

	bps, ok := ob.SpreadBps()
	if !ok {
		return
	}
	s.mu.Lock()
	s.spreadHistory = append(s.spreadHistory, bps)
	if len(s.spreadHistory) > scalperHistorySize {
		s.spreadHistory = s.spreadHistory[len(s.spreadHistory)-scalperHistorySize:]
	}
	s.mu.Unlock()
}

// Evaluate checks exit conditions on any open position first, then
// looks for an entry.
func (s *SpreadScalper) Evaluate(ctx context.Context) (*domain.TradeSignal, error) {
	book := s.Book()
	if book == nil {
		return nil, nil
	}

	if pos, held := s.position(); held {
		return s.manageExit(&pos, book), nil
	}

	if s.now().Sub(s.lastSignal) < scalperSignalInterval {
		return nil, nil
	}

	sig := s.findEntry(book)
	if sig != nil {
		s.lastSignal = s.now()
	}
	return sig, nil
}

func (s *SpreadScalper) findEntry(book *domain.OrderBook) *domain.TradeSignal {
	s.mu.RLock()
	history := make([]decimal.Decimal, len(s.spreadHistory))
	copy(history, s.spreadHistory)
	s.mu.RUnlock()

	if len(history) < scalperMinHistory {
		return nil
	}

	current, ok := book.SpreadBps()
	if !ok {
		return nil
	}

	// Entry wants a spread clearly wider than its recent average and
	// above the configured floor.
	avg := average(history)
	if current.LessThanOrEqual(avg.Mul(scalperSpreadExpansion)) {
		return nil
	}
	if current.LessThan(s.cfg.MinSpreadBps) {
		return nil
	}

	imbalance := book.Imbalance()
	if imbalance.Abs().LessThan(scalperImbalanceMin) {
		return nil
	}

	var side domain.Side
	var price decimal.Decimal
	if imbalance.IsPositive() {
		side = domain.SideBuy
		price, ok = book.BestBid()
	} else {
		side = domain.SideSell
		price, ok = book.BestAsk()
	}
	if !ok {
		return nil
	}

	size := s.positionSize(price).Mul(scalperSizeFactor).Round(sizeDecimals)
	if !size.IsPositive() {
		return nil
	}

	reason := fmt.Sprintf("spread %s bps (avg %s), imbalance %s",
		current.StringFixed(2), avg.StringFixed(2), imbalance.StringFixed(2))
	s.logger.Info("scalp entry", slog.String("reason", reason))

	sig, err := domain.NewTradeSignal(side, price, size, reason)
	if err != nil {
		return nil
	}
	sig.PostOnly = true
	return sig
}

// manageExit emits a reduce-only close at the profit target or at twice
// the target on the downside.
func (s *SpreadScalper) manageExit(pos *domain.Position, book *domain.OrderBook) *domain.TradeSignal {
	target := pos.NotionalValue().Mul(s.cfg.TargetProfitBps).Div(tenThousand)
	stop := target.Mul(scalperSLMultiple)

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
		reason = fmt.Sprintf("scalp TP: +%s USD", pos.UnrealizedPnL.StringFixed(4))
	case pos.UnrealizedPnL.LessThanOrEqual(stop.Neg()):
		reason = fmt.Sprintf("scalp SL: %s USD", pos.UnrealizedPnL.StringFixed(4))
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
