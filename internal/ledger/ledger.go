// Package ledger is the local source of truth for orders and positions,
// reconciled against exchange-reported state.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"scalper_go/internal/domain"
	"scalper_go/internal/execution"
)

// Ledger owns the order and position maps. Callers never mutate them
// directly; all writes go through Reconcile, the place operations, and
// the cancel operations. Queries return copies.
type Ledger struct {
	mu        sync.RWMutex
	orders    map[string]*domain.Order
	positions map[int]*domain.Position
	equity    decimal.Decimal
	settled   []Settlement

	exchange domain.Exchange
	gate     *execution.Gate
	logger   *slog.Logger
}

// Settlement is an order that reached a filled state, paired with the
// estimated outcome of the fill. A reduce-only fill carries the last
// unrealized PnL seen on the position it closed; an entry fill carries
// zero, its outcome shows up when the position closes.
type Settlement struct {
	Order domain.Order
	PnL   decimal.Decimal
}

// New creates a ledger backed by the given exchange and submission gate.
func New(exchange domain.Exchange, gate *execution.Gate) *Ledger {
	return &Ledger{
		orders:    make(map[string]*domain.Order),
		positions: make(map[int]*domain.Position),
		exchange:  exchange,
		gate:      gate,
		logger:    slog.Default().With("module", "ledger"),
	}
}

// Reconcile refreshes local state from exchange truth. Positions are
// replaced wholesale; orders are merged by identifier. A locally-active
// order absent from the exchange listing is finalized by inference:
// filled if it had any recorded fill, cancelled otherwise. This is a
// best-effort heuristic, not a confirmed fill event.
func (l *Ledger) Reconcile(ctx context.Context) error {
	snap, err := l.exchange.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.equity = snap.Equity

	// Positions: wholesale replacement. A reported size of zero means
	// flat, and flat means absent. The outgoing map is kept to estimate
	// outcomes for fills settled in this same pass.
	prev := l.positions
	fresh := make(map[int]*domain.Position, len(snap.Positions))
	for _, pos := range snap.Positions {
		if !pos.Size.IsPositive() {
			continue
		}
		p := pos
		fresh[p.MarketID] = &p
	}
	l.positions = fresh

	// Orders: merge by identifier.
	reported := make(map[string]struct{}, len(snap.OpenOrders))
	for _, ro := range snap.OpenOrders {
		reported[ro.ID] = struct{}{}

		existing, ok := l.orders[ro.ID]
		if !ok {
			o := ro
			o.Status = domain.OrderStatusOpen
			if o.CreatedAt.IsZero() {
				o.CreatedAt = now
			}
			o.UpdatedAt = now
			clampFill(&o)
			l.orders[o.ID] = &o
			continue
		}

		existing.FilledSize = ro.FilledSize
		clampFill(existing)
		if existing.FilledSize.IsPositive() {
			existing.Status = domain.OrderStatusPartiallyFilled
		} else {
			existing.Status = domain.OrderStatusOpen
		}
		existing.UpdatedAt = now
	}

	// Finalize locally-active orders the exchange no longer lists.
	for id, o := range l.orders {
		if !o.IsActive() {
			continue
		}
		if _, ok := reported[id]; ok {
			continue
		}
		if o.FilledSize.IsPositive() {
			o.Status = domain.OrderStatusFilled
			o.UpdatedAt = now
			l.settled = append(l.settled, Settlement{Order: *o, PnL: closePnL(prev, o)})
			continue
		}
		o.Status = domain.OrderStatusCancelled
		o.UpdatedAt = now
	}

	l.logger.Debug("reconciled with exchange",
		slog.Int("positions", len(l.positions)),
		slog.Int("open_orders", len(snap.OpenOrders)))
	return nil
}

func clampFill(o *domain.Order) {
	if o.FilledSize.GreaterThan(o.Size) {
		o.FilledSize = o.Size
	}
}

// closePnL estimates the realized outcome of a fill from the position
// state that preceded it.
func closePnL(positions map[int]*domain.Position, o *domain.Order) decimal.Decimal {
	if !o.ReduceOnly {
		return decimal.Zero
	}
	if p, ok := positions[o.MarketID]; ok {
		return p.UnrealizedPnL
	}
	return decimal.Zero
}

// PlaceLimitOrder submits a limit order through the gate and records it.
// A nil order with a non-nil error means nothing was placed; callers
// treat that as "no order", not a condition needing special handling.
func (l *Ledger) PlaceLimitOrder(ctx context.Context, marketID int, side domain.Side,
	price, size decimal.Decimal, strategy string, postOnly, reduceOnly bool) (*domain.Order, error) {

	req := domain.OrderRequest{
		MarketID:   marketID,
		Side:       side,
		Type:       domain.OrderTypeLimit,
		Price:      price,
		Size:       size,
		PostOnly:   postOnly,
		ReduceOnly: reduceOnly,
	}

	id, err := l.gate.Submit(ctx, execution.LimitOrderPolicy(), func(ctx context.Context, token uint64) (string, error) {
		return l.exchange.SubmitLimitOrder(ctx, token, req)
	})
	if err != nil {
		l.logger.Error("limit order failed",
			slog.Int("market", marketID),
			slog.String("side", string(side)),
			slog.Any("error", err))
		return nil, err
	}

	order := l.record(id, req, strategy, domain.OrderStatusOpen, decimal.Zero)
	l.logger.Info("placed limit order",
		slog.String("order_id", order.ID),
		slog.Int("market", marketID),
		slog.String("side", string(side)),
		slog.String("price", price.String()),
		slog.String("size", size.String()),
		slog.String("strategy", strategy))
	return order, nil
}

// PlaceMarketOrder submits a market order through the gate and records
// it as filled (market orders do not rest on the book; the next
// reconcile corrects any partial execution).
func (l *Ledger) PlaceMarketOrder(ctx context.Context, marketID int, side domain.Side,
	size decimal.Decimal, strategy string, reduceOnly bool) (*domain.Order, error) {

	req := domain.OrderRequest{
		MarketID:   marketID,
		Side:       side,
		Type:       domain.OrderTypeMarket,
		Size:       size,
		ReduceOnly: reduceOnly,
	}

	id, err := l.gate.Submit(ctx, execution.MarketOrderPolicy(), func(ctx context.Context, token uint64) (string, error) {
		return l.exchange.SubmitMarketOrder(ctx, token, req)
	})
	if err != nil {
		l.logger.Error("market order failed",
			slog.Int("market", marketID),
			slog.String("side", string(side)),
			slog.Any("error", err))
		return nil, err
	}

	order := l.record(id, req, strategy, domain.OrderStatusFilled, size)
	l.logger.Info("placed market order",
		slog.String("order_id", order.ID),
		slog.Int("market", marketID),
		slog.String("side", string(side)),
		slog.String("size", size.String()),
		slog.String("strategy", strategy))
	return order, nil
}

func (l *Ledger) record(id string, req domain.OrderRequest, strategy string,
	status domain.OrderStatus, filled decimal.Decimal) *domain.Order {

	if id == "" {
		id = "local-" + uuid.NewString()
	}
	now := time.Now()
	order := &domain.Order{
		ID:         id,
		MarketID:   req.MarketID,
		Side:       req.Side,
		Type:       req.Type,
		Price:      req.Price,
		Size:       req.Size,
		FilledSize: filled,
		Status:     status,
		Strategy:   strategy,
		PostOnly:   req.PostOnly,
		ReduceOnly: req.ReduceOnly,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	l.mu.Lock()
	l.orders[id] = order
	if status == domain.OrderStatusFilled {
		l.settled = append(l.settled, Settlement{Order: *order, PnL: closePnL(l.positions, order)})
	}
	l.mu.Unlock()

	copied := *order
	return &copied
}

// TakeSettled drains the queue of fills observed since the last call.
func (l *Ledger) TakeSettled() []Settlement {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.settled
	l.settled = nil
	return out
}

// CancelOrder cancels one order. Cancelling an already-terminal or
// unknown order is a no-op.
func (l *Ledger) CancelOrder(ctx context.Context, id string) error {
	l.mu.RLock()
	order, ok := l.orders[id]
	var marketID int
	active := false
	if ok {
		marketID = order.MarketID
		active = order.IsActive()
	}
	l.mu.RUnlock()

	if !ok {
		l.logger.Warn("cancel of unknown order", slog.String("order_id", id))
		return nil
	}
	if !active {
		return nil
	}

	_, err := l.gate.Submit(ctx, execution.CancelPolicy(), func(ctx context.Context, token uint64) (string, error) {
		return "", l.exchange.CancelOrder(ctx, token, id, marketID)
	})
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", id, err)
	}

	l.mu.Lock()
	if o, ok := l.orders[id]; ok && o.IsActive() {
		o.Status = domain.OrderStatusCancelled
		o.UpdatedAt = time.Now()
	}
	l.mu.Unlock()
	return nil
}

// CancelAll cancels every active order matching the filter. A marketID
// below zero matches all markets; an empty strategy matches all
// strategies. Each cancellation is independent: one failure does not
// abort the batch. Returns the number of successful cancellations.
func (l *Ledger) CancelAll(ctx context.Context, marketID int, strategy string) int {
	targets := l.OpenOrders(marketID, strategy)

	cancelled := 0
	for _, o := range targets {
		if err := l.CancelOrder(ctx, o.ID); err != nil {
			l.logger.Warn("cancel failed, continuing batch",
				slog.String("order_id", o.ID), slog.Any("error", err))
			continue
		}
		cancelled++
	}
	if len(targets) > 0 {
		l.logger.Info("cancelled orders",
			slog.Int("cancelled", cancelled), slog.Int("requested", len(targets)))
	}
	return cancelled
}

// OpenOrders returns copies of active orders matching the filter.
// A marketID below zero matches all markets; an empty strategy matches
// all strategies.
func (l *Ledger) OpenOrders(marketID int, strategy string) []domain.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.Order
	for _, o := range l.orders {
		if !o.IsActive() {
			continue
		}
		if marketID >= 0 && o.MarketID != marketID {
			continue
		}
		if strategy != "" && o.Strategy != strategy {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// Order returns a copy of the order with the given id.
func (l *Ledger) Order(id string) (domain.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Position returns a copy of the position for a market, if one exists.
func (l *Ledger) Position(marketID int) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[marketID]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// Equity is the account equity recorded by the last reconcile pass.
func (l *Ledger) Equity() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.equity
}

// TotalExposure sums position notional across all markets.
func (l *Ledger) TotalExposure() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.NotionalValue())
	}
	return total
}

// TotalUnrealizedPnL sums unrealized PnL across all positions.
func (l *Ledger) TotalUnrealizedPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

// TotalRealizedPnL sums realized PnL across all positions.
func (l *Ledger) TotalRealizedPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.RealizedPnL)
	}
	return total
}
