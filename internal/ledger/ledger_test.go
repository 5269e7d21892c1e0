package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper_go/internal/domain"
	"scalper_go/internal/execution"
)

// fakeExchange scripts exchange-reported truth for reconciliation and
// records submissions.
type fakeExchange struct {
	mu         sync.Mutex
	tokens     atomic.Uint64
	equity     decimal.Decimal
	positions  []domain.Position
	openOrders []domain.Order

	submitErr   error
	submitted   []domain.OrderRequest
	cancelled   []string
	cancelErrBy map[string]error
	nextID      int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		equity:      decimal.NewFromInt(100),
		cancelErrBy: map[string]error{},
	}
}

func (f *fakeExchange) NextToken(_ context.Context) (uint64, error) {
	return f.tokens.Add(1), nil
}

func (f *fakeExchange) AccountInfo(_ context.Context) (*domain.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &domain.AccountSnapshot{
		Equity:     f.equity,
		Positions:  append([]domain.Position(nil), f.positions...),
		OpenOrders: append([]domain.Order(nil), f.openOrders...),
	}, nil
}

func (f *fakeExchange) submit(req domain.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.nextID++
	f.submitted = append(f.submitted, req)
	return "ex-" + time.Now().Format("150405") + "-" + string(rune('a'+f.nextID)), nil
}

func (f *fakeExchange) SubmitLimitOrder(_ context.Context, _ uint64, req domain.OrderRequest) (string, error) {
	return f.submit(req)
}

func (f *fakeExchange) SubmitMarketOrder(_ context.Context, _ uint64, req domain.OrderRequest) (string, error) {
	return f.submit(req)
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ uint64, orderID string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.cancelErrBy[orderID]; ok {
		return err
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeExchange) CancelAllOrders(_ context.Context, _ uint64, _ int) error { return nil }

func (f *fakeExchange) OpenOrders(_ context.Context) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Order(nil), f.openOrders...), nil
}

func newTestLedger(f *fakeExchange) *Ledger {
	gate := execution.NewGate(f, time.Millisecond)
	return New(f, gate)
}

func TestReconcile_InsertsUnknownOrderThenInfersCancel(t *testing.T) {
	f := newFakeExchange()
	f.openOrders = []domain.Order{{
		ID:       "ex-42",
		MarketID: 0,
		Side:     domain.SideBuy,
		Price:    decimal.NewFromInt(3400),
		Size:     decimal.NewFromFloat(0.01),
	}}

	l := newTestLedger(f)
	require.NoError(t, l.Reconcile(context.Background()))

	got, ok := l.Order("ex-42")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusOpen, got.Status)

	// Exchange no longer lists the order; filled_size was zero, so the
	// inferred transition is cancelled.
	f.mu.Lock()
	f.openOrders = nil
	f.mu.Unlock()
	require.NoError(t, l.Reconcile(context.Background()))

	got, ok = l.Order("ex-42")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
}

func TestReconcile_InfersFillWhenPartiallyFilledOrderVanishes(t *testing.T) {
	f := newFakeExchange()
	f.openOrders = []domain.Order{{
		ID:         "ex-9",
		MarketID:   1,
		Side:       domain.SideSell,
		Price:      decimal.NewFromInt(100000),
		Size:       decimal.NewFromFloat(0.001),
		FilledSize: decimal.NewFromFloat(0.0004),
	}}

	l := newTestLedger(f)
	require.NoError(t, l.Reconcile(context.Background()))

	got, _ := l.Order("ex-9")
	assert.Equal(t, domain.OrderStatusPartiallyFilled, got.Status)

	f.mu.Lock()
	f.openOrders = nil
	f.mu.Unlock()
	require.NoError(t, l.Reconcile(context.Background()))

	got, _ = l.Order("ex-9")
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
}

func TestReconcile_SettlesInferredFillWithPositionOutcome(t *testing.T) {
	f := newFakeExchange()
	l := newTestLedger(f)

	// A reduce-only exit resting against a winning long.
	order, err := l.PlaceLimitOrder(context.Background(), 2, domain.SideSell,
		decimal.NewFromFloat(140.6), decimal.NewFromFloat(0.1), "spread_scalper", false, true)
	require.NoError(t, err)

	f.mu.Lock()
	f.positions = []domain.Position{{
		MarketID: 2, Side: domain.SideBuy, Size: decimal.NewFromFloat(0.1),
		EntryPrice: decimal.NewFromInt(140), UnrealizedPnL: decimal.NewFromFloat(0.06),
	}}
	f.openOrders = []domain.Order{{
		ID: order.ID, MarketID: 2, Side: domain.SideSell,
		Size: decimal.NewFromFloat(0.1), FilledSize: decimal.NewFromFloat(0.04),
	}}
	f.mu.Unlock()
	require.NoError(t, l.Reconcile(context.Background()))
	assert.Empty(t, l.TakeSettled(), "a resting order has not settled")

	// The order and the position vanish together: the exit filled.
	f.mu.Lock()
	f.positions = nil
	f.openOrders = nil
	f.mu.Unlock()
	require.NoError(t, l.Reconcile(context.Background()))

	settled := l.TakeSettled()
	require.Len(t, settled, 1)
	assert.Equal(t, order.ID, settled[0].Order.ID)
	assert.Equal(t, "spread_scalper", settled[0].Order.Strategy)
	assert.True(t, settled[0].PnL.Equal(decimal.NewFromFloat(0.06)),
		"outcome taken from the closed position, got %s", settled[0].PnL)
	assert.Empty(t, l.TakeSettled(), "drain empties the queue")
}

func TestPlaceMarketOrder_SettlesImmediately(t *testing.T) {
	f := newFakeExchange()
	f.positions = []domain.Position{{
		MarketID: 2, Side: domain.SideBuy, Size: decimal.NewFromFloat(0.5),
		EntryPrice: decimal.NewFromInt(140), UnrealizedPnL: decimal.NewFromFloat(-2.5),
	}}

	l := newTestLedger(f)
	require.NoError(t, l.Reconcile(context.Background()))

	_, err := l.PlaceMarketOrder(context.Background(), 2, domain.SideSell,
		decimal.NewFromFloat(0.5), "hard_stop", true)
	require.NoError(t, err)

	settled := l.TakeSettled()
	require.Len(t, settled, 1)
	assert.True(t, settled[0].PnL.Equal(decimal.NewFromFloat(-2.5)))
}

func TestReconcile_FilledSizeClamped(t *testing.T) {
	f := newFakeExchange()
	f.openOrders = []domain.Order{{
		ID:         "ex-1",
		MarketID:   0,
		Side:       domain.SideBuy,
		Size:       decimal.NewFromFloat(0.5),
		FilledSize: decimal.NewFromFloat(0.9), // exchange glitch
	}}

	l := newTestLedger(f)
	require.NoError(t, l.Reconcile(context.Background()))

	got, _ := l.Order("ex-1")
	assert.True(t, got.FilledSize.LessThanOrEqual(got.Size),
		"filled_size %s must never exceed size %s", got.FilledSize, got.Size)
}

func TestReconcile_ZeroSizePositionAbsent(t *testing.T) {
	f := newFakeExchange()
	f.positions = []domain.Position{
		{MarketID: 0, Side: domain.SideBuy, Size: decimal.NewFromFloat(0.01), EntryPrice: decimal.NewFromInt(3400)},
		{MarketID: 2, Side: domain.SideSell, Size: decimal.Zero, EntryPrice: decimal.NewFromInt(140)},
	}

	l := newTestLedger(f)
	require.NoError(t, l.Reconcile(context.Background()))

	_, ok := l.Position(0)
	assert.True(t, ok)
	_, ok = l.Position(2)
	assert.False(t, ok, "a position with size 0 must be absent, not present with size 0")
	assert.Len(t, l.Positions(), 1)
}

func TestReconcile_PositionsReplacedWholesale(t *testing.T) {
	f := newFakeExchange()
	f.positions = []domain.Position{
		{MarketID: 0, Side: domain.SideBuy, Size: decimal.NewFromFloat(0.01), EntryPrice: decimal.NewFromInt(3400)},
	}

	l := newTestLedger(f)
	require.NoError(t, l.Reconcile(context.Background()))
	require.Len(t, l.Positions(), 1)

	// Position closed exchange-side (liquidation, manual close).
	f.mu.Lock()
	f.positions = nil
	f.mu.Unlock()
	require.NoError(t, l.Reconcile(context.Background()))
	assert.Empty(t, l.Positions())
}

func TestPlaceLimitOrder_RecordsOpenOrder(t *testing.T) {
	f := newFakeExchange()
	l := newTestLedger(f)

	order, err := l.PlaceLimitOrder(context.Background(), 2, domain.SideBuy,
		decimal.NewFromInt(140), decimal.NewFromFloat(0.1), "market_maker", true, false)
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, domain.OrderStatusOpen, order.Status)
	assert.Equal(t, "market_maker", order.Strategy)
	assert.True(t, order.PostOnly)

	open := l.OpenOrders(2, "market_maker")
	assert.Len(t, open, 1)

	require.Len(t, f.submitted, 1)
	assert.Equal(t, domain.OrderTypeLimit, f.submitted[0].Type)
}

func TestPlaceLimitOrder_FailureLeavesNoOrder(t *testing.T) {
	f := newFakeExchange()
	f.submitErr = domain.NewRejectedError("submit_limit_order", "30001", errors.New("post-only would cross"))
	l := newTestLedger(f)

	order, err := l.PlaceLimitOrder(context.Background(), 0, domain.SideSell,
		decimal.NewFromInt(3400), decimal.NewFromFloat(0.01), "momentum", true, false)
	require.Error(t, err)
	assert.Nil(t, order)
	assert.Empty(t, l.OpenOrders(-1, ""))
}

func TestPlaceMarketOrder_RecordedAsFilled(t *testing.T) {
	f := newFakeExchange()
	l := newTestLedger(f)

	order, err := l.PlaceMarketOrder(context.Background(), 1, domain.SideSell,
		decimal.NewFromFloat(0.001), "hard_stop", true)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.True(t, order.ReduceOnly)
	assert.True(t, order.FilledSize.Equal(order.Size))
}

func TestCancelAll_FiltersAndContinuesPastFailure(t *testing.T) {
	f := newFakeExchange()
	f.openOrders = []domain.Order{
		{ID: "a", MarketID: 0, Side: domain.SideBuy, Size: decimal.NewFromInt(1)},
		{ID: "b", MarketID: 0, Side: domain.SideSell, Size: decimal.NewFromInt(1)},
		{ID: "c", MarketID: 1, Side: domain.SideBuy, Size: decimal.NewFromInt(1)},
	}
	f.cancelErrBy["a"] = domain.NewTransportError("cancel_order", errors.New("timeout"))

	l := newTestLedger(f)
	require.NoError(t, l.Reconcile(context.Background()))

	// Only market 0; one of the two fails, the other still goes through.
	cancelled := l.CancelAll(context.Background(), 0, "")
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, []string{"b"}, f.cancelled)

	// Market 1 untouched.
	gotC, _ := l.Order("c")
	assert.Equal(t, domain.OrderStatusOpen, gotC.Status)
}

func TestAggregates(t *testing.T) {
	f := newFakeExchange()
	f.positions = []domain.Position{
		{MarketID: 0, Side: domain.SideBuy, Size: decimal.NewFromFloat(0.01),
			EntryPrice: decimal.NewFromInt(3000), UnrealizedPnL: decimal.NewFromFloat(1.5),
			RealizedPnL: decimal.NewFromFloat(0.2)},
		{MarketID: 2, Side: domain.SideSell, Size: decimal.NewFromFloat(0.1),
			EntryPrice: decimal.NewFromInt(140), UnrealizedPnL: decimal.NewFromFloat(-0.5),
			RealizedPnL: decimal.NewFromFloat(0.3)},
	}

	l := newTestLedger(f)
	require.NoError(t, l.Reconcile(context.Background()))

	// 0.01*3000 + 0.1*140 = 30 + 14
	assert.True(t, l.TotalExposure().Equal(decimal.NewFromInt(44)))
	assert.True(t, l.TotalUnrealizedPnL().Equal(decimal.NewFromInt(1)))
	assert.True(t, l.TotalRealizedPnL().Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, l.Equity().Equal(decimal.NewFromInt(100)))
}
