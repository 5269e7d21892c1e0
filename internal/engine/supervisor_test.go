package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper_go/internal/domain"
	"scalper_go/internal/execution"
	"scalper_go/internal/ledger"
	"scalper_go/internal/risk"
	"scalper_go/internal/service"
	"scalper_go/internal/strategy"
)

type fakeExchange struct {
	mu         sync.Mutex
	nonce      uint64
	orderSeq   int64
	submitted  []domain.OrderRequest
	positions  []domain.Position
	openOrders []domain.Order
	equity     decimal.Decimal
}

func (f *fakeExchange) NextToken(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce++
	return f.nonce, nil
}

func (f *fakeExchange) AccountInfo(context.Context) (*domain.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &domain.AccountSnapshot{
		Equity:     f.equity,
		Positions:  f.positions,
		OpenOrders: f.openOrders,
	}, nil
}

func (f *fakeExchange) submit(req domain.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderSeq++
	f.submitted = append(f.submitted, req)
	return decimal.NewFromInt(f.orderSeq).String(), nil
}

func (f *fakeExchange) SubmitLimitOrder(_ context.Context, _ uint64, req domain.OrderRequest) (string, error) {
	return f.submit(req)
}

func (f *fakeExchange) SubmitMarketOrder(_ context.Context, _ uint64, req domain.OrderRequest) (string, error) {
	return f.submit(req)
}

func (f *fakeExchange) CancelOrder(context.Context, uint64, string, int) error { return nil }
func (f *fakeExchange) CancelAllOrders(context.Context, uint64, int) error     { return nil }
func (f *fakeExchange) OpenOrders(context.Context) ([]domain.Order, error)     { return nil, nil }

func (f *fakeExchange) setPositions(positions []domain.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = positions
}

func (f *fakeExchange) setOpenOrders(orders []domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openOrders = orders
}

func (f *fakeExchange) submittedOrders() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OrderRequest, len(f.submitted))
	copy(out, f.submitted)
	return out
}

type fakeFeed struct {
	books map[int]*domain.OrderBook
}

func (f *fakeFeed) OrderBook(_ context.Context, marketID, _ int) (*domain.OrderBook, error) {
	return f.books[marketID], nil
}

func (f *fakeFeed) Markets(context.Context) ([]domain.MarketInfo, error) { return nil, nil }

type stubStrategy struct {
	name     string
	marketID int
	sig      *domain.TradeSignal
	disabled bool
	books    int
	cleaned  bool
	pnls     []decimal.Decimal
}

func (s *stubStrategy) Name() string                        { return s.name }
func (s *stubStrategy) MarketID() int                       { return s.marketID }
func (s *stubStrategy) OnOrderBookUpdate(*domain.OrderBook) { s.books++ }
func (s *stubStrategy) IsEnabled() bool                     { return !s.disabled }
func (s *stubStrategy) Cleanup(context.Context)             { s.cleaned = true }
func (s *stubStrategy) Stats() strategy.Stats               { return strategy.Stats{Name: s.name} }

func (s *stubStrategy) RecordTradeResult(pnl decimal.Decimal) {
	s.pnls = append(s.pnls, pnl)
}

func (s *stubStrategy) Evaluate(context.Context) (*domain.TradeSignal, error) {
	return s.sig, nil
}

func testGovernor() *risk.Governor {
	return risk.NewGovernor(risk.Limits{
		MaxPositionUSD:  decimal.NewFromInt(25),
		MaxLossUSD:      decimal.NewFromInt(10),
		MaxLeverage:     decimal.NewFromInt(3),
		DefaultLeverage: decimal.NewFromInt(2),
	}, decimal.NewFromInt(100))
}

func testSupervisor(t *testing.T, strategies ...strategy.Strategy) (*Supervisor, *ledger.Ledger, *fakeExchange) {
	t.Helper()
	fake := &fakeExchange{equity: decimal.NewFromInt(100)}
	gate := execution.NewGate(fake, time.Millisecond)
	lg := ledger.New(fake, gate)
	md := service.NewMarketData(&fakeFeed{books: map[int]*domain.OrderBook{
		2: {
			MarketID:   2,
			Bids:       []domain.OrderBookLevel{{Price: decimal.NewFromInt(140), Size: decimal.NewFromInt(1)}},
			Asks:       []domain.OrderBookLevel{{Price: decimal.NewFromFloat(140.1), Size: decimal.NewFromInt(1)}},
			LastUpdate: time.Now(),
		},
	}})

	cfg := DefaultConfig()
	cfg.MarketPacing = time.Millisecond
	sup := New(cfg, lg, testGovernor(), md, nil, strategies)
	return sup, lg, fake
}

func solPosition(pnl float64) domain.Position {
	return domain.Position{
		MarketID:      2,
		Side:          domain.SideBuy,
		Size:          decimal.NewFromFloat(0.5),
		EntryPrice:    decimal.NewFromInt(140),
		UnrealizedPnL: decimal.NewFromFloat(pnl),
	}
}

func TestSupervisor_HardStopClosesLosingPosition(t *testing.T) {
	sup, _, fake := testSupervisor(t)
	fake.setPositions([]domain.Position{solPosition(-2.50)})

	sup.safetyOnce(context.Background())

	reqs := fake.submittedOrders()
	require.Len(t, reqs, 1, "exactly one close order")
	closeReq := reqs[0]
	assert.Equal(t, 2, closeReq.MarketID)
	assert.Equal(t, domain.SideSell, closeReq.Side, "long is closed with a sell")
	assert.Equal(t, domain.OrderTypeMarket, closeReq.Type)
	assert.True(t, closeReq.ReduceOnly)
	assert.True(t, closeReq.Size.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, sup.hardStopActive())

	// The position is still reported while the close settles: no
	// duplicate close order.
	sup.safetyOnce(context.Background())
	assert.Len(t, fake.submittedOrders(), 1)

	// Once the exchange reports the position gone the mark clears.
	fake.setPositions(nil)
	sup.safetyOnce(context.Background())
	assert.Len(t, fake.submittedOrders(), 1)
	assert.False(t, sup.hardStopActive())
}

func TestSupervisor_SafetyIgnoresSmallLosses(t *testing.T) {
	sup, _, fake := testSupervisor(t)
	fake.setPositions([]domain.Position{solPosition(-1.50)})

	sup.safetyOnce(context.Background())
	assert.Empty(t, fake.submittedOrders())
	assert.False(t, sup.hardStopActive())
}

func TestSupervisor_SafetyFeedsGovernor(t *testing.T) {
	sup, _, fake := testSupervisor(t)
	fake.setPositions([]domain.Position{solPosition(-1.00)})

	sup.safetyOnce(context.Background())

	metrics := sup.governor.Snapshot().Metrics
	assert.True(t, metrics.TotalEquity.Equal(decimal.NewFromInt(99)), "equity folds unrealized pnl")
	assert.True(t, metrics.TotalExposure.Equal(decimal.NewFromInt(70)))

	status := sup.Status()
	assert.True(t, status.Risk.TradingAllowed)
	assert.Equal(t, 1, status.OpenPositions)
	assert.False(t, status.HardStopActive)
}

func TestSupervisor_SettlementFeedsStrategy(t *testing.T) {
	sig, err := domain.NewTradeSignal(domain.SideSell,
		decimal.NewFromFloat(140.6), decimal.NewFromFloat(0.1), "take profit")
	require.NoError(t, err)
	sig.ReduceOnly = true

	st := &stubStrategy{name: "stub", marketID: 2, sig: sig}
	sup, _, fake := testSupervisor(t, st)

	sup.evaluateOnce(context.Background())
	reqs := fake.submittedOrders()
	require.Len(t, reqs, 1)

	// The exit rests partially filled against a winning long.
	fake.setPositions([]domain.Position{{
		MarketID: 2, Side: domain.SideBuy, Size: decimal.NewFromFloat(0.1),
		EntryPrice: decimal.NewFromInt(140), UnrealizedPnL: decimal.NewFromFloat(0.06),
	}})
	fake.setOpenOrders([]domain.Order{{
		ID: "1", MarketID: 2, Side: domain.SideSell,
		Size: decimal.NewFromFloat(0.1), FilledSize: decimal.NewFromFloat(0.04),
	}})
	sup.safetyOnce(context.Background())
	assert.Empty(t, st.pnls, "no result while the exit rests")

	// Order and position vanish together: the exit filled.
	fake.setPositions(nil)
	fake.setOpenOrders(nil)
	sup.safetyOnce(context.Background())

	require.Len(t, st.pnls, 1)
	assert.True(t, st.pnls[0].Equal(decimal.NewFromFloat(0.06)),
		"outcome routed back to the owning strategy, got %s", st.pnls[0])
}

func TestSupervisor_EvaluateExecutesSignal(t *testing.T) {
	sig, err := domain.NewTradeSignal(domain.SideBuy,
		decimal.NewFromInt(140), decimal.NewFromFloat(0.1), "test entry")
	require.NoError(t, err)
	sig.PostOnly = true

	st := &stubStrategy{name: "stub", marketID: 2, sig: sig}
	sup, _, fake := testSupervisor(t, st)

	sup.evaluateOnce(context.Background())

	reqs := fake.submittedOrders()
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.OrderTypeLimit, reqs[0].Type)
	assert.True(t, reqs[0].PostOnly)
	assert.Equal(t, 1, st.books, "depth refresh reached the strategy")
}

func TestSupervisor_EvaluateRefusesOversizedSignal(t *testing.T) {
	// $140 * 1.0 = $140 notional, far over the $25 position cap.
	sig, err := domain.NewTradeSignal(domain.SideBuy,
		decimal.NewFromInt(140), decimal.NewFromInt(1), "too big")
	require.NoError(t, err)

	st := &stubStrategy{name: "stub", marketID: 2, sig: sig}
	sup, _, fake := testSupervisor(t, st)

	sup.evaluateOnce(context.Background())
	assert.Empty(t, fake.submittedOrders())
}

func TestSupervisor_ReduceOnlyBypassesAdmission(t *testing.T) {
	sig, err := domain.NewTradeSignal(domain.SideSell,
		decimal.NewFromInt(140), decimal.NewFromInt(1), "big exit")
	require.NoError(t, err)
	sig.ReduceOnly = true

	st := &stubStrategy{name: "stub", marketID: 2, sig: sig}
	sup, _, fake := testSupervisor(t, st)

	sup.evaluateOnce(context.Background())
	require.Len(t, fake.submittedOrders(), 1)
	assert.True(t, fake.submittedOrders()[0].ReduceOnly)
}

func TestSupervisor_HaltTriggersEmergencyClose(t *testing.T) {
	st := &stubStrategy{name: "stub", marketID: 2}
	sup, lg, fake := testSupervisor(t, st)

	fake.setPositions([]domain.Position{solPosition(-0.50)})
	require.NoError(t, lg.Reconcile(context.Background()))

	sup.governor.ForceStop("manual")
	sup.evaluateOnce(context.Background())

	reqs := fake.submittedOrders()
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.OrderTypeMarket, reqs[0].Type)
	assert.True(t, reqs[0].ReduceOnly)
	assert.Equal(t, 0, st.books, "no evaluation while halted")
}

func TestSupervisor_UnwindCancelsAndCloses(t *testing.T) {
	st := &stubStrategy{name: "stub", marketID: 2}
	sup, _, fake := testSupervisor(t, st)
	fake.setPositions([]domain.Position{solPosition(0.25)})

	sup.unwind(context.Background())

	assert.True(t, st.cleaned, "strategies clean their own orders first")
	reqs := fake.submittedOrders()
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.OrderTypeMarket, reqs[0].Type)
	assert.Equal(t, domain.SideSell, reqs[0].Side)
	assert.True(t, reqs[0].ReduceOnly)
}

func TestSupervisor_RunStopsOnCancel(t *testing.T) {
	sup, _, _ := testSupervisor(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
}
