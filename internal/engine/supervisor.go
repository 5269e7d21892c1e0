// Package engine runs the trading loops and owns process-level safety
// behavior: per-position hard stops, emergency unwind and shutdown.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"scalper_go/internal/domain"
	"scalper_go/internal/infra/storage"
	"scalper_go/internal/ledger"
	"scalper_go/internal/risk"
	"scalper_go/internal/service"
	"scalper_go/internal/strategy"
)

// Per-position loss beyond which the position is force-closed at
// market, independent of strategy exits.
var hardStopLossUSD = decimal.NewFromFloat(-2.0)

// Config holds the supervisor loop cadence.
type Config struct {
	EvaluateInterval  time.Duration
	SafetyInterval    time.Duration
	ReconcileInterval time.Duration
	MarketPacing      time.Duration
	UnwindTimeout     time.Duration
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		EvaluateInterval:  5 * time.Second,
		SafetyInterval:    10 * time.Second,
		ReconcileInterval: 10 * time.Second,
		MarketPacing:      time.Second,
		UnwindTimeout:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EvaluateInterval <= 0 {
		c.EvaluateInterval = d.EvaluateInterval
	}
	if c.SafetyInterval <= 0 {
		c.SafetyInterval = d.SafetyInterval
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = d.ReconcileInterval
	}
	if c.MarketPacing <= 0 {
		c.MarketPacing = d.MarketPacing
	}
	if c.UnwindTimeout <= 0 {
		c.UnwindTimeout = d.UnwindTimeout
	}
	return c
}

// Supervisor drives the strategies against the ledger and the risk
// governor. Four loops run concurrently: evaluation, safety, exchange
// reconciliation and the shutdown watcher. When the run context is
// cancelled the supervisor unwinds: strategy orders are cancelled and
// open positions are closed with reduce-only market orders.
type Supervisor struct {
	cfg        Config
	ledger     *ledger.Ledger
	governor   *risk.Governor
	marketData *service.MarketData
	journal    *storage.Journal // optional
	strategies []strategy.Strategy
	logger     *slog.Logger

	mu              sync.Mutex
	hardStopMarkets map[int]bool

	statusCounter int
}

// New wires a supervisor. The journal may be nil.
func New(cfg Config, lg *ledger.Ledger, governor *risk.Governor,
	md *service.MarketData, journal *storage.Journal, strategies []strategy.Strategy) *Supervisor {

	s := &Supervisor{
		cfg:             cfg.withDefaults(),
		ledger:          lg,
		governor:        governor,
		marketData:      md,
		journal:         journal,
		strategies:      strategies,
		hardStopMarkets: make(map[int]bool),
		logger:          slog.Default().With("module", "supervisor"),
	}
	md.Subscribe(s.dispatchBook)
	return s
}

// dispatchBook fans a depth update out to the strategies on its market.
func (s *Supervisor) dispatchBook(marketID int, ob *domain.OrderBook) {
	for _, st := range s.strategies {
		if st.MarketID() == marketID {
			st.OnOrderBookUpdate(ob)
		}
	}
}

// Run blocks until ctx is cancelled and the unwind completes.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("starting trading loops",
		slog.Int("strategies", len(s.strategies)),
		slog.Duration("evaluate_interval", s.cfg.EvaluateInterval))

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { s.runLoop(ctx, s.cfg.EvaluateInterval, "evaluate", s.evaluateOnce) })
	lifecycle.Go(func() { s.runLoop(ctx, s.cfg.SafetyInterval, "safety", s.safetyOnce) })
	lifecycle.Go(func() { s.runLoop(ctx, s.cfg.ReconcileInterval, "reconcile", s.reconcileOnce) })
	lifecycle.Go(func() {
		<-ctx.Done()
		s.logger.Info("shutdown signal received")
	})
	lifecycle.Wait()

	// Unwind runs on its own context; the run context is already dead.
	unwindCtx, cancel := context.WithTimeout(context.Background(), s.cfg.UnwindTimeout)
	defer cancel()
	s.unwind(unwindCtx)
}

// runLoop ticks fn until the context dies. A panicking iteration is
// logged and the loop keeps going.
func (s *Supervisor) runLoop(ctx context.Context, interval time.Duration, name string, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("loop stopped", slog.String("loop", name))
			return
		case <-ticker.C:
			s.runOnce(ctx, name, fn)
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("loop panic recovered",
				slog.String("loop", name), slog.Any("panic", r))
		}
	}()
	fn(ctx)
}

// evaluateOnce is one pass of the evaluation loop: refresh depth for
// every traded market, then let each enabled strategy produce at most
// one order.
func (s *Supervisor) evaluateOnce(ctx context.Context) {
	if !s.governor.IsTradingAllowed() {
		s.logger.Warn("trading stopped", slog.String("reason", s.governor.StopReason()))
		s.emergencyCloseAll(ctx)
		return
	}
	if s.hardStopActive() {
		s.logger.Debug("trading paused while hard stop is in progress")
		return
	}

	for i, marketID := range s.tradedMarkets() {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.MarketPacing):
			}
		}
		if _, err := s.marketData.RefreshOrderBook(ctx, marketID); err != nil {
			s.logger.Debug("depth refresh failed",
				slog.Int("market", marketID), slog.Any("error", err))
		}
	}

	for _, st := range s.strategies {
		if ctx.Err() != nil {
			return
		}
		if !st.IsEnabled() {
			continue
		}

		sig, err := st.Evaluate(ctx)
		if err != nil {
			s.logger.Error("strategy evaluation failed",
				slog.String("strategy", st.Name()), slog.Any("error", err))
			continue
		}
		if sig == nil {
			continue
		}
		s.executeSignal(ctx, st, sig)
	}
}

// executeSignal runs the risk admission check and places the order.
// Reduce-only signals shrink risk and bypass the admission check.
func (s *Supervisor) executeSignal(ctx context.Context, st strategy.Strategy, sig *domain.TradeSignal) {
	if !sig.ReduceOnly {
		ok, reason := s.governor.CanOpenPosition(sig.NotionalUSD())
		if !ok {
			s.logger.Debug("risk check refused signal",
				slog.String("strategy", st.Name()), slog.String("reason", reason))
			return
		}
	}

	_, err := s.ledger.PlaceLimitOrder(ctx, st.MarketID(), sig.Side,
		sig.Price, sig.Size, st.Name(), sig.PostOnly, sig.ReduceOnly)
	if err != nil {
		s.logger.Error("signal execution failed",
			slog.String("strategy", st.Name()), slog.Any("error", err))
		return
	}
	s.logger.Info("executed signal",
		slog.String("strategy", st.Name()),
		slog.String("reason", sig.Reason))
}

// safetyOnce is one pass of the safety loop: refresh exchange truth,
// force-close positions past the hard stop, then feed the governor.
func (s *Supervisor) safetyOnce(ctx context.Context) {
	if err := s.ledger.Reconcile(ctx); err != nil {
		s.logger.Error("safety sync failed", slog.Any("error", err))
		return
	}

	s.settleTrades()

	positions := s.ledger.Positions()
	s.enforceHardStops(ctx, positions)

	unrealized := s.ledger.TotalUnrealizedPnL()
	equity := s.ledger.Equity().Add(unrealized)
	exposure := s.ledger.TotalExposure()
	realized := s.ledger.TotalRealizedPnL()
	s.governor.UpdateMetrics(equity, exposure, unrealized, realized)

	if s.journal != nil {
		if err := s.journal.RecordEquity(equity, exposure); err != nil {
			s.logger.Warn("equity snapshot failed", slog.Any("error", err))
		}
	}

	s.statusCounter++
	if s.statusCounter%3 == 0 {
		s.logStatus(equity, exposure, unrealized, len(positions))
	}
}

// settleTrades journals fills observed by the ledger and feeds exit
// outcomes back to the strategy that placed them, driving the win/loss
// streak and the cooldown.
func (s *Supervisor) settleTrades() {
	for _, st := range s.ledger.TakeSettled() {
		if s.journal != nil {
			if err := s.journal.RecordTrade(st.Order, st.PnL); err != nil {
				s.logger.Warn("trade journal write failed",
					slog.String("order_id", st.Order.ID), slog.Any("error", err))
			}
		}
		if !st.Order.ReduceOnly {
			continue
		}
		for _, strat := range s.strategies {
			if strat.Name() == st.Order.Strategy {
				strat.RecordTradeResult(st.PnL)
				s.logger.Info("trade settled",
					slog.String("strategy", strat.Name()),
					slog.Int("market", st.Order.MarketID),
					slog.String("pnl", st.PnL.StringFixed(4)))
			}
		}
	}
}

// enforceHardStops closes any position losing more than the hard stop
// limit. A market already being closed is skipped until the exchange
// confirms the position is gone.
func (s *Supervisor) enforceHardStops(ctx context.Context, positions []domain.Position) {
	present := make(map[int]bool, len(positions))
	for _, pos := range positions {
		present[pos.MarketID] = true
	}

	s.mu.Lock()
	for marketID := range s.hardStopMarkets {
		if !present[marketID] {
			s.logger.Info("hard stop close confirmed", slog.Int("market", marketID))
			delete(s.hardStopMarkets, marketID)
		}
	}
	s.mu.Unlock()

	for _, pos := range positions {
		if !pos.UnrealizedPnL.LessThan(hardStopLossUSD) {
			continue
		}

		s.mu.Lock()
		closing := s.hardStopMarkets[pos.MarketID]
		if !closing {
			s.hardStopMarkets[pos.MarketID] = true
		}
		s.mu.Unlock()
		if closing {
			continue
		}

		s.logger.Warn("HARD STOP: closing position",
			slog.Int("market", pos.MarketID),
			slog.String("unrealized_pnl", pos.UnrealizedPnL.StringFixed(2)))

		_, err := s.ledger.PlaceMarketOrder(ctx, pos.MarketID,
			pos.Side.Opposite(), pos.Size, "hard_stop", true)
		if err != nil {
			// Unmark so the next pass tries again.
			s.mu.Lock()
			delete(s.hardStopMarkets, pos.MarketID)
			s.mu.Unlock()
			s.logger.Error("hard stop order failed",
				slog.Int("market", pos.MarketID), slog.Any("error", err))
		}
	}
}

// Status is a point-in-time operational snapshot.
type Status struct {
	Risk           risk.Status
	OpenOrders     int
	OpenPositions  int
	HardStopActive bool
}

// Status reports the current operational state.
func (s *Supervisor) Status() Status {
	return Status{
		Risk:           s.governor.Snapshot(),
		OpenOrders:     len(s.ledger.OpenOrders(-1, "")),
		OpenPositions:  len(s.ledger.Positions()),
		HardStopActive: s.hardStopActive(),
	}
}

func (s *Supervisor) hardStopActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hardStopMarkets) > 0
}

// reconcileOnce is one pass of the reconcile loop.
func (s *Supervisor) reconcileOnce(ctx context.Context) {
	if err := s.ledger.Reconcile(ctx); err != nil {
		s.logger.Error("reconcile failed", slog.Any("error", err))
	}
}

// emergencyCloseAll force-closes every position. Called when the risk
// governor has halted trading.
func (s *Supervisor) emergencyCloseAll(ctx context.Context) {
	positions := s.ledger.Positions()
	if len(positions) == 0 {
		return
	}

	s.logger.Warn("EMERGENCY: closing all positions", slog.Int("count", len(positions)))
	for _, pos := range positions {
		_, err := s.ledger.PlaceMarketOrder(ctx, pos.MarketID,
			pos.Side.Opposite(), pos.Size, "emergency_close", true)
		if err != nil {
			s.logger.Error("emergency close failed",
				slog.Int("market", pos.MarketID), slog.Any("error", err))
		}
	}
}

// unwind is the shutdown path: cancel every resting order, then close
// every position.
func (s *Supervisor) unwind(ctx context.Context) {
	s.logger.Info("unwinding")

	for _, st := range s.strategies {
		st.Cleanup(ctx)
	}
	s.ledger.CancelAll(ctx, -1, "")

	if err := s.ledger.Reconcile(ctx); err != nil {
		s.logger.Error("final reconcile failed", slog.Any("error", err))
	}

	positions := s.ledger.Positions()
	if len(positions) > 0 {
		s.logger.Warn("closing open positions", slog.Int("count", len(positions)))
		for _, pos := range positions {
			_, err := s.ledger.PlaceMarketOrder(ctx, pos.MarketID,
				pos.Side.Opposite(), pos.Size, "shutdown", true)
			if err != nil {
				s.logger.Error("shutdown close failed",
					slog.Int("market", pos.MarketID), slog.Any("error", err))
			}
		}
	}

	// Shutdown closes settle at placement; flush them to the journal.
	s.settleTrades()

	status := s.governor.Snapshot()
	s.logger.Info("final status",
		slog.String("equity", status.Metrics.TotalEquity.StringFixed(2)),
		slog.String("realized_pnl", status.Metrics.RealizedPnL.StringFixed(4)),
		slog.String("max_drawdown_pct", status.Metrics.MaxDrawdown.StringFixed(1)))
	s.logger.Info("shutdown complete")
}

func (s *Supervisor) tradedMarkets() []int {
	seen := make(map[int]bool)
	var out []int
	for _, st := range s.strategies {
		if !seen[st.MarketID()] {
			seen[st.MarketID()] = true
			out = append(out, st.MarketID())
		}
	}
	return out
}

func (s *Supervisor) logStatus(equity, exposure, unrealized decimal.Decimal, positions int) {
	openOrders := len(s.ledger.OpenOrders(-1, ""))
	s.logger.Info("status",
		slog.String("equity", equity.StringFixed(2)),
		slog.String("exposure", exposure.StringFixed(2)),
		slog.String("unrealized_pnl", unrealized.StringFixed(4)),
		slog.Int("open_orders", openOrders),
		slog.Int("positions", positions),
		slog.Bool("hard_stop_active", s.hardStopActive()))

	for _, st := range s.strategies {
		stats := st.Stats()
		if stats.Trades > 0 {
			s.logger.Debug("strategy stats",
				slog.String("strategy", stats.Name),
				slog.Int("trades", stats.Trades),
				slog.String("win_rate", stats.WinRate.StringFixed(1)),
				slog.String("total_pnl", stats.TotalPnL.StringFixed(4)))
		}
	}
}
