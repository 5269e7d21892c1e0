// Package risk provides admission control for new risk and a global
// circuit breaker over the trading process.
package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"scalper_go/internal/domain"
)

// Limits are the static risk parameters for one trading identity.
type Limits struct {
	MaxPositionUSD  decimal.Decimal
	MaxLossUSD      decimal.Decimal
	MaxLeverage     decimal.Decimal
	DefaultLeverage decimal.Decimal
}

// Metrics is the process-wide risk state. Peak equity and max drawdown
// are monotone; nothing resets them except the explicit daily rollover.
type Metrics struct {
	TotalEquity   decimal.Decimal
	TotalExposure decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	DailyPnL      decimal.Decimal
	ExposurePct   decimal.Decimal
	MaxDrawdown   decimal.Decimal // percent
}

// Status is a read-only snapshot for reporting.
type Status struct {
	TradingAllowed bool
	StopReason     string
	Metrics        Metrics
}

var (
	hundred          = decimal.NewFromInt(100)
	maxDrawdownPct   = decimal.NewFromInt(50)
	safeSizeBuffer   = decimal.NewFromFloat(0.5)
	minViableSize    = decimal.NewFromFloat(0.0001)
	sizeQuantization = int32(4)
)

// Governor tracks equity, exposure and drawdown, and can unilaterally
// halt trading. A halt latches: once tripped, trading stays disallowed
// until an explicit Resume, regardless of later recovery in the metrics.
type Governor struct {
	mu             sync.Mutex
	limits         Limits
	initialCapital decimal.Decimal
	metrics        Metrics
	peakEquity     decimal.Decimal
	dayStartEquity decimal.Decimal
	stopped        bool
	stopReason     string
	logger         *slog.Logger
}

// NewGovernor initializes the governor from starting capital.
func NewGovernor(limits Limits, initialCapital decimal.Decimal) *Governor {
	return &Governor{
		limits:         limits,
		initialCapital: initialCapital,
		metrics:        Metrics{TotalEquity: initialCapital},
		peakEquity:     initialCapital,
		dayStartEquity: initialCapital,
		logger:         slog.Default().With("module", "risk_governor"),
	}
}

// UpdateMetrics recomputes derived metrics and evaluates halt conditions.
// Called once per reconciliation cycle.
func (g *Governor) UpdateMetrics(equity, exposure, unrealizedPnL, realizedPnL decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.metrics.TotalEquity = equity
	g.metrics.TotalExposure = exposure
	g.metrics.UnrealizedPnL = unrealizedPnL
	g.metrics.RealizedPnL = realizedPnL
	g.metrics.DailyPnL = equity.Sub(g.dayStartEquity)

	if equity.IsPositive() {
		g.metrics.ExposurePct = exposure.Div(equity).Mul(hundred)
	}

	if equity.GreaterThan(g.peakEquity) {
		g.peakEquity = equity
	}
	if g.peakEquity.IsPositive() {
		drawdown := g.peakEquity.Sub(equity).Div(g.peakEquity).Mul(hundred)
		if drawdown.GreaterThan(g.metrics.MaxDrawdown) {
			g.metrics.MaxDrawdown = drawdown
		}
	}

	g.checkStopConditions()
}

// checkStopConditions trips the halt latch. Caller holds the lock.
func (g *Governor) checkStopConditions() {
	totalLoss := g.initialCapital.Sub(g.metrics.TotalEquity)
	if totalLoss.GreaterThanOrEqual(g.limits.MaxLossUSD) {
		g.halt(fmt.Sprintf("max loss reached: $%s >= $%s",
			totalLoss.StringFixed(2), g.limits.MaxLossUSD.StringFixed(2)))
	}

	if g.metrics.MaxDrawdown.GreaterThanOrEqual(maxDrawdownPct) {
		g.halt(fmt.Sprintf("max drawdown reached: %s%%",
			g.metrics.MaxDrawdown.StringFixed(1)))
	}
}

func (g *Governor) halt(reason string) {
	if g.stopped {
		return
	}
	g.stopped = true
	g.stopReason = reason
	g.logger.Error("RISK STOP", slog.String("reason", reason))
}

// IsTradingAllowed reports whether the halt latch is clear.
func (g *Governor) IsTradingAllowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.stopped
}

// StopReason returns the halt reason, empty when trading is allowed.
func (g *Governor) StopReason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopReason
}

// CanOpenPosition admits or refuses new risk of the given dollar size.
func (g *Governor) CanOpenPosition(sizeUSD decimal.Decimal) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		reason := g.stopReason
		if reason == "" {
			reason = "trading stopped"
		}
		return false, reason
	}

	if sizeUSD.GreaterThan(g.limits.MaxPositionUSD) {
		return false, fmt.Sprintf("position size $%s exceeds max $%s",
			sizeUSD.StringFixed(2), g.limits.MaxPositionUSD.StringFixed(2))
	}

	newExposure := g.metrics.TotalExposure.Add(sizeUSD)
	maxExposure := g.metrics.TotalEquity.Mul(g.limits.MaxLeverage)
	if newExposure.GreaterThan(maxExposure) {
		return false, fmt.Sprintf("would exceed max exposure: $%s > $%s",
			newExposure.StringFixed(2), maxExposure.StringFixed(2))
	}

	return true, "ok"
}

// CalculateSafeSize derives a conservative max order size from available
// margin, floored at the minimum viable size (below that, zero).
func (g *Governor) CalculateSafeSize(price decimal.Decimal, _ domain.Side) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped || !price.IsPositive() {
		return decimal.Zero
	}

	available := g.metrics.TotalEquity.Sub(g.metrics.TotalExposure)
	maxPosUSD := decimal.Min(
		g.limits.MaxPositionUSD,
		available.Mul(g.limits.DefaultLeverage).Mul(safeSizeBuffer),
	)

	size := maxPosUSD.Div(price)
	if size.LessThan(minViableSize) {
		return decimal.Zero
	}
	return size.Round(sizeQuantization)
}

// ForceStop trips the halt latch with an external reason.
func (g *Governor) ForceStop(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	g.stopReason = reason
	g.logger.Error("FORCE STOP", slog.String("reason", reason))
}

// Resume clears the halt latch after manual review.
func (g *Governor) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		g.logger.Info("resuming trading", slog.String("was_stopped", g.stopReason))
		g.stopped = false
		g.stopReason = ""
	}
}

// ResetDailyStats rolls the daily PnL baseline to current equity.
func (g *Governor) ResetDailyStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dayStartEquity = g.metrics.TotalEquity
	g.logger.Info("daily stats reset")
}

// Snapshot returns a copy of the current status.
func (g *Governor) Snapshot() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		TradingAllowed: !g.stopped,
		StopReason:     g.stopReason,
		Metrics:        g.metrics,
	}
}
