// Package app wires the process together at startup.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"scalper_go/internal/engine"
	"scalper_go/internal/execution"
	"scalper_go/internal/infra"
	"scalper_go/internal/infra/lighter"
	"scalper_go/internal/infra/storage"
	"scalper_go/internal/ledger"
	"scalper_go/internal/risk"
	"scalper_go/internal/service"
	"scalper_go/internal/strategy"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Journal    *storage.Journal
	Client     *lighter.Client
	Ledger     *ledger.Ledger
	Governor   *risk.Governor
	MarketData *service.MarketData
	Stream     *lighter.Stream
	Supervisor *engine.Supervisor
	Strategies []strategy.Strategy
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logging,
// storage, exchange connectivity and the trading components.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	slog.Info("🚀 Bootstrapping scalper...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Trade journal (DB)
	journal, err := storage.NewJournal(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Journal = journal
	slog.Info("✅ Trade journal initialized")

	// 4. Exchange client and submission gate
	b.Client = lighter.NewClient(lighter.Options{
		BaseURL:          cfg.Network.BaseURL,
		APIKeyPrivateKey: cfg.Account.APIKeyPrivateKey,
		APIKeyIndex:      cfg.Account.APIKeyIndex,
		AccountIndex:     cfg.Account.AccountIndex,
	})
	gate := execution.NewGate(b.Client, execution.DefaultMinInterval)
	b.Ledger = ledger.New(b.Client, gate)

	// 5. Risk governor, seeded from live equity when reachable
	capital := cfg.Trading.InitialCapital
	if snap, err := b.Client.AccountInfo(ctx); err == nil && snap.Equity.IsPositive() {
		capital = snap.Equity
		slog.Info("✅ Account connected",
			slog.String("equity", capital.StringFixed(2)))
	} else {
		slog.Warn("could not fetch account info, using configured capital",
			slog.String("capital", capital.StringFixed(2)))
	}
	b.Governor = risk.NewGovernor(risk.Limits{
		MaxPositionUSD:  cfg.Trading.MaxPositionUSD,
		MaxLossUSD:      cfg.Trading.MaxLossUSD,
		MaxLeverage:     cfg.Trading.MaxLeverage,
		DefaultLeverage: cfg.Trading.DefaultLeverage,
	}, capital)

	// 6. Market data cache plus the websocket stream
	b.MarketData = service.NewMarketData(b.Client)
	if err := b.MarketData.Initialize(ctx, cfg.Trading.Markets); err != nil {
		slog.Warn("market data initialization incomplete", slog.Any("error", err))
	}
	b.Stream = lighter.NewStream(cfg.Network.WSURL, cfg.Trading.Markets, b.MarketData.ApplyOrderBook)

	// 7. Strategies, one per market
	if err := b.buildStrategies(); err != nil {
		return err
	}
	slog.Info("✅ Strategies initialized", slog.Int("count", len(b.Strategies)))

	// 8. Supervisor
	b.Supervisor = engine.New(engine.DefaultConfig(), b.Ledger, b.Governor,
		b.MarketData, b.Journal, b.Strategies)

	// Pick up any state left over from a previous run before trading.
	if err := b.Ledger.Reconcile(ctx); err != nil {
		slog.Warn("initial reconcile failed", slog.Any("error", err))
	}

	slog.Info("✨ Bootstrap complete")
	return nil
}

// buildStrategies pairs each configured strategy with its market.
// One strategy per market keeps them from trading against each other.
func (b *Bootstrap) buildStrategies() error {
	cfg := b.Config
	if len(cfg.Trading.Strategies) != len(cfg.Trading.Markets) {
		return fmt.Errorf("strategies (%d) and markets (%d) must pair up one to one",
			len(cfg.Trading.Strategies), len(cfg.Trading.Markets))
	}

	scfg := strategy.Config{
		MaxPositionUSD:       cfg.Trading.MaxPositionUSD,
		DefaultLeverage:      cfg.Trading.DefaultLeverage,
		RiskPerTradePct:      cfg.Trading.RiskPerTradePct,
		MinSpreadBps:         cfg.Trading.MinSpreadBps,
		TargetProfitBps:      cfg.Trading.TargetProfitBps,
		MMSpreadBps:          cfg.Trading.MMSpreadBps,
		MMOrderSizeUSD:       cfg.Trading.MMOrderSizeUSD,
		OrderRefreshInterval: cfg.OrderRefreshInterval(),
		MaxConsecutiveLosses: cfg.Trading.MaxConsecutiveLosses,
		CooldownDuration:     cfg.CooldownDuration(),
	}

	for i, name := range cfg.Trading.Strategies {
		marketID := cfg.Trading.Markets[i]
		var st strategy.Strategy
		switch name {
		case "market_maker":
			st = strategy.NewMarketMaker(marketID, scfg, b.Ledger)
		case "momentum":
			st = strategy.NewMomentum(marketID, scfg, b.Ledger)
		case "spread_scalper":
			st = strategy.NewSpreadScalper(marketID, scfg, b.Ledger)
		default:
			return fmt.Errorf("unknown strategy %q", name)
		}
		b.Strategies = append(b.Strategies, st)
		slog.Info("strategy ready",
			slog.String("strategy", name), slog.Int("market", marketID))
	}
	return nil
}

// Close releases held resources.
func (b *Bootstrap) Close() {
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Warn("journal close failed", slog.Any("error", err))
		}
	}
}
