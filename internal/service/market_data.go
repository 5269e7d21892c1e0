// Package service holds the market data cache shared by strategies and
// the supervisor loops.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"scalper_go/internal/domain"
)

// OrderBookCallback is invoked on every accepted depth update.
type OrderBookCallback func(marketID int, ob *domain.OrderBook)

const bookDepth = 20

// MarketData caches per-market depth snapshots and market metadata.
// Snapshots arrive from two sources: REST refreshes through the feed
// and pushed websocket updates via ApplyOrderBook. Both paths fan out
// to the registered callbacks.
type MarketData struct {
	mu         sync.RWMutex
	orderbooks map[int]*domain.OrderBook
	markets    map[int]domain.MarketInfo

	feed   domain.MarketFeed
	logger *slog.Logger

	cbMu      sync.RWMutex
	callbacks []OrderBookCallback
}

// NewMarketData creates the cache backed by the given feed.
func NewMarketData(feed domain.MarketFeed) *MarketData {
	return &MarketData{
		orderbooks: make(map[int]*domain.OrderBook),
		markets:    make(map[int]domain.MarketInfo),
		feed:       feed,
		logger:     slog.Default().With("module", "market_data"),
	}
}

// Initialize loads market metadata and a first depth snapshot for each
// target market. Snapshots are spaced out to stay inside REST limits.
func (m *MarketData) Initialize(ctx context.Context, targetMarkets []int) error {
	markets, err := m.feed.Markets(ctx)
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}

	m.mu.Lock()
	for _, info := range markets {
		m.markets[info.MarketID] = info
	}
	m.mu.Unlock()
	m.logger.Info("loaded markets", slog.Int("count", len(markets)))

	for i, marketID := range targetMarkets {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
		if _, err := m.RefreshOrderBook(ctx, marketID); err != nil {
			m.logger.Warn("initial depth snapshot failed",
				slog.Int("market", marketID), slog.Any("error", err))
		}
	}
	return nil
}

// RefreshOrderBook pulls a fresh snapshot over REST and caches it.
func (m *MarketData) RefreshOrderBook(ctx context.Context, marketID int) (*domain.OrderBook, error) {
	ob, err := m.feed.OrderBook(ctx, marketID, bookDepth)
	if err != nil {
		return nil, fmt.Errorf("refresh orderbook %d: %w", marketID, err)
	}
	m.ApplyOrderBook(ob)
	return ob, nil
}

// ApplyOrderBook caches a depth snapshot and notifies subscribers.
// The websocket stream pushes through here.
func (m *MarketData) ApplyOrderBook(ob *domain.OrderBook) {
	if ob == nil {
		return
	}

	m.mu.Lock()
	m.orderbooks[ob.MarketID] = ob
	m.mu.Unlock()

	m.cbMu.RLock()
	callbacks := m.callbacks
	m.cbMu.RUnlock()
	for _, cb := range callbacks {
		cb(ob.MarketID, ob)
	}
}

// Subscribe registers a callback for depth updates. Callbacks run on
// the updater's goroutine and must not block.
func (m *MarketData) Subscribe(cb OrderBookCallback) {
	m.cbMu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.cbMu.Unlock()
}

// OrderBook returns the cached snapshot for a market, nil if none yet.
func (m *MarketData) OrderBook(marketID int) *domain.OrderBook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orderbooks[marketID]
}

// Market returns cached metadata for a market.
func (m *MarketData) Market(marketID int) (domain.MarketInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.markets[marketID]
	return info, ok
}

// BestPrices returns the cached best bid and ask for a market.
func (m *MarketData) BestPrices(marketID int) (bid, ask decimal.Decimal, ok bool) {
	ob := m.OrderBook(marketID)
	if ob == nil {
		return decimal.Zero, decimal.Zero, false
	}
	b, okB := ob.BestBid()
	a, okA := ob.BestAsk()
	if !okB || !okA {
		return decimal.Zero, decimal.Zero, false
	}
	return b, a, true
}

// StaleBooks lists markets whose snapshot is older than maxAge.
func (m *MarketData) StaleBooks(maxAge time.Duration) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-maxAge)
	var stale []int
	for id, ob := range m.orderbooks {
		if ob.LastUpdate.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}
