// Package storage persists the trade journal and equity history in a
// local SQLite database.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scalper_go/internal/domain"
)

// TradeRecord is one finalized order written to the journal.
type TradeRecord struct {
	ID        uint   `gorm:"primaryKey"`
	OrderID   string `gorm:"index"`
	MarketID  int
	Strategy  string `gorm:"index"`
	Side      string
	OrderType string
	Price     decimal.Decimal `gorm:"type:text"`
	Size      decimal.Decimal `gorm:"type:text"`
	PnL       decimal.Decimal `gorm:"type:text"`
	CreatedAt time.Time
}

// EquityPoint is a periodic snapshot of account equity and exposure.
type EquityPoint struct {
	ID        uint            `gorm:"primaryKey"`
	Equity    decimal.Decimal `gorm:"type:text"`
	Exposure  decimal.Decimal `gorm:"type:text"`
	CreatedAt time.Time       `gorm:"index"`
}

// Journal is the SQLite-backed trade journal.
type Journal struct {
	db *gorm.DB
}

// NewJournal opens (and migrates) the journal database at path.
func NewJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&TradeRecord{}, &EquityPoint{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Journal{db: db}, nil
}

// RecordTrade appends a finalized order to the journal.
func (j *Journal) RecordTrade(order domain.Order, pnl decimal.Decimal) error {
	rec := TradeRecord{
		OrderID:   order.ID,
		MarketID:  order.MarketID,
		Strategy:  order.Strategy,
		Side:      string(order.Side),
		OrderType: string(order.Type),
		Price:     order.Price,
		Size:      order.FilledSize,
		PnL:       pnl,
	}
	return j.db.Create(&rec).Error
}

// TradesSince returns journal entries created at or after the cutoff,
// newest first.
func (j *Journal) TradesSince(cutoff time.Time) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := j.db.Where("created_at >= ?", cutoff).
		Order("created_at desc").
		Find(&trades).Error
	return trades, err
}

// TradesByStrategy returns all journal entries for one strategy.
func (j *Journal) TradesByStrategy(strategy string) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := j.db.Where("strategy = ?", strategy).
		Order("created_at desc").
		Find(&trades).Error
	return trades, err
}

// RecordEquity appends an equity snapshot.
func (j *Journal) RecordEquity(equity, exposure decimal.Decimal) error {
	return j.db.Create(&EquityPoint{Equity: equity, Exposure: exposure}).Error
}

// LatestEquity returns the most recent equity snapshot, nil when the
// journal is empty.
func (j *Journal) LatestEquity() (*EquityPoint, error) {
	var point EquityPoint
	err := j.db.Order("created_at desc").First(&point).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &point, nil
}

// RealizedPnLSince sums journaled PnL at or after the cutoff.
func (j *Journal) RealizedPnLSince(cutoff time.Time) (decimal.Decimal, error) {
	trades, err := j.TradesSince(cutoff)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, tr := range trades {
		total = total.Add(tr.PnL)
	}
	return total, nil
}

// Close releases the underlying connection.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
