// Package infra holds process-level plumbing: configuration and logging.
package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration. Sensitive values can
// be overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Network struct {
		BaseURL string `yaml:"base_url"`
		WSURL   string `yaml:"ws_url"`
	} `yaml:"network"`

	Account struct {
		APIKeyPrivateKey string `yaml:"api_key_private_key"`
		APIKeyIndex      int    `yaml:"api_key_index"`
		AccountIndex     int    `yaml:"account_index"`
	} `yaml:"account"`

	Trading struct {
		Markets         []int           `yaml:"markets"`
		Strategies      []string        `yaml:"strategies"`
		InitialCapital  decimal.Decimal `yaml:"initial_capital"`
		MaxPositionUSD  decimal.Decimal `yaml:"max_position_usd"`
		MaxLossUSD      decimal.Decimal `yaml:"max_loss_usd"`
		DefaultLeverage decimal.Decimal `yaml:"default_leverage"`
		MaxLeverage     decimal.Decimal `yaml:"max_leverage"`
		RiskPerTradePct decimal.Decimal `yaml:"risk_per_trade_pct"`

		MinSpreadBps    decimal.Decimal `yaml:"min_spread_bps"`
		TargetProfitBps decimal.Decimal `yaml:"target_profit_bps"`
		MMSpreadBps     decimal.Decimal `yaml:"mm_spread_bps"`
		MMOrderSizeUSD  decimal.Decimal `yaml:"mm_order_size_usd"`

		OrderRefreshSeconds     int `yaml:"order_refresh_seconds"`
		MaxConsecutiveLosses    int `yaml:"max_consecutive_losses"`
		CooldownAfterLossSecond int `yaml:"cooldown_after_loss_seconds"`
	} `yaml:"trading"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Network.BaseURL, "http://") && !strings.HasPrefix(c.Network.BaseURL, "https://") {
		return fmt.Errorf("invalid base URL: %s", c.Network.BaseURL)
	}
	if !strings.HasPrefix(c.Network.WSURL, "ws://") && !strings.HasPrefix(c.Network.WSURL, "wss://") {
		return fmt.Errorf("invalid WS URL: %s", c.Network.WSURL)
	}

	if len(c.Trading.Markets) == 0 {
		return fmt.Errorf("at least one market is required")
	}
	if len(c.Trading.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	if !c.Trading.InitialCapital.IsPositive() {
		return fmt.Errorf("initial capital must be positive")
	}
	if !c.Trading.MaxPositionUSD.IsPositive() {
		return fmt.Errorf("max position size must be positive")
	}
	if !c.Trading.MaxLossUSD.IsPositive() {
		return fmt.Errorf("max loss must be positive")
	}
	if c.Trading.MaxLeverage.LessThan(c.Trading.DefaultLeverage) {
		return fmt.Errorf("max leverage %s below default leverage %s",
			c.Trading.MaxLeverage, c.Trading.DefaultLeverage)
	}
	if c.Trading.OrderRefreshSeconds <= 0 {
		return fmt.Errorf("order refresh interval must be positive")
	}

	return nil
}

// OrderRefreshInterval converts the configured seconds to a Duration.
func (c *Config) OrderRefreshInterval() time.Duration {
	return time.Duration(c.Trading.OrderRefreshSeconds) * time.Second
}

// CooldownDuration converts the configured seconds to a Duration.
func (c *Config) CooldownDuration() time.Duration {
	return time.Duration(c.Trading.CooldownAfterLossSecond) * time.Second
}

// overrideWithEnv replaces values from the environment when set.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("SCALPER_API_KEY"); key != "" {
		cfg.Account.APIKeyPrivateKey = key
	}
	if idx := os.Getenv("SCALPER_API_KEY_INDEX"); idx != "" {
		if v, err := strconv.Atoi(idx); err == nil {
			cfg.Account.APIKeyIndex = v
		}
	}
	if idx := os.Getenv("SCALPER_ACCOUNT_INDEX"); idx != "" {
		if v, err := strconv.Atoi(idx); err == nil {
			cfg.Account.AccountIndex = v
		}
	}
	if maxLoss := os.Getenv("SCALPER_MAX_LOSS_USD"); maxLoss != "" {
		if v, err := decimal.NewFromString(maxLoss); err == nil {
			cfg.Trading.MaxLossUSD = v
		}
	}
}
