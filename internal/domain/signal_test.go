package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewTradeSignal_Valid(t *testing.T) {
	sig, err := NewTradeSignal(SideBuy, decimal.NewFromInt(100), decimal.NewFromFloat(0.1), "test entry")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sig.NotionalUSD().Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected notional 10, got %s", sig.NotionalUSD())
	}
}

func TestNewTradeSignal_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		side   Side
		price  decimal.Decimal
		size   decimal.Decimal
		reason string
	}{
		{"bad side", Side("hold"), decimal.NewFromInt(100), decimal.NewFromInt(1), "r"},
		{"zero price", SideBuy, decimal.Zero, decimal.NewFromInt(1), "r"},
		{"negative size", SideSell, decimal.NewFromInt(100), decimal.NewFromInt(-1), "r"},
		{"missing reason", SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1), ""},
	}

	for _, c := range cases {
		if _, err := NewTradeSignal(c.side, c.price, c.size, c.reason); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}
