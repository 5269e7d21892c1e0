package lighter

import "github.com/shopspring/decimal"

// marketParams carries per-market precision and the exchange minimum
// order size. Integer amounts on the wire are the decimal values shifted
// by these exponents.
type marketParams struct {
	sizeDecimals  int32
	priceDecimals int32
	minSize       decimal.Decimal
}

var marketTable = map[int]marketParams{
	0: {4, 2, decimal.NewFromFloat(0.006)},   // ETH
	1: {5, 1, decimal.NewFromFloat(0.00025)}, // BTC
	2: {3, 3, decimal.NewFromFloat(0.1)},     // SOL
	7: {0, 6, decimal.NewFromInt(20)},        // XRP, whole units only
	8: {1, 5, decimal.NewFromInt(1)},         // LINK
}

var defaultParams = marketParams{4, 2, decimal.NewFromFloat(0.001)}

var marketSymbols = map[int]string{
	0: "ETH",
	1: "BTC",
	2: "SOL",
	7: "XRP",
	8: "LINK",
}

func paramsFor(marketID int) marketParams {
	if p, ok := marketTable[marketID]; ok {
		return p
	}
	return defaultParams
}

func symbolFor(marketID int) string {
	if s, ok := marketSymbols[marketID]; ok {
		return s
	}
	return "MKT" + decimal.NewFromInt(int64(marketID)).String()
}

// quantizeSize rounds the size down to the market's precision and
// enforces the exchange minimum.
func quantizeSize(size decimal.Decimal, marketID int) decimal.Decimal {
	p := paramsFor(marketID)
	q := size.RoundDown(p.sizeDecimals)
	return decimal.Max(q, p.minSize)
}

// toBaseUnits converts a decimal size to the wire integer amount.
func toBaseUnits(size decimal.Decimal, marketID int) int64 {
	return size.Shift(paramsFor(marketID).sizeDecimals).IntPart()
}

// toPriceUnits converts a decimal price to the wire integer amount.
func toPriceUnits(price decimal.Decimal, marketID int) int64 {
	return price.Shift(paramsFor(marketID).priceDecimals).IntPart()
}

// fromPriceUnits is the inverse of toPriceUnits.
func fromPriceUnits(units int64, marketID int) decimal.Decimal {
	return decimal.NewFromInt(units).Shift(-paramsFor(marketID).priceDecimals)
}
