// Package fixed holds the fixed-point conventions shared by every
// accounting package: basis points, USD scale and token conversions.
//
// Money is never float64.
// USD amounts and prices carry USDScale fractional digits; token amounts
// are truncated toward zero to the asset's decimals so the vault never
// pays out more than it holds.
package fixed

import (
	"github.com/shopspring/decimal"
)

// USDScale is the number of fractional digits kept on USD values, prices
// and funding rates.
const USDScale int32 = 30

// BasisPointsDivisor is 100%.
const BasisPointsDivisor int64 = 10000

var (
	bpsDivisor = decimal.NewFromInt(BasisPointsDivisor)
	two        = decimal.NewFromInt(2)
)

// Div divides at USD precision, truncating.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, USDScale+2).Truncate(USDScale)
}

// MulDiv returns a * b / c at USD precision.
func MulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	return Div(a.Mul(b), c)
}

// Bps returns bps as a decimal.
func Bps(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps)
}

// ApplyBps returns amount * bps / 10000 at USD precision.
func ApplyBps(amount decimal.Decimal, bps int64) decimal.Decimal {
	return Div(amount.Mul(Bps(bps)), bpsDivisor)
}

// AfterBps returns amount * (10000 - bps) / 10000 truncated to decimals.
func AfterBps(amount decimal.Decimal, bps int64, decimals int32) decimal.Decimal {
	return amount.Mul(Bps(BasisPointsDivisor - bps)).Div(bpsDivisor).Truncate(decimals)
}

// TokenToUSD values a token amount at price.
func TokenToUSD(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).Truncate(USDScale)
}

// USDToToken converts usd to tokens at price, truncated to decimals.
// A zero price yields zero.
func USDToToken(usd, price decimal.Decimal, decimals int32) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return usd.DivRound(price, decimals+2).Truncate(decimals)
}

// Spread moves price by spreadBps: up when maximise, down otherwise.
func Spread(price decimal.Decimal, spreadBps int64, maximise bool) decimal.Decimal {
	if spreadBps == 0 {
		return price
	}
	bps := BasisPointsDivisor - spreadBps
	if maximise {
		bps = BasisPointsDivisor + spreadBps
	}
	return price.Mul(Bps(bps)).Div(bpsDivisor).Truncate(USDScale)
}

// Half returns v / 2 at USD precision.
func Half(v decimal.Decimal) decimal.Decimal {
	return Div(v, two)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// FloorZero returns max(v, 0).
func FloorZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
