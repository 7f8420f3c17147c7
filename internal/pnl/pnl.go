// Package pnl implements the stateless position arithmetic: unrealized
// profit and loss, weighted average entry prices and leverage.
// Sizes and deltas are USD; prices are USD per index token.
package pnl

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/fixed"
)

// ErrInvalidAveragePrice is returned when a non-empty position carries a
// zero average price.
var ErrInvalidAveragePrice = errors.New("pnl: average price must be positive")

var bpsDivisor = decimal.NewFromInt(fixed.BasisPointsDivisor)

// Delta returns whether a position is in profit and the absolute USD
// value of its unrealized PnL at price.
//
// Profits no larger than minProfitBps of size are reported as zero while
// the position is still inside its minimum profit window, which stops
// front-running of small oracle moves.
func Delta(size, averagePrice, price decimal.Decimal, isLong bool, minProfitBps int64, inMinProfitWindow bool) (bool, decimal.Decimal, error) {
	if !averagePrice.IsPositive() {
		return false, decimal.Zero, ErrInvalidAveragePrice
	}
	priceDelta := averagePrice.Sub(price).Abs()
	delta := fixed.MulDiv(size, priceDelta, averagePrice)

	hasProfit := averagePrice.GreaterThan(price)
	if isLong {
		hasProfit = price.GreaterThan(averagePrice)
	}

	if hasProfit && inMinProfitWindow && minProfitBps > 0 &&
		delta.Mul(bpsDivisor).LessThanOrEqual(size.Mul(decimal.NewFromInt(minProfitBps))) {
		delta = decimal.Zero
	}
	return hasProfit, delta, nil
}

// NextAveragePrice returns the average entry price after adding sizeDelta
// at nextPrice to a position of size with unrealized (hasProfit, delta).
//
// The result keeps the position's unrealized PnL at nextPrice unchanged:
// a long in profit by delta ends with avg = nextPrice*nextSize/(nextSize+delta).
func NextAveragePrice(size, averagePrice decimal.Decimal, isLong bool, nextPrice, sizeDelta decimal.Decimal, hasProfit bool, delta decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() || !averagePrice.IsPositive() {
		return nextPrice
	}
	nextSize := size.Add(sizeDelta)
	var divisor decimal.Decimal
	if isLong {
		if hasProfit {
			divisor = nextSize.Add(delta)
		} else {
			divisor = nextSize.Sub(delta)
		}
	} else {
		if hasProfit {
			divisor = nextSize.Sub(delta)
		} else {
			divisor = nextSize.Add(delta)
		}
	}
	if !divisor.IsPositive() {
		return nextPrice
	}
	return fixed.MulDiv(nextPrice, nextSize, divisor)
}

// NextGlobalShortAveragePrice folds sizeDelta at nextPrice into the
// aggregate short book of size at averagePrice.
func NextGlobalShortAveragePrice(size, averagePrice, nextPrice, sizeDelta decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() || !averagePrice.IsPositive() {
		return nextPrice
	}
	hasProfit, delta, _ := Delta(size, averagePrice, nextPrice, false, 0, false)
	return NextAveragePrice(size, averagePrice, false, nextPrice, sizeDelta, hasProfit, delta)
}

// Leverage returns size/collateral in basis points. Zero collateral yields
// zero.
func Leverage(size, collateral decimal.Decimal) decimal.Decimal {
	if !collateral.IsPositive() {
		return decimal.Zero
	}
	return fixed.MulDiv(size, bpsDivisor, collateral)
}

// ExceedsLeverage reports whether remaining collateral fails to back size
// at maxLeverageBps.
func ExceedsLeverage(size, remaining decimal.Decimal, maxLeverageBps int64) bool {
	return remaining.Mul(decimal.NewFromInt(maxLeverageBps)).LessThan(size.Mul(bpsDivisor))
}
