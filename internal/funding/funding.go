// Package funding accrues the periodic payment from the majority side of
// open interest to the minority side.
//
// Each index asset keeps one cumulative rate per side. Every whole
// interval the imbalance |L - S| is charged at RateFactor/RateFactorBase:
// the charge is spread over the majority side (its rate rises) and paid
// out over the minority side (its rate falls). A position owes
// size * (currentRate - entryRate); a negative amount is received.
//
// Rates are signed decimals with no midpoint offset. The total charged to
// one side always equals the total credited to the other, except when the
// minority side is empty and the pool absorbs the charge.
package funding

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/fixed"
	"github.com/ruscet/vault-engine/internal/model"
)

// RateFactorBase is the denominator of Params.RateFactor.
const RateFactorBase int64 = 1_000_000_000

var ErrInvalidInterval = errors.New("funding: interval must be positive")

// Params configures accrual.
type Params struct {
	Interval   time.Duration
	RateFactor int64
}

// Validate checks Params.
func (p Params) Validate() error {
	if p.Interval <= 0 {
		return ErrInvalidInterval
	}
	return nil
}

// Advance accrues every whole interval elapsed since info.LastFundingTime
// and returns the updated info. A first call only stamps the time.
// LastFundingTime moves forward by whole intervals so partial intervals
// keep accruing on the next call.
func Advance(info model.FundingInfo, now time.Time, p Params) model.FundingInfo {
	if p.Interval <= 0 {
		return info
	}
	if info.LastFundingTime.IsZero() {
		info.LastFundingTime = now.Truncate(p.Interval)
		return info
	}
	if !now.After(info.LastFundingTime) {
		return info
	}
	intervals := int64(now.Sub(info.LastFundingTime) / p.Interval)
	if intervals == 0 {
		return info
	}
	info.LastFundingTime = info.LastFundingTime.Add(time.Duration(intervals) * p.Interval)

	longs, shorts := info.TotalLongSizes, info.TotalShortSizes
	imbalance := longs.Sub(shorts).Abs()
	if imbalance.IsZero() || p.RateFactor == 0 {
		return info
	}
	total := fixed.MulDiv(
		imbalance.Mul(decimal.NewFromInt(intervals)),
		decimal.NewFromInt(p.RateFactor),
		decimal.NewFromInt(RateFactorBase),
	)

	if longs.GreaterThan(shorts) {
		info.CumulativeLongFundingRate = info.CumulativeLongFundingRate.Add(fixed.Div(total, longs))
		if shorts.IsPositive() {
			info.CumulativeShortFundingRate = info.CumulativeShortFundingRate.Sub(fixed.Div(total, shorts))
		}
	} else {
		info.CumulativeShortFundingRate = info.CumulativeShortFundingRate.Add(fixed.Div(total, shorts))
		if longs.IsPositive() {
			info.CumulativeLongFundingRate = info.CumulativeLongFundingRate.Sub(fixed.Div(total, longs))
		}
	}
	return info
}

// PositionFunding is what a position of size owes between entryRate and
// currentRate. Positive is owed by the position, negative is owed to it.
func PositionFunding(size, entryRate, currentRate decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() {
		return decimal.Zero
	}
	return size.Mul(currentRate.Sub(entryRate)).Truncate(fixed.USDScale)
}

// IncreaseOpenInterest adds sizeDelta to one side.
func IncreaseOpenInterest(info model.FundingInfo, isLong bool, sizeDelta decimal.Decimal) model.FundingInfo {
	if isLong {
		info.TotalLongSizes = info.TotalLongSizes.Add(sizeDelta)
	} else {
		info.TotalShortSizes = info.TotalShortSizes.Add(sizeDelta)
	}
	return info
}

// DecreaseOpenInterest removes sizeDelta from one side, clamping at zero.
func DecreaseOpenInterest(info model.FundingInfo, isLong bool, sizeDelta decimal.Decimal) model.FundingInfo {
	if isLong {
		info.TotalLongSizes = fixed.FloorZero(info.TotalLongSizes.Sub(sizeDelta))
	} else {
		info.TotalShortSizes = fixed.FloorZero(info.TotalShortSizes.Sub(sizeDelta))
	}
	return info
}

// Current projects info forward to now for read paths that must not
// stage the result.
func Current(info model.FundingInfo, now time.Time, p Params) model.FundingInfo {
	return Advance(info, now, p)
}
