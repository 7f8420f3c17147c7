// Package fees implements the dynamic fee curve that prices deposits,
// redemptions and swaps by how they move an asset's share of stable debt
// relative to its target weight.
//
// Moving an asset toward its target earns a rebate off the base fee;
// moving it away pays a tax proportional to the average deviation. The
// curve is stateless: ledger state is read through DebtView.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/fixed"
	"github.com/ruscet/vault-engine/internal/model"
)

// DebtView is the slice of ledger state the curve reads.
type DebtView interface {
	StableDebt(asset string) decimal.Decimal
	TotalStableDebt() decimal.Decimal
	Weight(asset string) int64
	TotalWeight() int64
}

// TargetDebt returns the stable debt asset should carry at its target
// weight. Zero when no weight is configured.
func TargetDebt(v DebtView, asset string) decimal.Decimal {
	total := v.TotalWeight()
	if total == 0 {
		return decimal.Zero
	}
	supply := v.TotalStableDebt()
	return fixed.MulDiv(decimal.NewFromInt(v.Weight(asset)), supply, decimal.NewFromInt(total))
}

// BasisPoints returns the fee in bps for moving asset's stable debt by
// usdDelta in the given direction.
//
// With dynamic fees off, or no target, baseBps is returned unchanged. The
// result always lies in [0, baseBps+taxBps].
func BasisPoints(v DebtView, dynamic bool, asset string, usdDelta decimal.Decimal, baseBps, taxBps int64, increment bool) int64 {
	if !dynamic {
		return baseBps
	}

	initial := v.StableDebt(asset)
	next := initial.Add(usdDelta)
	if !increment {
		next = fixed.FloorZero(initial.Sub(usdDelta))
	}

	target := TargetDebt(v, asset)
	if !target.IsPositive() {
		return baseBps
	}

	initialDiff := initial.Sub(target).Abs()
	nextDiff := next.Sub(target).Abs()
	tax := decimal.NewFromInt(taxBps)

	// moving toward target: rebate
	if nextDiff.LessThan(initialDiff) {
		rebate := fixed.MulDiv(tax, initialDiff, target).Floor().IntPart()
		if rebate > baseBps {
			return 0
		}
		return baseBps - rebate
	}

	avgDiff := fixed.Half(initialDiff.Add(nextDiff))
	if avgDiff.GreaterThan(target) {
		avgDiff = target
	}
	extra := fixed.MulDiv(tax, avgDiff, target).Floor().IntPart()
	if extra > taxBps {
		extra = taxBps
	}
	return baseBps + extra
}

// BuyBasisPoints prices a stable-debt mint against asset.
func BuyBasisPoints(v DebtView, cfg model.FeeConfig, asset string, usd decimal.Decimal) int64 {
	return BasisPoints(v, cfg.HasDynamicFees, asset, usd, cfg.MintBurnFeeBps, cfg.TaxBps, true)
}

// SellBasisPoints prices a stable-debt redemption into asset.
func SellBasisPoints(v DebtView, cfg model.FeeConfig, asset string, usd decimal.Decimal) int64 {
	return BasisPoints(v, cfg.HasDynamicFees, asset, usd, cfg.MintBurnFeeBps, cfg.TaxBps, false)
}

// SwapBasisPoints prices a swap as the worse of the two legs. Swaps between
// two stable assets use the stable schedule.
func SwapBasisPoints(v DebtView, cfg model.FeeConfig, assetIn, assetOut string, usd decimal.Decimal, stableSwap bool) int64 {
	base, tax := cfg.SwapFeeBps, cfg.TaxBps
	if stableSwap {
		base, tax = cfg.StableSwapFeeBps, cfg.StableTaxBps
	}
	in := BasisPoints(v, cfg.HasDynamicFees, assetIn, usd, base, tax, true)
	out := BasisPoints(v, cfg.HasDynamicFees, assetOut, usd, base, tax, false)
	if in > out {
		return in
	}
	return out
}

// MarginFee is the USD position fee charged on sizeDelta.
func MarginFee(cfg model.FeeConfig, sizeDelta decimal.Decimal) decimal.Decimal {
	if !sizeDelta.IsPositive() {
		return decimal.Zero
	}
	return fixed.ApplyBps(sizeDelta, cfg.MarginFeeBps)
}
