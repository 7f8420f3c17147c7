package vault

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/fees"
	"github.com/ruscet/vault-engine/internal/funding"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/pnl"
)

// DefaultMaxLeverage applies when an index asset has no configured cap.
const DefaultMaxLeverage int64 = 50 * 10000

// LiquidationState is the outcome of a liquidation check.
type LiquidationState int

const (
	LiquidationOK LiquidationState = iota
	LiquidationLossesExceedCollateral
	LiquidationMaxLeverageExceeded
)

func (s LiquidationState) String() string {
	switch s {
	case LiquidationOK:
		return "ok"
	case LiquidationLossesExceedCollateral:
		return "losses_exceed_collateral"
	case LiquidationMaxLeverageExceeded:
		return "max_leverage_exceeded"
	default:
		return "unknown"
	}
}

// LiquidationCheck is the tagged result of validating a position. Err
// names the breached rule and is nil when State is LiquidationOK.
type LiquidationCheck struct {
	State      LiquidationState `json:"state"`
	MarginFees decimal.Decimal  `json:"margin_fees"`
	Remaining  decimal.Decimal  `json:"remaining_collateral"`
	Err        error            `json:"-"`
}

// Reason returns the breached rule as text.
func (c LiquidationCheck) Reason() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}

// LiquidateRequest names a position to liquidate. FeeReceiver collects the
// liquidation fee and defaults to Caller.
type LiquidateRequest struct {
	Caller          string `json:"caller"`
	Account         string `json:"account"`
	CollateralAsset string `json:"collateral_asset"`
	IndexAsset      string `json:"index_asset"`
	IsLong          bool   `json:"is_long"`
	FeeReceiver     string `json:"fee_receiver"`
}

// Key returns the position key the request targets.
func (r LiquidateRequest) Key() model.PositionKey {
	return model.PositionKey{Account: r.Account, CollateralAsset: r.CollateralAsset, IndexAsset: r.IndexAsset, IsLong: r.IsLong}
}

// LiquidationResult reports a committed liquidation.
type LiquidationResult struct {
	Receipt
	State          LiquidationState `json:"state"`
	MarginFees     decimal.Decimal  `json:"margin_fees"`
	LiquidationFee decimal.Decimal  `json:"liquidation_fee"`
	AmountOut      decimal.Decimal  `json:"amount_out"` // collateral tokens returned to the account
}

func (o *op) maxLeverage(index string) int64 {
	cfg, _ := o.tx.Asset(index)
	if cfg.MaxLeverage > 0 {
		return cfg.MaxLeverage
	}
	return DefaultMaxLeverage
}

// validateLiquidation classifies pos against info's cumulative rates. Only
// a failure to price the position is returned as an error.
func (o *op) validateLiquidation(pos model.Position, info model.FundingInfo) (LiquidationCheck, error) {
	check := LiquidationCheck{State: LiquidationOK, MarginFees: decimal.Zero, Remaining: pos.Collateral}
	if pos.IsEmpty() {
		return check, nil
	}
	hasProfit, delta, err := o.positionDelta(pos)
	if err != nil {
		return check, err
	}

	owed := funding.PositionFunding(pos.Size, pos.EntryFundingRate, info.RateFor(pos.Key.IsLong))
	positionFee := fees.MarginFee(o.settings.Fees, pos.Size)
	check.MarginFees = positionFee
	if owed.IsPositive() {
		check.MarginFees = check.MarginFees.Add(owed)
	}

	losses := decimal.Zero
	if !hasProfit {
		losses = delta
	}
	if owed.IsPositive() {
		losses = losses.Add(owed)
	}
	if pos.Collateral.LessThan(losses) {
		check.State = LiquidationLossesExceedCollateral
		check.Remaining = decimal.Zero
		check.Err = fmt.Errorf("%w: losses %s, collateral %s", ErrLossesExceedCollateral, losses, pos.Collateral)
		return check, nil
	}

	remaining := pos.Collateral.Sub(losses)
	if owed.IsNegative() {
		remaining = remaining.Sub(owed)
	}
	check.Remaining = remaining

	if remaining.LessThan(positionFee) {
		check.State = LiquidationLossesExceedCollateral
		check.Err = fmt.Errorf("%w: remaining %s, fees %s", ErrInsufficientCollateralForFees, remaining, positionFee)
		return check, nil
	}
	liqFee := o.settings.Fees.LiquidationFeeUSD
	if remaining.LessThan(positionFee.Add(liqFee)) {
		check.State = LiquidationLossesExceedCollateral
		check.Err = fmt.Errorf("%w: remaining %s, fees %s", ErrLiquidationFeesExceedCollateral, remaining, positionFee.Add(liqFee))
		return check, nil
	}
	backing := remaining.Sub(positionFee).Sub(liqFee)
	if pnl.ExceedsLeverage(pos.Size, backing, o.maxLeverage(pos.Key.IndexAsset)) {
		check.State = LiquidationMaxLeverageExceeded
		check.Err = fmt.Errorf("%w: size %s, collateral after fees %s", ErrMaxLeverageExceeded, pos.Size, backing)
	}
	return check, nil
}

// checkHealthy rejects a position left insolvent by an increase or a
// partial decrease. Its leverage is measured on collateral after losses
// only; the fees a liquidation would charge are not counted against it.
func (o *op) checkHealthy(pos model.Position, info model.FundingInfo) error {
	check, err := o.validateLiquidation(pos, info)
	if err != nil {
		return err
	}
	if check.State == LiquidationLossesExceedCollateral {
		return check.Err
	}
	if pnl.ExceedsLeverage(pos.Size, check.Remaining, o.maxLeverage(pos.Key.IndexAsset)) {
		return fmt.Errorf("%w: size %s, collateral %s", ErrMaxLeverageExceeded, pos.Size, check.Remaining)
	}
	return nil
}

// ValidateLiquidation reports whether the position under key can be
// liquidated. With raise, a non-OK state is also returned as its error.
func (e *Engine) ValidateLiquidation(key model.PositionKey, raise bool) (LiquidationCheck, error) {
	var check LiquidationCheck
	err := e.view(assetsOf(key.CollateralAsset, key.IndexAsset), func(o *op) error {
		pos := o.tx.Position(key)
		if pos.IsEmpty() {
			return ErrEmptyPosition
		}
		info := funding.Current(o.tx.Funding(key.IndexAsset), o.now, o.fundingParams())
		var err error
		check, err = o.validateLiquidation(pos, info)
		return err
	})
	if err != nil {
		return check, err
	}
	if raise && check.Err != nil {
		return check, check.Err
	}
	return check, nil
}

// LiquidatePosition closes an unhealthy position. Positions over the
// leverage cap go through the normal close path with the liquidation fee
// deducted from the payout; insolvent ones are seized by the pool.
func (e *Engine) LiquidatePosition(req LiquidateRequest) (*LiquidationResult, error) {
	res := &LiquidationResult{}
	rc, err := e.execute(model.EventLiquidate, assetsOf(req.CollateralAsset, req.IndexAsset), func(o *op) error {
		if !o.settings.Liquidators[req.Caller] {
			return fmt.Errorf("%w: %s", ErrInvalidLiquidator, req.Caller)
		}
		key := req.Key()
		if _, _, err := o.existingPair(key); err != nil {
			return err
		}
		receiver := req.FeeReceiver
		if receiver == "" {
			receiver = req.Caller
		}

		info := o.advanceFunding(key.IndexAsset)
		pos := o.tx.Position(key)
		if pos.IsEmpty() {
			return ErrEmptyPosition
		}
		check, err := o.validateLiquidation(pos, info)
		if err != nil {
			return err
		}
		res.State, res.MarginFees = check.State, check.MarginFees

		switch check.State {
		case LiquidationOK:
			return ErrPositionCannotBeLiquidated
		case LiquidationMaxLeverageExceeded:
			var closed PositionResult
			liqFee := o.settings.Fees.LiquidationFeeUSD
			if err := o.decrease(key, decimal.Zero, pos.Size, key.Account, liqFee, receiver, &closed); err != nil {
				return err
			}
			res.LiquidationFee, res.AmountOut = liqFee, closed.AmountOut
		default:
			liqFee, err := o.seize(pos, info, receiver)
			if err != nil {
				return err
			}
			res.LiquidationFee = liqFee
		}

		o.emit(model.Event{
			Account:   key.Account,
			Asset:     key.CollateralAsset,
			Asset2:    key.IndexAsset,
			Position:  key.String(),
			AmountOut: res.AmountOut,
			USD:       pos.Size,
			Fee:       res.LiquidationFee,
			Detail:    check.State.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Receipt = *rc

	e.log.Info("position liquidated",
		"key", req.Key().String(),
		"state", res.State.String(),
		"liquidator", req.Caller,
		"liquidation_fee", res.LiquidationFee.String(),
	)
	return res, nil
}

// seize hands an insolvent position's collateral to the pool. The margin
// fee goes to fee reserves and the liquidation fee, capped at what is left
// of the collateral, to receiver.
func (o *op) seize(pos model.Position, info model.FundingInfo, receiver string) (decimal.Decimal, error) {
	key := pos.Key
	asset := key.CollateralAsset
	before := pos

	if err := o.tx.DecreaseReservedAmount(asset, pos.ReserveAmount); err != nil {
		return decimal.Zero, err
	}

	marginFee := decimal.Min(fees.MarginFee(o.settings.Fees, pos.Size), pos.Collateral)
	feeTokens, err := o.usdToTokenMin(asset, marginFee)
	if err != nil {
		return decimal.Zero, err
	}
	if err := o.tx.CollectFees(asset, feeTokens); err != nil {
		return decimal.Zero, err
	}

	liqFee := decimal.Min(o.settings.Fees.LiquidationFeeUSD, pos.Collateral.Sub(marginFee))
	liqTokens, err := o.usdToTokenMin(asset, liqFee)
	if err != nil {
		return decimal.Zero, err
	}
	if err := o.tx.DecreasePoolAmount(asset, liqTokens); err != nil {
		return decimal.Zero, err
	}
	if err := o.transfer(asset, receiver, liqTokens); err != nil {
		return decimal.Zero, err
	}

	if !key.IsLong {
		short := o.tx.GlobalShort(key.IndexAsset)
		short.Size = decimal.Max(short.Size.Sub(pos.Size), decimal.Zero)
		o.tx.PutGlobalShort(short)
	}
	o.syncGuaranteed(before, model.NewPosition(key))
	o.tx.PutFunding(funding.DecreaseOpenInterest(info, key.IsLong, pos.Size))
	o.tx.ClearPosition(key)

	o.emit(model.Event{
		Type:     model.EventCollectFees,
		Account:  key.Account,
		Asset:    asset,
		Position: key.String(),
		Fee:      marginFee,
	})
	return liqFee, nil
}
