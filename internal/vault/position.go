package vault

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/fees"
	"github.com/ruscet/vault-engine/internal/fixed"
	"github.com/ruscet/vault-engine/internal/funding"
	"github.com/ruscet/vault-engine/internal/limits"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/pnl"
)

// IncreaseRequest opens or grows a position. AmountIn is collateral in
// CollateralAsset tokens; SizeDelta is USD. A zero SizeDelta with a
// positive AmountIn deposits collateral only.
type IncreaseRequest struct {
	Caller          string          `json:"caller"`
	Account         string          `json:"account"`
	CollateralAsset string          `json:"collateral_asset"`
	IndexAsset      string          `json:"index_asset"`
	AmountIn        decimal.Decimal `json:"amount_in"`
	SizeDelta       decimal.Decimal `json:"size_delta"`
	IsLong          bool            `json:"is_long"`
}

// Key returns the position key the request targets.
func (r IncreaseRequest) Key() model.PositionKey {
	return model.PositionKey{Account: r.Account, CollateralAsset: r.CollateralAsset, IndexAsset: r.IndexAsset, IsLong: r.IsLong}
}

// DecreaseRequest shrinks or closes a position. Both deltas are USD. A
// zero SizeDelta with a positive CollateralDelta withdraws collateral only.
type DecreaseRequest struct {
	Caller          string          `json:"caller"`
	Account         string          `json:"account"`
	CollateralAsset string          `json:"collateral_asset"`
	IndexAsset      string          `json:"index_asset"`
	CollateralDelta decimal.Decimal `json:"collateral_delta"`
	SizeDelta       decimal.Decimal `json:"size_delta"`
	IsLong          bool            `json:"is_long"`
	Receiver        string          `json:"receiver"`
}

// Key returns the position key the request targets.
func (r DecreaseRequest) Key() model.PositionKey {
	return model.PositionKey{Account: r.Account, CollateralAsset: r.CollateralAsset, IndexAsset: r.IndexAsset, IsLong: r.IsLong}
}

// PositionResult reports a committed position change.
type PositionResult struct {
	Receipt
	Position  model.Position  `json:"position"`
	Fee       decimal.Decimal `json:"fee"`        // USD margin fee charged
	Funding   decimal.Decimal `json:"funding"`    // USD settled, positive when paid
	AmountOut decimal.Decimal `json:"amount_out"` // collateral tokens paid out
}

// checkCaller allows the account itself or a router it approved.
func (o *op) checkCaller(caller, account string) error {
	if caller == account {
		return nil
	}
	if o.settings.Routers[account][caller] {
		return nil
	}
	return fmt.Errorf("%w: %s for %s", ErrInvalidMsgCaller, caller, account)
}

// validatePair enforces the collateral/index pairing rules for opening or
// growing a position. Both assets must be whitelisted.
func (o *op) validatePair(key model.PositionKey) (model.AssetConfig, model.AssetConfig, error) {
	return o.pairConfigs(key, true)
}

// existingPair is validatePair for positions that may outlive their
// assets' whitelisting: closing and liquidating only need the configs.
func (o *op) existingPair(key model.PositionKey) (model.AssetConfig, model.AssetConfig, error) {
	return o.pairConfigs(key, false)
}

func (o *op) pairConfigs(key model.PositionKey, whitelisted bool) (model.AssetConfig, model.AssetConfig, error) {
	col, ok := o.tx.Asset(key.CollateralAsset)
	if !ok || (whitelisted && !col.Whitelisted) {
		return col, col, fmt.Errorf("%w: %s", ErrCollateralAssetNotWhitelisted, key.CollateralAsset)
	}
	idx, ok := o.tx.Asset(key.IndexAsset)
	if !ok || (whitelisted && !idx.Whitelisted) {
		return col, idx, fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, key.IndexAsset)
	}
	if key.IsLong {
		if key.CollateralAsset != key.IndexAsset {
			return col, idx, ErrLongCollateralIndexAssetsMismatch
		}
		if col.IsStable {
			return col, idx, ErrLongCollateralAssetMustNotBeStableAsset
		}
		return col, idx, nil
	}
	if !col.IsStable {
		return col, idx, ErrShortCollateralAssetMustBeStableAsset
	}
	if idx.IsStable {
		return col, idx, ErrShortIndexAssetMustNotBeStableAsset
	}
	if !idx.IsShortable {
		return col, idx, ErrShortIndexAssetNotShortable
	}
	return col, idx, nil
}

// markPrice is the price a position is valued at: min for longs, max for
// shorts.
func (o *op) markPrice(key model.PositionKey) (decimal.Decimal, error) {
	return o.price(key.IndexAsset, !key.IsLong)
}

// positionDelta returns the unrealized PnL of pos at the mark price.
func (o *op) positionDelta(pos model.Position) (bool, decimal.Decimal, error) {
	price, err := o.markPrice(pos.Key)
	if err != nil {
		return false, decimal.Zero, err
	}
	idx, _ := o.tx.Asset(pos.Key.IndexAsset)
	inWindow := !o.now.After(pos.LastIncreasedTime.Add(o.settings.Fees.MinProfitTime))
	return pnl.Delta(pos.Size, pos.AveragePrice, price, pos.Key.IsLong, idx.MinProfitBps, inWindow)
}

// settleFunding books pending funding into collateral and realized PnL
// and re-snapshots the entry rate. Returns the amount paid (negative when
// received).
func (o *op) settleFunding(pos *model.Position, info model.FundingInfo) (decimal.Decimal, error) {
	current := info.RateFor(pos.Key.IsLong)
	owed := funding.PositionFunding(pos.Size, pos.EntryFundingRate, current)
	pos.EntryFundingRate = current
	if owed.IsZero() {
		return owed, nil
	}
	if owed.IsPositive() && owed.GreaterThan(pos.Collateral) {
		return owed, fmt.Errorf("%w: funding %s, collateral %s", ErrLossesExceedCollateral, owed, pos.Collateral)
	}
	pos.Collateral = pos.Collateral.Sub(owed)
	pos.RealizedPnL = pos.RealizedPnL.Sub(owed)
	return owed, nil
}

// guaranteed is what a long contributes to its collateral asset's
// guaranteed USD.
func guaranteed(pos model.Position) decimal.Decimal {
	if !pos.Key.IsLong || pos.IsEmpty() {
		return decimal.Zero
	}
	return pos.Size.Sub(pos.Collateral)
}

// syncGuaranteed moves the pool's guaranteed USD by the change in
// size - collateral of a long.
func (o *op) syncGuaranteed(before, after model.Position) {
	if !before.Key.IsLong {
		return
	}
	delta := guaranteed(after).Sub(guaranteed(before))
	if !delta.IsZero() {
		o.tx.AdjustGuaranteedUSD(before.Key.CollateralAsset, delta)
	}
}

// syncShortReserve re-reserves exactly the collateral a short holds in the
// pool.
func (o *op) syncShortReserve(pos *model.Position) error {
	target := decimal.Zero
	if !pos.IsEmpty() && pos.Collateral.IsPositive() {
		var err error
		if target, err = o.usdToTokenMax(pos.Key.CollateralAsset, pos.Collateral); err != nil {
			return err
		}
	}
	asset := pos.Key.CollateralAsset
	switch {
	case target.GreaterThan(pos.ReserveAmount):
		if err := o.tx.IncreaseReservedAmount(asset, target.Sub(pos.ReserveAmount)); err != nil {
			return err
		}
	case target.LessThan(pos.ReserveAmount):
		if err := o.tx.DecreaseReservedAmount(asset, pos.ReserveAmount.Sub(target)); err != nil {
			return err
		}
	}
	pos.ReserveAmount = target
	return nil
}

// IncreasePosition opens or grows a leveraged position.
func (e *Engine) IncreasePosition(req IncreaseRequest) (*PositionResult, error) {
	res := &PositionResult{}
	rc, err := e.execute(model.EventIncreasePosition, assetsOf(req.CollateralAsset, req.IndexAsset), func(o *op) error {
		return o.increase(req, res)
	})
	if err != nil {
		return nil, err
	}
	res.Receipt = *rc

	e.log.Info("position increased",
		"key", req.Key().String(),
		"size_delta", req.SizeDelta.String(),
		"amount_in", req.AmountIn.String(),
		"size", res.Position.Size.String(),
		"collateral", res.Position.Collateral.String(),
		"average_price", res.Position.AveragePrice.String(),
	)
	return res, nil
}

func (o *op) increase(req IncreaseRequest, res *PositionResult) error {
	key := req.Key()
	if err := o.checkCaller(req.Caller, key.Account); err != nil {
		return err
	}
	col, _, err := o.validatePair(key)
	if err != nil {
		return err
	}
	amountIn := req.AmountIn.Truncate(col.Decimals)
	if amountIn.IsNegative() {
		return ErrInvalidAssetAmount
	}
	sizeDelta := req.SizeDelta
	if sizeDelta.IsNegative() || (sizeDelta.IsZero() && amountIn.IsZero()) {
		return ErrInvalidPositionSize
	}

	info := o.advanceFunding(key.IndexAsset)
	pos := o.tx.Position(key)
	before := pos

	price, err := o.price(key.IndexAsset, key.IsLong)
	if err != nil {
		return err
	}
	if pos.IsEmpty() {
		pos.AveragePrice = price
	} else if sizeDelta.IsPositive() {
		hasProfit, delta, err := o.positionDelta(pos)
		if err != nil {
			return err
		}
		pos.AveragePrice = pnl.NextAveragePrice(pos.Size, pos.AveragePrice, key.IsLong, price, sizeDelta, hasProfit, delta)
	}

	paid, err := o.settleFunding(&pos, info)
	if err != nil {
		return err
	}

	fee := fees.MarginFee(o.settings.Fees, sizeDelta)
	collateralUSD, err := o.tokenToUSDMin(key.CollateralAsset, amountIn)
	if err != nil {
		return err
	}
	pos.Collateral = pos.Collateral.Add(collateralUSD)
	if pos.Collateral.LessThan(fee) {
		return fmt.Errorf("%w: collateral %s, fee %s", ErrInsufficientCollateralForFees, pos.Collateral, fee)
	}
	pos.Collateral = pos.Collateral.Sub(fee)

	if err := o.tx.Deposit(key.CollateralAsset, amountIn); err != nil {
		return err
	}
	if err := o.tx.IncreasePoolAmount(key.CollateralAsset, amountIn); err != nil {
		return err
	}
	feeTokens, err := o.usdToTokenMin(key.CollateralAsset, fee)
	if err != nil {
		return err
	}
	if err := o.tx.CollectFees(key.CollateralAsset, feeTokens); err != nil {
		return err
	}

	pos.Size = pos.Size.Add(sizeDelta)
	if sizeDelta.IsPositive() {
		pos.LastIncreasedTime = o.now
	}
	if !pos.Size.IsPositive() {
		return ErrInvalidPositionSize
	}
	if pos.Size.LessThan(pos.Collateral) {
		return fmt.Errorf("%w: size %s, collateral %s", ErrSizeMustBeMoreThanCollateral, pos.Size, pos.Collateral)
	}

	short := o.tx.GlobalShort(key.IndexAsset)
	limiter := limits.NewExposureLimiter(o.settings.MaxGlobalShortSizes, o.settings.MaxGlobalLongSizes)
	if err := limiter.CheckLimit(key.IndexAsset, key.IsLong, sizeDelta, limits.Exposure{Long: info.TotalLongSizes, Short: short.Size}); err != nil {
		return err
	}

	if key.IsLong {
		reserveDelta, err := o.usdToTokenMax(key.CollateralAsset, sizeDelta)
		if err != nil {
			return err
		}
		if err := o.tx.IncreaseReservedAmount(key.CollateralAsset, reserveDelta); err != nil {
			return err
		}
		pos.ReserveAmount = pos.ReserveAmount.Add(reserveDelta)
		o.syncGuaranteed(before, pos)
	} else {
		if err := o.syncShortReserve(&pos); err != nil {
			return err
		}
		if sizeDelta.IsPositive() {
			short.AveragePrice = pnl.NextGlobalShortAveragePrice(short.Size, short.AveragePrice, price, sizeDelta)
			short.Size = short.Size.Add(sizeDelta)
			o.tx.PutGlobalShort(short)
		}
	}

	info = funding.IncreaseOpenInterest(info, key.IsLong, sizeDelta)
	o.tx.PutFunding(info)
	o.tx.PutPosition(pos)

	if err := o.checkHealthy(pos, info); err != nil {
		return err
	}

	res.Position, res.Fee, res.Funding = pos, fee, paid
	o.emit(model.Event{
		Account:  key.Account,
		Asset:    key.CollateralAsset,
		Asset2:   key.IndexAsset,
		Position: key.String(),
		AmountIn: amountIn,
		USD:      sizeDelta,
		Fee:      fee,
		Price:    price,
	})
	return nil
}

// DecreasePosition shrinks or closes a position and pays the released
// collateral and realized profit to the receiver.
func (e *Engine) DecreasePosition(req DecreaseRequest) (*PositionResult, error) {
	res := &PositionResult{}
	rc, err := e.execute(model.EventDecreasePosition, assetsOf(req.CollateralAsset, req.IndexAsset), func(o *op) error {
		key := req.Key()
		if err := o.checkCaller(req.Caller, key.Account); err != nil {
			return err
		}
		if _, _, err := o.existingPair(key); err != nil {
			return err
		}
		receiver := req.Receiver
		if receiver == "" {
			receiver = key.Account
		}
		return o.decrease(key, req.CollateralDelta, req.SizeDelta, receiver, decimal.Zero, "", res)
	})
	if err != nil {
		return nil, err
	}
	res.Receipt = *rc

	e.log.Info("position decreased",
		"key", req.Key().String(),
		"size_delta", req.SizeDelta.String(),
		"collateral_delta", req.CollateralDelta.String(),
		"amount_out", res.AmountOut.String(),
		"size", res.Position.Size.String(),
	)
	return res, nil
}

// decrease is the shared close path of DecreasePosition and leverage
// liquidations. liquidationFee is charged on top of the margin fee and
// paid to feeReceiver.
func (o *op) decrease(key model.PositionKey, collateralDelta, sizeDelta decimal.Decimal, receiver string, liquidationFee decimal.Decimal, feeReceiver string, res *PositionResult) error {
	pos := o.tx.Position(key)
	if pos.IsEmpty() {
		return ErrEmptyPosition
	}
	if sizeDelta.IsNegative() || collateralDelta.IsNegative() {
		return ErrInvalidPositionSize
	}
	if sizeDelta.IsZero() && collateralDelta.IsZero() {
		return ErrInvalidPositionSize
	}
	if sizeDelta.GreaterThan(pos.Size) {
		return fmt.Errorf("%w: %s > %s", ErrSizeExceeded, sizeDelta, pos.Size)
	}
	if collateralDelta.GreaterThan(pos.Collateral) {
		return fmt.Errorf("%w: %s > %s", ErrCollateralExceeded, collateralDelta, pos.Collateral)
	}

	info := o.advanceFunding(key.IndexAsset)
	before := pos
	paid, err := o.settleFunding(&pos, info)
	if err != nil {
		return err
	}
	asset := key.CollateralAsset

	// release the long's reserve before any pool payout
	if key.IsLong && sizeDelta.IsPositive() {
		release := pos.ReserveAmount
		if sizeDelta.LessThan(pos.Size) {
			release = fixed.MulDiv(pos.ReserveAmount, sizeDelta, pos.Size).Truncate(o.decimals(asset))
		}
		if err := o.tx.DecreaseReservedAmount(asset, release); err != nil {
			return err
		}
		pos.ReserveAmount = pos.ReserveAmount.Sub(release)
	}

	hasProfit, delta, err := o.positionDelta(pos)
	if err != nil {
		return err
	}
	adjusted := decimal.Zero
	if sizeDelta.IsPositive() {
		adjusted = fixed.MulDiv(sizeDelta, delta, pos.Size)
	}

	usdOut := decimal.Zero
	if adjusted.IsPositive() {
		if hasProfit {
			usdOut = adjusted
			pos.RealizedPnL = pos.RealizedPnL.Add(adjusted)
		} else {
			if adjusted.GreaterThan(pos.Collateral) {
				return fmt.Errorf("%w: loss %s, collateral %s", ErrLossesExceedCollateral, adjusted, pos.Collateral)
			}
			pos.Collateral = pos.Collateral.Sub(adjusted)
			pos.RealizedPnL = pos.RealizedPnL.Sub(adjusted)
		}
	}

	if collateralDelta.IsPositive() {
		if collateralDelta.GreaterThan(pos.Collateral) {
			return fmt.Errorf("%w: %s > %s after losses", ErrCollateralExceeded, collateralDelta, pos.Collateral)
		}
		usdOut = usdOut.Add(collateralDelta)
		pos.Collateral = pos.Collateral.Sub(collateralDelta)
	}

	full := sizeDelta.Equal(pos.Size)
	if full {
		usdOut = usdOut.Add(pos.Collateral)
		pos.Collateral = decimal.Zero
	}

	marginFee := fees.MarginFee(o.settings.Fees, sizeDelta)
	totalFee := marginFee.Add(liquidationFee)
	usdOutAfterFee := usdOut
	switch {
	case usdOut.GreaterThan(totalFee):
		usdOutAfterFee = usdOut.Sub(totalFee)
	case full:
		return fmt.Errorf("%w: payout %s, fees %s", ErrLiquidationFeesExceedCollateral, usdOut, totalFee)
	default:
		if pos.Collateral.LessThan(totalFee) {
			return fmt.Errorf("%w: collateral %s, fee %s", ErrInsufficientCollateralForFees, pos.Collateral, totalFee)
		}
		pos.Collateral = pos.Collateral.Sub(totalFee)
	}

	feeTokens, err := o.usdToTokenMin(asset, marginFee)
	if err != nil {
		return err
	}
	liqTokens, err := o.usdToTokenMin(asset, liquidationFee)
	if err != nil {
		return err
	}
	amountOut, err := o.usdToTokenMin(asset, usdOutAfterFee)
	if err != nil {
		return err
	}

	pos.Size = pos.Size.Sub(sizeDelta)
	if !key.IsLong {
		if err := o.syncShortReserve(&pos); err != nil {
			return err
		}
		short := o.tx.GlobalShort(key.IndexAsset)
		short.Size = fixed.FloorZero(short.Size.Sub(sizeDelta))
		o.tx.PutGlobalShort(short)
	}
	o.syncGuaranteed(before, pos)

	if err := o.tx.CollectFees(asset, feeTokens); err != nil {
		return err
	}
	if err := o.tx.DecreasePoolAmount(asset, liqTokens); err != nil {
		return err
	}
	if err := o.transfer(asset, feeReceiver, liqTokens); err != nil {
		return err
	}
	if err := o.tx.DecreasePoolAmount(asset, amountOut); err != nil {
		return err
	}
	if err := o.transfer(asset, receiver, amountOut); err != nil {
		return err
	}

	info = funding.DecreaseOpenInterest(info, key.IsLong, sizeDelta)
	o.tx.PutFunding(info)

	evType := model.EventDecreasePosition
	if full {
		o.tx.ClearPosition(key)
		pos = o.tx.Position(key)
		evType = model.EventClosePosition
	} else {
		if pos.Size.LessThan(pos.Collateral) {
			return fmt.Errorf("%w: size %s, collateral %s", ErrSizeMustBeMoreThanCollateral, pos.Size, pos.Collateral)
		}
		o.tx.PutPosition(pos)
		if err := o.checkHealthy(pos, info); err != nil {
			return err
		}
	}

	res.Position, res.Fee, res.Funding, res.AmountOut = pos, marginFee, paid, amountOut
	o.emit(model.Event{
		Type:      evType,
		Account:   key.Account,
		Asset:     asset,
		Asset2:    key.IndexAsset,
		Position:  key.String(),
		AmountOut: amountOut,
		USD:       sizeDelta,
		Fee:       marginFee.Add(liquidationFee),
	})
	return nil
}

// --- Views ---

// Position returns the record stored under key.
func (e *Engine) Position(key model.PositionKey) model.Position {
	var pos model.Position
	_ = e.view(nil, func(o *op) error {
		pos = o.tx.Position(key)
		return nil
	})
	return pos
}

// PositionsOf lists every open position of account.
func (e *Engine) PositionsOf(account string) []model.Position {
	var out []model.Position
	_ = e.view(nil, func(o *op) error {
		out = o.tx.PositionsOf(account)
		return nil
	})
	return out
}

// PositionDelta returns whether the position is in profit and by how much.
func (e *Engine) PositionDelta(key model.PositionKey) (bool, decimal.Decimal, error) {
	var (
		hasProfit bool
		delta     decimal.Decimal
	)
	err := e.view(assetsOf(key.IndexAsset), func(o *op) error {
		pos := o.tx.Position(key)
		if pos.IsEmpty() {
			return ErrEmptyPosition
		}
		var err error
		hasProfit, delta, err = o.positionDelta(pos)
		return err
	})
	return hasProfit, delta, err
}

// PositionLeverage returns size/collateral in bps.
func (e *Engine) PositionLeverage(key model.PositionKey) (decimal.Decimal, error) {
	pos := e.Position(key)
	if pos.IsEmpty() {
		return decimal.Zero, ErrEmptyPosition
	}
	return pnl.Leverage(pos.Size, pos.Collateral), nil
}
