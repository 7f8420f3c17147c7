package vault

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/fixed"
	"github.com/ruscet/vault-engine/internal/ledger"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/pnl"
)

// AddLiquidityRequest deposits AmountIn of Asset for LP shares.
type AddLiquidityRequest struct {
	Caller      string          `json:"caller"`
	Asset       string          `json:"asset"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	Beneficiary string          `json:"beneficiary"`
}

// AddLiquidityResult reports a committed deposit.
type AddLiquidityResult struct {
	Receipt
	Shares decimal.Decimal `json:"shares"`
	USD    decimal.Decimal `json:"usd"`
	NAV    decimal.Decimal `json:"nav"` // before the deposit
	Fee    decimal.Decimal `json:"fee"`
	FeeBps int64           `json:"fee_bps"`
}

// RemoveLiquidityRequest burns Shares held by Caller for Asset.
type RemoveLiquidityRequest struct {
	Caller   string          `json:"caller"`
	Asset    string          `json:"asset"`
	Shares   decimal.Decimal `json:"shares"`
	Receiver string          `json:"receiver"`
}

// RemoveLiquidityResult reports a committed withdrawal.
type RemoveLiquidityResult struct {
	Receipt
	AmountOut decimal.Decimal `json:"amount_out"`
	USD       decimal.Decimal `json:"usd"`
	NAV       decimal.Decimal `json:"nav"` // before the withdrawal
	Fee       decimal.Decimal `json:"fee"`
	FeeBps    int64           `json:"fee_bps"`
}

// navAssets lists every asset that contributes to the net asset value.
func navAssets(tx *ledger.Tx) []string {
	var out []string
	for _, a := range tx.Assets() {
		cfg, _ := tx.Asset(a)
		p := tx.Pool(a)
		if cfg.Whitelisted || p.PoolAmount.IsPositive() || p.GuaranteedUSD.IsPositive() {
			out = append(out, a)
		}
	}
	return out
}

// nav values the pool: unreserved tokens at the min price plus guaranteed
// USD, adjusted by the traders' unrealized short PnL.
func (o *op) nav() (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range navAssets(o.tx) {
		p := o.tx.Pool(a)
		price, err := o.price(a, false)
		if err != nil {
			return decimal.Zero, err
		}
		free := fixed.FloorZero(p.PoolAmount.Sub(p.ReservedAmount))
		total = total.Add(fixed.TokenToUSD(free, price)).Add(p.GuaranteedUSD)

		short := o.tx.GlobalShort(a)
		if !short.Size.IsPositive() || !short.AveragePrice.IsPositive() {
			continue
		}
		maxPrice, err := o.price(a, true)
		if err != nil {
			return decimal.Zero, err
		}
		// traders' profit is the pool's loss
		traderProfit, delta, err := pnl.Delta(short.Size, short.AveragePrice, maxPrice, false, 0, false)
		if err != nil {
			return decimal.Zero, err
		}
		if traderProfit {
			total = total.Sub(delta)
		} else {
			total = total.Add(delta)
		}
	}
	return fixed.FloorZero(total), nil
}

// NetAssetValue returns the USD value backing LP shares.
func (e *Engine) NetAssetValue() (decimal.Decimal, error) {
	var nav decimal.Decimal
	err := e.view(navAssets, func(o *op) error {
		var err error
		nav, err = o.nav()
		return err
	})
	return nav, err
}

// AddLiquidity routes a deposit like Buy and mints LP shares against the
// net asset value.
func (e *Engine) AddLiquidity(req AddLiquidityRequest) (*AddLiquidityResult, error) {
	res := &AddLiquidityResult{}
	need := func(tx *ledger.Tx) []string { return append(navAssets(tx), req.Asset) }
	rc, err := e.execute(model.EventAddLiquidity, need, func(o *op) error {
		if o.settings.Paused {
			return ErrVaultPaused
		}
		if req.Beneficiary == "" {
			return ErrInvalidReceiver
		}
		nav, err := o.nav()
		if err != nil {
			return err
		}
		supply := o.tx.TotalSupply(model.TokenLP)

		dep, err := o.depositForDebt(req.Asset, req.AmountIn)
		if err != nil {
			return err
		}
		shares := dep.usd
		if supply.IsPositive() && nav.IsPositive() {
			shares = fixed.MulDiv(dep.usd, supply, nav).Truncate(TokenDecimals)
		}
		if !shares.IsPositive() {
			return fmt.Errorf("%w: deposit mints no shares", ErrInvalidLpAmount)
		}
		if err := o.tx.Mint(model.TokenLP, req.Beneficiary, shares); err != nil {
			return err
		}

		res.Shares, res.USD, res.NAV, res.Fee, res.FeeBps = shares, dep.usd, nav, dep.fee, dep.feeBps
		o.emit(model.Event{
			Account:   req.Beneficiary,
			Asset:     req.Asset,
			AmountIn:  req.AmountIn,
			AmountOut: shares,
			USD:       dep.usd,
			Fee:       dep.fee,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Receipt = *rc

	e.log.Info("liquidity added",
		"asset", req.Asset,
		"beneficiary", req.Beneficiary,
		"shares", res.Shares.String(),
		"nav", res.NAV.String(),
	)
	return res, nil
}

// RemoveLiquidity burns LP shares for their share of the net asset value,
// paid out in the requested asset like Sell.
func (e *Engine) RemoveLiquidity(req RemoveLiquidityRequest) (*RemoveLiquidityResult, error) {
	res := &RemoveLiquidityResult{}
	need := func(tx *ledger.Tx) []string { return append(navAssets(tx), req.Asset) }
	rc, err := e.execute(model.EventRemoveLiquidity, need, func(o *op) error {
		if o.settings.Paused {
			return ErrVaultPaused
		}
		if req.Receiver == "" {
			return ErrInvalidReceiver
		}
		shares := req.Shares.Truncate(TokenDecimals)
		if !shares.IsPositive() {
			return ErrInvalidLpAmount
		}
		if _, err := o.whitelisted(req.Asset); err != nil {
			return err
		}
		nav, err := o.nav()
		if err != nil {
			return err
		}
		supply := o.tx.TotalSupply(model.TokenLP)
		if err := o.tx.Burn(model.TokenLP, req.Caller, shares); err != nil {
			return err
		}
		usd := fixed.MulDiv(shares, nav, supply).Truncate(TokenDecimals)

		red, err := o.redeemDebt(req.Asset, usd, req.Receiver)
		if err != nil {
			return err
		}

		res.AmountOut, res.USD, res.NAV, res.Fee, res.FeeBps = red.out, usd, nav, red.fee, red.feeBps
		o.emit(model.Event{
			Account:   req.Caller,
			Asset:     req.Asset,
			AmountIn:  shares,
			AmountOut: red.out,
			USD:       usd,
			Fee:       red.fee,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Receipt = *rc

	e.log.Info("liquidity removed",
		"asset", req.Asset,
		"caller", req.Caller,
		"shares", req.Shares.String(),
		"amount_out", res.AmountOut.String(),
	)
	return res, nil
}
