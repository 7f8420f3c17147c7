package vault

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/fees"
	"github.com/ruscet/vault-engine/internal/fixed"
	"github.com/ruscet/vault-engine/internal/model"
)

// BuyRequest deposits AmountIn of Asset and mints RUSD to Beneficiary.
type BuyRequest struct {
	Caller      string          `json:"caller"`
	Asset       string          `json:"asset"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	Beneficiary string          `json:"beneficiary"`
}

// BuyResult reports a committed mint.
type BuyResult struct {
	Receipt
	Minted decimal.Decimal `json:"minted"`
	Fee    decimal.Decimal `json:"fee"`
	FeeBps int64           `json:"fee_bps"`
}

// SellRequest burns RusdIn held by Caller and redeems Asset to Receiver.
type SellRequest struct {
	Caller   string          `json:"caller"`
	Asset    string          `json:"asset"`
	RusdIn   decimal.Decimal `json:"rusd_in"`
	Receiver string          `json:"receiver"`
}

// SellResult reports a committed redemption.
type SellResult struct {
	Receipt
	AmountOut decimal.Decimal `json:"amount_out"`
	Fee       decimal.Decimal `json:"fee"`
	FeeBps    int64           `json:"fee_bps"`
}

// SwapRequest exchanges AmountIn of AssetIn for AssetOut.
type SwapRequest struct {
	Caller   string          `json:"caller"`
	AssetIn  string          `json:"asset_in"`
	AssetOut string          `json:"asset_out"`
	AmountIn decimal.Decimal `json:"amount_in"`
	Receiver string          `json:"receiver"`
}

// SwapResult reports a committed swap.
type SwapResult struct {
	Receipt
	AmountOut decimal.Decimal `json:"amount_out"`
	Fee       decimal.Decimal `json:"fee"`
	FeeBps    int64           `json:"fee_bps"`
}

// deposit is the shared mint path of Buy and AddLiquidity.
type deposit struct {
	usd    decimal.Decimal // stable debt minted
	fee    decimal.Decimal // tokens
	feeBps int64
}

// depositForDebt takes amountIn of asset into custody, charges the mint
// fee into fee reserves and books the remainder as stable debt.
func (o *op) depositForDebt(asset string, amountIn decimal.Decimal) (deposit, error) {
	cfg, err := o.whitelisted(asset)
	if err != nil {
		return deposit{}, err
	}
	amountIn = amountIn.Truncate(cfg.Decimals)
	if !amountIn.IsPositive() {
		return deposit{}, ErrInvalidAssetAmount
	}
	price, err := o.price(asset, false)
	if err != nil {
		return deposit{}, err
	}

	gross := fixed.TokenToUSD(amountIn, price)
	feeBps := fees.BuyBasisPoints(o.tx, o.settings.Fees, asset, gross)
	afterFee := fixed.AfterBps(amountIn, feeBps, cfg.Decimals)
	fee := amountIn.Sub(afterFee)
	usd := fixed.TokenToUSD(afterFee, price).Truncate(TokenDecimals)
	if !usd.IsPositive() {
		return deposit{}, fmt.Errorf("%w: %s of %s is worth nothing after fees", ErrInvalidAssetAmount, amountIn, asset)
	}

	if err := o.tx.Deposit(asset, amountIn); err != nil {
		return deposit{}, err
	}
	if err := o.tx.IncreasePoolAmount(asset, afterFee); err != nil {
		return deposit{}, err
	}
	if err := o.tx.AddFeeReserves(asset, fee); err != nil {
		return deposit{}, err
	}
	if err := o.tx.IncreaseStableDebt(asset, usd); err != nil {
		return deposit{}, err
	}
	return deposit{usd: usd, fee: fee, feeBps: feeBps}, nil
}

// redemption is the shared burn path of Sell and RemoveLiquidity.
type redemption struct {
	out    decimal.Decimal
	fee    decimal.Decimal
	feeBps int64
}

// redeemDebt retires usd of stable debt against asset and pays the
// redeemed tokens, less the burn fee, to receiver.
func (o *op) redeemDebt(asset string, usd decimal.Decimal, receiver string) (redemption, error) {
	cfg, err := o.whitelisted(asset)
	if err != nil {
		return redemption{}, err
	}
	price, err := o.price(asset, true)
	if err != nil {
		return redemption{}, err
	}
	amount := fixed.USDToToken(usd, price, cfg.Decimals)
	if !amount.IsPositive() {
		return redemption{}, ErrInvalidRedemptionAmount
	}
	pool := o.tx.Pool(asset)
	available := pool.PoolAmount.Sub(pool.ReservedAmount)
	if amount.GreaterThan(available) {
		return redemption{}, fmt.Errorf("%w: %s %s requested, %s unreserved", ErrInvalidRedemptionAmount, amount, asset, available)
	}

	if err := o.tx.DecreaseStableDebt(asset, usd); err != nil {
		return redemption{}, err
	}
	if err := o.tx.DecreasePoolAmount(asset, amount); err != nil {
		return redemption{}, err
	}
	feeBps := fees.SellBasisPoints(o.tx, o.settings.Fees, asset, usd)
	out := fixed.AfterBps(amount, feeBps, cfg.Decimals)
	fee := amount.Sub(out)
	if !out.IsPositive() {
		return redemption{}, ErrInvalidRedemptionAmount
	}
	if err := o.tx.AddFeeReserves(asset, fee); err != nil {
		return redemption{}, err
	}
	if err := o.transfer(asset, receiver, out); err != nil {
		return redemption{}, err
	}
	return redemption{out: out, fee: fee, feeBps: feeBps}, nil
}

// Buy mints RUSD against a deposit.
func (e *Engine) Buy(req BuyRequest) (*BuyResult, error) {
	res := &BuyResult{}
	rc, err := e.execute(model.EventBuyRUSD, assetsOf(req.Asset), func(o *op) error {
		if req.Beneficiary == "" {
			return ErrInvalidReceiver
		}
		dep, err := o.depositForDebt(req.Asset, req.AmountIn)
		if err != nil {
			return err
		}
		if err := o.tx.Mint(model.TokenRUSD, req.Beneficiary, dep.usd); err != nil {
			return err
		}
		res.Minted, res.Fee, res.FeeBps = dep.usd, dep.fee, dep.feeBps
		o.emit(model.Event{
			Account:   req.Beneficiary,
			Asset:     req.Asset,
			AmountIn:  req.AmountIn,
			AmountOut: dep.usd,
			USD:       dep.usd,
			Fee:       dep.fee,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Receipt = *rc

	e.log.Info("rusd bought",
		"asset", req.Asset,
		"beneficiary", req.Beneficiary,
		"amount_in", req.AmountIn.String(),
		"minted", res.Minted.String(),
		"fee_bps", res.FeeBps,
	)
	return res, nil
}

// Sell burns RUSD and redeems the chosen asset.
func (e *Engine) Sell(req SellRequest) (*SellResult, error) {
	res := &SellResult{}
	rc, err := e.execute(model.EventSellRUSD, assetsOf(req.Asset), func(o *op) error {
		if req.Receiver == "" {
			return ErrInvalidReceiver
		}
		rusd := req.RusdIn.Truncate(TokenDecimals)
		if !rusd.IsPositive() {
			return ErrInvalidRusdAmount
		}
		if _, err := o.whitelisted(req.Asset); err != nil {
			return err
		}
		if err := o.tx.Burn(model.TokenRUSD, req.Caller, rusd); err != nil {
			return err
		}
		red, err := o.redeemDebt(req.Asset, rusd, req.Receiver)
		if err != nil {
			return err
		}
		res.AmountOut, res.Fee, res.FeeBps = red.out, red.fee, red.feeBps
		o.emit(model.Event{
			Account:   req.Caller,
			Asset:     req.Asset,
			AmountIn:  rusd,
			AmountOut: red.out,
			USD:       rusd,
			Fee:       red.fee,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Receipt = *rc

	e.log.Info("rusd sold",
		"asset", req.Asset,
		"caller", req.Caller,
		"rusd_in", req.RusdIn.String(),
		"amount_out", res.AmountOut.String(),
		"fee_bps", res.FeeBps,
	)
	return res, nil
}

// Swap exchanges one pool asset for another at the oracle price less the
// swap fee. Stable debt moves from the outgoing asset to the incoming one.
func (e *Engine) Swap(req SwapRequest) (*SwapResult, error) {
	res := &SwapResult{}
	rc, err := e.execute(model.EventSwap, assetsOf(req.AssetIn, req.AssetOut), func(o *op) error {
		if req.Receiver == "" {
			return ErrInvalidReceiver
		}
		if req.AssetIn == req.AssetOut {
			return ErrSameAsset
		}
		inCfg, err := o.whitelisted(req.AssetIn)
		if err != nil {
			return err
		}
		outCfg, err := o.whitelisted(req.AssetOut)
		if err != nil {
			return err
		}
		amountIn := req.AmountIn.Truncate(inCfg.Decimals)
		if !amountIn.IsPositive() {
			return ErrInvalidAssetAmount
		}

		priceIn, err := o.price(req.AssetIn, false)
		if err != nil {
			return err
		}
		priceOut, err := o.price(req.AssetOut, true)
		if err != nil {
			return err
		}
		usd := fixed.TokenToUSD(amountIn, priceIn)
		amountOut := fixed.USDToToken(usd, priceOut, outCfg.Decimals)

		stable := inCfg.IsStable && outCfg.IsStable
		feeBps := fees.SwapBasisPoints(o.tx, o.settings.Fees, req.AssetIn, req.AssetOut, usd, stable)
		afterFee := fixed.AfterBps(amountOut, feeBps, outCfg.Decimals)
		fee := amountOut.Sub(afterFee)
		if !afterFee.IsPositive() {
			return ErrInvalidAssetAmount
		}

		if err := o.tx.IncreaseStableDebt(req.AssetIn, usd); err != nil {
			return err
		}
		if err := o.tx.DecreaseStableDebt(req.AssetOut, usd); err != nil {
			return err
		}
		if err := o.tx.Deposit(req.AssetIn, amountIn); err != nil {
			return err
		}
		if err := o.tx.IncreasePoolAmount(req.AssetIn, amountIn); err != nil {
			return err
		}
		if err := o.tx.DecreasePoolAmount(req.AssetOut, amountOut); err != nil {
			return err
		}
		if err := o.tx.AddFeeReserves(req.AssetOut, fee); err != nil {
			return err
		}
		if err := o.transfer(req.AssetOut, req.Receiver, afterFee); err != nil {
			return err
		}

		res.AmountOut, res.Fee, res.FeeBps = afterFee, fee, feeBps
		o.emit(model.Event{
			Account:   req.Caller,
			Asset:     req.AssetIn,
			Asset2:    req.AssetOut,
			AmountIn:  amountIn,
			AmountOut: afterFee,
			USD:       usd,
			Fee:       fee,
			Price:     priceIn,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Receipt = *rc

	e.log.Info("swap executed",
		"asset_in", req.AssetIn,
		"asset_out", req.AssetOut,
		"amount_in", req.AmountIn.String(),
		"amount_out", res.AmountOut.String(),
		"fee_bps", res.FeeBps,
	)
	return res, nil
}
