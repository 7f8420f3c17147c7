package vault

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/fees"
	"github.com/ruscet/vault-engine/internal/funding"
	"github.com/ruscet/vault-engine/internal/ledger"
	"github.com/ruscet/vault-engine/internal/model"
)

// Governance bounds.
const (
	MaxFeeBps            int64 = 500
	MaxFundingRateFactor int64 = 10000
	MinLeverage          int64 = 10000
	MaxMinProfitBps      int64 = 10000
	MaxAssetDecimals     int32 = 30
)

// MaxMinProfitTime bounds FeeConfig.MinProfitTime.
const MaxMinProfitTime = 24 * time.Hour

// MaxLiquidationFeeUSD bounds FeeConfig.LiquidationFeeUSD.
var MaxLiquidationFeeUSD = decimal.NewFromInt(100)

// govern runs an owner-only settings change and records it under action.
func (e *Engine) govern(caller, action string, fn func(o *op, s *model.Settings) error) (*Receipt, error) {
	rc, err := e.execute(model.EventGovernance, nil, func(o *op) error {
		if caller != o.settings.Owner {
			return fmt.Errorf("%w: %s", ErrNotOwner, caller)
		}
		s := o.settings.Clone()
		if err := fn(o, &s); err != nil {
			return err
		}
		o.tx.PutSettings(s)
		o.settings = s
		o.emit(model.Event{Account: caller, Detail: action})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("governance action", "action", action, "caller", caller)
	return rc, nil
}

func validateAssetConfig(cfg model.AssetConfig) error {
	a, err := model.ValidateAsset(cfg.Asset)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAssetConfig, err)
	}
	if a != cfg.Asset {
		return fmt.Errorf("%w: symbol %q must be upper case", ErrInvalidAssetConfig, cfg.Asset)
	}
	switch {
	case cfg.Asset == model.TokenRUSD || cfg.Asset == model.TokenLP:
		return fmt.Errorf("%w: %s is reserved", ErrInvalidAssetConfig, cfg.Asset)
	case cfg.Decimals < 0 || cfg.Decimals > MaxAssetDecimals:
		return fmt.Errorf("%w: decimals %d", ErrInvalidAssetConfig, cfg.Decimals)
	case cfg.Weight < 0:
		return fmt.Errorf("%w: weight %d", ErrInvalidAssetConfig, cfg.Weight)
	case cfg.MinProfitBps < 0 || cfg.MinProfitBps > MaxMinProfitBps:
		return fmt.Errorf("%w: min profit %d bps", ErrInvalidAssetConfig, cfg.MinProfitBps)
	case cfg.MaxRusd.IsNegative():
		return fmt.Errorf("%w: max rusd %s", ErrInvalidAssetConfig, cfg.MaxRusd)
	case cfg.MaxLeverage != 0 && cfg.MaxLeverage <= MinLeverage:
		return fmt.Errorf("%w: max leverage %d", ErrInvalidAssetConfig, cfg.MaxLeverage)
	case cfg.IsStable && cfg.IsShortable:
		return fmt.Errorf("%w: stable assets cannot be shorted", ErrInvalidAssetConfig)
	}
	return nil
}

// SetAssetConfig whitelists an asset or replaces its configuration.
func (e *Engine) SetAssetConfig(caller string, cfg model.AssetConfig) (*Receipt, error) {
	return e.govern(caller, "set_asset_config", func(o *op, _ *model.Settings) error {
		if err := validateAssetConfig(cfg); err != nil {
			return err
		}
		if prev, ok := o.tx.Asset(cfg.Asset); ok && prev.Decimals != cfg.Decimals && o.tx.Pool(cfg.Asset).Balance.IsPositive() {
			return fmt.Errorf("%w: cannot change decimals of a funded asset", ErrInvalidAssetConfig)
		}
		cfg.Whitelisted = true
		o.tx.PutAsset(cfg)
		return nil
	})
}

// ClearAssetConfig retires an asset. The config is kept with zero weight
// so existing balances stay addressable.
func (e *Engine) ClearAssetConfig(caller, asset string) (*Receipt, error) {
	return e.govern(caller, "clear_asset_config", func(o *op, _ *model.Settings) error {
		cfg, ok := o.tx.Asset(asset)
		if !ok || !cfg.Whitelisted {
			return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
		}
		cfg.Whitelisted = false
		cfg.Weight = 0
		o.tx.PutAsset(cfg)
		return nil
	})
}

func validateFees(f model.FeeConfig) error {
	for name, bps := range map[string]int64{
		"tax":         f.TaxBps,
		"stable tax":  f.StableTaxBps,
		"mint burn":   f.MintBurnFeeBps,
		"swap":        f.SwapFeeBps,
		"stable swap": f.StableSwapFeeBps,
		"margin":      f.MarginFeeBps,
	} {
		if bps < 0 || bps > MaxFeeBps {
			return fmt.Errorf("%w: %s fee %d bps", ErrInvalidFees, name, bps)
		}
	}
	if f.LiquidationFeeUSD.IsNegative() || f.LiquidationFeeUSD.GreaterThan(MaxLiquidationFeeUSD) {
		return fmt.Errorf("%w: liquidation fee %s", ErrInvalidFees, f.LiquidationFeeUSD)
	}
	if f.MinProfitTime < 0 || f.MinProfitTime > MaxMinProfitTime {
		return fmt.Errorf("%w: min profit time %s", ErrInvalidFees, f.MinProfitTime)
	}
	return nil
}

// SetFees replaces the fee schedule.
func (e *Engine) SetFees(caller string, f model.FeeConfig) (*Receipt, error) {
	return e.govern(caller, "set_fees", func(_ *op, s *model.Settings) error {
		if err := validateFees(f); err != nil {
			return err
		}
		s.Fees = f
		return nil
	})
}

// SetFundingRate changes the accrual interval and rate factor. Funding of
// every index asset is brought up to date first so elapsed time accrues
// under the old parameters.
func (e *Engine) SetFundingRate(caller string, interval time.Duration, factor int64) (*Receipt, error) {
	return e.govern(caller, "set_funding_rate", func(o *op, s *model.Settings) error {
		p := funding.Params{Interval: interval, RateFactor: factor}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFees, err)
		}
		if factor < 0 || factor > MaxFundingRateFactor {
			return fmt.Errorf("%w: funding rate factor %d", ErrInvalidFees, factor)
		}
		for _, a := range o.tx.Assets() {
			if info := o.tx.Funding(a); !info.LastFundingTime.IsZero() {
				o.advanceFunding(a)
			}
		}
		s.FundingInterval, s.FundingRateFactor = interval, factor
		return nil
	})
}

// SetMaxLeverage sets the leverage cap, in bps, of positions indexed on
// asset.
func (e *Engine) SetMaxLeverage(caller, asset string, maxLeverage int64) (*Receipt, error) {
	return e.govern(caller, "set_max_leverage", func(o *op, _ *model.Settings) error {
		cfg, ok := o.tx.Asset(asset)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
		}
		if maxLeverage <= MinLeverage {
			return fmt.Errorf("%w: max leverage %d", ErrInvalidAssetConfig, maxLeverage)
		}
		cfg.MaxLeverage = maxLeverage
		o.tx.PutAsset(cfg)
		return nil
	})
}

// SetLiquidator grants or revokes liquidation rights.
func (e *Engine) SetLiquidator(caller, liquidator string, active bool) (*Receipt, error) {
	return e.govern(caller, "set_liquidator", func(_ *op, s *model.Settings) error {
		if active {
			s.Liquidators[liquidator] = true
		} else {
			delete(s.Liquidators, liquidator)
		}
		return nil
	})
}

// SetMaxGlobalShortSize caps total short size on asset. Zero removes the cap.
func (e *Engine) SetMaxGlobalShortSize(caller, asset string, usd decimal.Decimal) (*Receipt, error) {
	return e.govern(caller, "set_max_global_short_size", func(_ *op, s *model.Settings) error {
		if usd.IsNegative() {
			return fmt.Errorf("%w: negative cap", ErrInvalidAssetConfig)
		}
		s.MaxGlobalShortSizes[asset] = usd
		return nil
	})
}

// SetMaxGlobalLongSize caps total long size on asset. Zero removes the cap.
func (e *Engine) SetMaxGlobalLongSize(caller, asset string, usd decimal.Decimal) (*Receipt, error) {
	return e.govern(caller, "set_max_global_long_size", func(_ *op, s *model.Settings) error {
		if usd.IsNegative() {
			return fmt.Errorf("%w: negative cap", ErrInvalidAssetConfig)
		}
		s.MaxGlobalLongSizes[asset] = usd
		return nil
	})
}

// SetPaused stops or resumes liquidity deposits and withdrawals.
func (e *Engine) SetPaused(caller string, paused bool) (*Receipt, error) {
	return e.govern(caller, "set_paused", func(_ *op, s *model.Settings) error {
		s.Paused = paused
		return nil
	})
}

// TransferOwnership hands governance to owner.
func (e *Engine) TransferOwnership(caller, owner string) (*Receipt, error) {
	return e.govern(caller, "transfer_ownership", func(_ *op, s *model.Settings) error {
		if owner == "" {
			return ErrInvalidReceiver
		}
		s.Owner = owner
		return nil
	})
}

// SetRouter lets account approve or revoke a router acting on its behalf.
func (e *Engine) SetRouter(account, router string, approved bool) (*Receipt, error) {
	return e.execute(model.EventGovernance, nil, func(o *op) error {
		if account == "" || router == "" {
			return ErrInvalidReceiver
		}
		s := o.settings.Clone()
		if approved {
			if s.Routers[account] == nil {
				s.Routers[account] = map[string]bool{}
			}
			s.Routers[account][router] = true
		} else {
			delete(s.Routers[account], router)
		}
		o.tx.PutSettings(s)
		o.emit(model.Event{Account: account, Detail: "set_router"})
		return nil
	})
}

// WithdrawFees pays every fee reserve of asset to receiver.
func (e *Engine) WithdrawFees(caller, asset, receiver string) (*Receipt, error) {
	var amount decimal.Decimal
	rc, err := e.execute(model.EventWithdrawFees, nil, func(o *op) error {
		if caller != o.settings.Owner {
			return fmt.Errorf("%w: %s", ErrNotOwner, caller)
		}
		if receiver == "" {
			return ErrInvalidReceiver
		}
		if _, ok := o.tx.Asset(asset); !ok {
			return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
		}
		var err error
		if amount, err = o.tx.WithdrawFeeReserves(asset); err != nil {
			return err
		}
		if amount.IsPositive() {
			o.receipt.Transfers = append(o.receipt.Transfers, model.Transfer{Asset: asset, To: receiver, Amount: amount})
		}
		o.emit(model.Event{Account: receiver, Asset: asset, AmountOut: amount})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("fees withdrawn", "asset", asset, "receiver", receiver, "amount", amount.String())
	return rc, nil
}

// UpdateFundingInfo accrues funding on asset. Repeating the call within
// one interval changes nothing.
func (e *Engine) UpdateFundingInfo(asset string) (model.FundingInfo, *Receipt, error) {
	var info model.FundingInfo
	rc, err := e.execute(model.EventUpdateFunding, nil, func(o *op) error {
		if _, err := o.whitelisted(asset); err != nil {
			return err
		}
		info = o.advanceFunding(asset)
		o.emit(model.Event{Asset: asset, Detail: info.LastFundingTime.Format(time.RFC3339)})
		return nil
	})
	if err != nil {
		return model.FundingInfo{}, nil, err
	}
	return info, rc, nil
}

// --- Views ---

func (e *Engine) read(fn func(tx *ledger.Tx)) {
	_ = e.view(nil, func(o *op) error {
		fn(o.tx)
		return nil
	})
}

// Pool returns the ledger row of asset.
func (e *Engine) Pool(asset string) model.PoolState {
	var p model.PoolState
	e.read(func(tx *ledger.Tx) { p = tx.Pool(asset) })
	return p
}

// AssetConfig returns the configuration of asset.
func (e *Engine) AssetConfig(asset string) (model.AssetConfig, bool) {
	var (
		cfg model.AssetConfig
		ok  bool
	)
	e.read(func(tx *ledger.Tx) { cfg, ok = tx.Asset(asset) })
	return cfg, ok
}

// Funding returns the funding state of asset projected to now.
func (e *Engine) Funding(asset string) model.FundingInfo {
	var info model.FundingInfo
	_ = e.view(nil, func(o *op) error {
		info = funding.Current(o.tx.Funding(asset), o.now, o.fundingParams())
		return nil
	})
	return info
}

// GlobalShort returns the short aggregates of asset.
func (e *Engine) GlobalShort(asset string) model.GlobalShortState {
	var g model.GlobalShortState
	e.read(func(tx *ledger.Tx) { g = tx.GlobalShort(asset) })
	return g
}

// Balance returns account's balance of an engine-issued token.
func (e *Engine) Balance(token, account string) decimal.Decimal {
	var b decimal.Decimal
	e.read(func(tx *ledger.Tx) { b = tx.Balance(token, account) })
	return b
}

// TotalSupply returns the supply of an engine-issued token.
func (e *Engine) TotalSupply(token string) decimal.Decimal {
	var s decimal.Decimal
	e.read(func(tx *ledger.Tx) { s = tx.TotalSupply(token) })
	return s
}

// Settings returns a copy of the governance settings.
func (e *Engine) Settings() model.Settings {
	var s model.Settings
	e.read(func(tx *ledger.Tx) { s = tx.Settings() })
	return s
}

// TargetDebt returns the stable debt asset would hold at its target weight.
func (e *Engine) TargetDebt(asset string) decimal.Decimal {
	var t decimal.Decimal
	e.read(func(tx *ledger.Tx) { t = fees.TargetDebt(tx, asset) })
	return t
}

// FeeBasisPoints quotes the dynamic fee for moving usd of debt into
// (increment) or out of asset.
func (e *Engine) FeeBasisPoints(asset string, usd decimal.Decimal, increment bool) int64 {
	var bps int64
	_ = e.view(nil, func(o *op) error {
		f := o.settings.Fees
		bps = fees.BasisPoints(o.tx, f.HasDynamicFees, asset, usd, f.MintBurnFeeBps, f.TaxBps, increment)
		return nil
	})
	return bps
}

// Snapshot returns a deep copy of the whole ledger.
func (e *Engine) Snapshot() *model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot()
}
