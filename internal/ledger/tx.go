package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/model"
)

// Tx stages changes over a State.
type Tx struct {
	base      *State
	closed    bool
	assets    map[string]model.AssetConfig
	pools     map[string]model.PoolState
	positions map[model.PositionKey]model.Position
	funding   map[string]model.FundingInfo
	shorts    map[string]model.GlobalShortState
	balances  map[balanceKey]decimal.Decimal
	supplies  map[string]decimal.Decimal
	settings  *model.Settings
}

// --- Asset configuration ---

// Asset returns the config of asset and whether one exists.
func (tx *Tx) Asset(asset string) (model.AssetConfig, bool) {
	if a, ok := tx.assets[asset]; ok {
		return a, true
	}
	a, ok := tx.base.assets[asset]
	return a, ok
}

// PutAsset stages an asset config.
func (tx *Tx) PutAsset(cfg model.AssetConfig) {
	tx.assets[cfg.Asset] = cfg
}

// Assets returns every known asset symbol, sorted.
func (tx *Tx) Assets() []string {
	seen := make(map[string]struct{}, len(tx.base.assets)+len(tx.assets))
	for a := range tx.base.assets {
		seen[a] = struct{}{}
	}
	for a := range tx.assets {
		seen[a] = struct{}{}
	}
	return sortedKeys(seen)
}

// TotalWeight sums the weights of whitelisted assets.
func (tx *Tx) TotalWeight() int64 {
	var total int64
	for _, a := range tx.Assets() {
		cfg, _ := tx.Asset(a)
		if cfg.Whitelisted {
			total += cfg.Weight
		}
	}
	return total
}

// Weight returns the target weight of asset, zero when not whitelisted.
func (tx *Tx) Weight(asset string) int64 {
	cfg, ok := tx.Asset(asset)
	if !ok || !cfg.Whitelisted {
		return 0
	}
	return cfg.Weight
}

// --- Pool rows ---

// Pool returns the pool row of asset, zeroed if it has never been touched.
func (tx *Tx) Pool(asset string) model.PoolState {
	if p, ok := tx.pools[asset]; ok {
		return p
	}
	if p, ok := tx.base.pools[asset]; ok {
		return p
	}
	return model.NewPoolState(asset)
}

func (tx *Tx) putPool(p model.PoolState) {
	tx.pools[p.Asset] = p
}

// StableDebt returns the stable debt attributed to asset.
func (tx *Tx) StableDebt(asset string) decimal.Decimal {
	return tx.Pool(asset).StableDebt
}

// TotalStableDebt sums stable debt across every asset.
func (tx *Tx) TotalStableDebt() decimal.Decimal {
	total := decimal.Zero
	for _, a := range tx.Assets() {
		total = total.Add(tx.Pool(a).StableDebt)
	}
	return total
}

func checkNonNegative(op string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s %s", ErrNegativeAmount, op, amount)
	}
	return nil
}

// Deposit records tokens received into custody.
func (tx *Tx) Deposit(asset string, amount decimal.Decimal) error {
	if err := checkNonNegative("deposit", amount); err != nil {
		return err
	}
	p := tx.Pool(asset)
	p.Balance = p.Balance.Add(amount)
	tx.putPool(p)
	return nil
}

// Withdraw records tokens leaving custody.
func (tx *Tx) Withdraw(asset string, amount decimal.Decimal) error {
	if err := checkNonNegative("withdraw", amount); err != nil {
		return err
	}
	p := tx.Pool(asset)
	if amount.GreaterThan(p.Balance) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientCustody, asset, p.Balance, amount)
	}
	p.Balance = p.Balance.Sub(amount)
	tx.putPool(p)
	return nil
}

func (tx *Tx) IncreasePoolAmount(asset string, amount decimal.Decimal) error {
	if err := checkNonNegative("increase pool", amount); err != nil {
		return err
	}
	p := tx.Pool(asset)
	p.PoolAmount = p.PoolAmount.Add(amount)
	tx.putPool(p)
	return nil
}

// DecreasePoolAmount fails if the pool would go negative or drop below
// its reserve.
func (tx *Tx) DecreasePoolAmount(asset string, amount decimal.Decimal) error {
	if err := checkNonNegative("decrease pool", amount); err != nil {
		return err
	}
	p := tx.Pool(asset)
	if amount.GreaterThan(p.PoolAmount) {
		return fmt.Errorf("%w: %s pool %s, need %s", ErrPoolAmountExceeded, asset, p.PoolAmount, amount)
	}
	p.PoolAmount = p.PoolAmount.Sub(amount)
	if p.ReservedAmount.GreaterThan(p.PoolAmount) {
		return fmt.Errorf("%w: %s reserved %s, pool %s", ErrReserveExceedsPool, asset, p.ReservedAmount, p.PoolAmount)
	}
	tx.putPool(p)
	return nil
}

func (tx *Tx) IncreaseReservedAmount(asset string, amount decimal.Decimal) error {
	if err := checkNonNegative("increase reserve", amount); err != nil {
		return err
	}
	p := tx.Pool(asset)
	p.ReservedAmount = p.ReservedAmount.Add(amount)
	if p.ReservedAmount.GreaterThan(p.PoolAmount) {
		return fmt.Errorf("%w: %s reserved %s, pool %s", ErrReserveExceedsPool, asset, p.ReservedAmount, p.PoolAmount)
	}
	tx.putPool(p)
	return nil
}

// DecreaseReservedAmount clamps at zero so truncation dust never blocks a
// release.
func (tx *Tx) DecreaseReservedAmount(asset string, amount decimal.Decimal) error {
	if err := checkNonNegative("decrease reserve", amount); err != nil {
		return err
	}
	p := tx.Pool(asset)
	p.ReservedAmount = floorZero(p.ReservedAmount.Sub(amount))
	tx.putPool(p)
	return nil
}

// AdjustGuaranteedUSD adds a signed delta, clamping at zero.
func (tx *Tx) AdjustGuaranteedUSD(asset string, delta decimal.Decimal) {
	p := tx.Pool(asset)
	p.GuaranteedUSD = floorZero(p.GuaranteedUSD.Add(delta))
	tx.putPool(p)
}

// IncreaseStableDebt fails when the asset's cap would be exceeded.
func (tx *Tx) IncreaseStableDebt(asset string, usd decimal.Decimal) error {
	if err := checkNonNegative("increase debt", usd); err != nil {
		return err
	}
	p := tx.Pool(asset)
	p.StableDebt = p.StableDebt.Add(usd)
	if cfg, ok := tx.Asset(asset); ok && cfg.MaxRusd.IsPositive() && p.StableDebt.GreaterThan(cfg.MaxRusd) {
		return fmt.Errorf("%w: %s debt %s, cap %s", ErrMaxRusdExceeded, asset, p.StableDebt, cfg.MaxRusd)
	}
	tx.putPool(p)
	return nil
}

// DecreaseStableDebt clamps at zero.
func (tx *Tx) DecreaseStableDebt(asset string, usd decimal.Decimal) error {
	if err := checkNonNegative("decrease debt", usd); err != nil {
		return err
	}
	p := tx.Pool(asset)
	p.StableDebt = floorZero(p.StableDebt.Sub(usd))
	tx.putPool(p)
	return nil
}

// CollectFees moves tokens from the pool into fee reserves.
func (tx *Tx) CollectFees(asset string, amount decimal.Decimal) error {
	if err := tx.DecreasePoolAmount(asset, amount); err != nil {
		return err
	}
	return tx.AddFeeReserves(asset, amount)
}

func (tx *Tx) AddFeeReserves(asset string, amount decimal.Decimal) error {
	if err := checkNonNegative("add fees", amount); err != nil {
		return err
	}
	p := tx.Pool(asset)
	p.FeeReserves = p.FeeReserves.Add(amount)
	tx.putPool(p)
	return nil
}

// WithdrawFeeReserves drains every fee reserve of asset out of custody and
// returns the amount.
func (tx *Tx) WithdrawFeeReserves(asset string) (decimal.Decimal, error) {
	p := tx.Pool(asset)
	amount := p.FeeReserves
	p.FeeReserves = decimal.Zero
	tx.putPool(p)
	if err := tx.Withdraw(asset, amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// CheckConservation verifies pool + fee reserves == custody and
// reserved <= pool for asset.
func (tx *Tx) CheckConservation(asset string) error {
	p := tx.Pool(asset)
	if !p.PoolAmount.Add(p.FeeReserves).Equal(p.Balance) {
		return fmt.Errorf("%w: %s pool %s + fees %s != balance %s",
			ErrConservationViolated, asset, p.PoolAmount, p.FeeReserves, p.Balance)
	}
	if p.ReservedAmount.GreaterThan(p.PoolAmount) {
		return fmt.Errorf("%w: %s reserved %s, pool %s", ErrReserveExceedsPool, asset, p.ReservedAmount, p.PoolAmount)
	}
	return nil
}

// --- Positions ---

// Position returns the record under key, or an empty one.
func (tx *Tx) Position(key model.PositionKey) model.Position {
	if p, ok := tx.positions[key]; ok {
		return p
	}
	if p, ok := tx.base.positions[key]; ok {
		return p
	}
	return model.NewPosition(key)
}

// PutPosition stages a position record.
func (tx *Tx) PutPosition(p model.Position) {
	tx.positions[p.Key] = p
}

// ClearPosition zeroes the record but keeps the slot.
func (tx *Tx) ClearPosition(key model.PositionKey) {
	tx.positions[key] = model.NewPosition(key)
}

// PositionsOf returns every non-empty position held by account.
func (tx *Tx) PositionsOf(account string) []model.Position {
	merged := make(map[model.PositionKey]model.Position)
	for k, p := range tx.base.positions {
		if k.Account == account {
			merged[k] = p
		}
	}
	for k, p := range tx.positions {
		if k.Account == account {
			merged[k] = p
		}
	}
	var out []model.Position
	for _, k := range sortedPositionKeys(merged) {
		if !merged[k].IsEmpty() {
			out = append(out, merged[k])
		}
	}
	return out
}

// --- Funding and shorts ---

func (tx *Tx) Funding(asset string) model.FundingInfo {
	if f, ok := tx.funding[asset]; ok {
		return f
	}
	if f, ok := tx.base.funding[asset]; ok {
		return f
	}
	return model.NewFundingInfo(asset)
}

func (tx *Tx) PutFunding(f model.FundingInfo) {
	tx.funding[f.Asset] = f
}

func (tx *Tx) GlobalShort(asset string) model.GlobalShortState {
	if g, ok := tx.shorts[asset]; ok {
		return g
	}
	if g, ok := tx.base.shorts[asset]; ok {
		return g
	}
	return model.NewGlobalShortState(asset)
}

func (tx *Tx) PutGlobalShort(g model.GlobalShortState) {
	tx.shorts[g.Asset] = g
}

// --- Token books ---

// Balance returns account's balance of token.
func (tx *Tx) Balance(token, account string) decimal.Decimal {
	k := balanceKey{token, account}
	if b, ok := tx.balances[k]; ok {
		return b
	}
	if b, ok := tx.base.balances[k]; ok {
		return b
	}
	return decimal.Zero
}

// TotalSupply returns the outstanding supply of token.
func (tx *Tx) TotalSupply(token string) decimal.Decimal {
	if s, ok := tx.supplies[token]; ok {
		return s
	}
	if s, ok := tx.base.supplies[token]; ok {
		return s
	}
	return decimal.Zero
}

// Mint credits account with amount of token.
func (tx *Tx) Mint(token, account string, amount decimal.Decimal) error {
	if err := checkNonNegative("mint", amount); err != nil {
		return err
	}
	tx.balances[balanceKey{token, account}] = tx.Balance(token, account).Add(amount)
	tx.supplies[token] = tx.TotalSupply(token).Add(amount)
	return nil
}

// Burn debits account, failing if it holds less than amount.
func (tx *Tx) Burn(token, account string, amount decimal.Decimal) error {
	if err := checkNonNegative("burn", amount); err != nil {
		return err
	}
	bal := tx.Balance(token, account)
	if amount.GreaterThan(bal) {
		return fmt.Errorf("%w: %s holds %s %s, need %s", ErrInsufficientBalance, account, bal, token, amount)
	}
	tx.balances[balanceKey{token, account}] = bal.Sub(amount)
	tx.supplies[token] = floorZero(tx.TotalSupply(token).Sub(amount))
	return nil
}

// --- Settings ---

// Settings returns a copy of the governance settings.
func (tx *Tx) Settings() model.Settings {
	if tx.settings != nil {
		return tx.settings.Clone()
	}
	return tx.base.settings.Clone()
}

// PutSettings stages new settings.
func (tx *Tx) PutSettings(s model.Settings) {
	c := s.Clone()
	tx.settings = &c
}

// TouchedPools returns the assets whose pool rows were staged.
func (tx *Tx) TouchedPools() []string {
	return sortedKeys(tx.pools)
}

// Commit checks conservation on every touched pool row, then applies the
// staged records to the base State and returns them as a change set.
func (tx *Tx) Commit() (*model.ChangeSet, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	for _, a := range tx.TouchedPools() {
		if err := tx.CheckConservation(a); err != nil {
			return nil, err
		}
	}
	tx.closed = true

	cs := &model.ChangeSet{}
	s := tx.base
	for _, a := range sortedKeys(tx.assets) {
		s.assets[a] = tx.assets[a]
		cs.Assets = append(cs.Assets, tx.assets[a])
	}
	for _, a := range sortedKeys(tx.pools) {
		s.pools[a] = tx.pools[a]
		cs.Pools = append(cs.Pools, tx.pools[a])
	}
	for _, k := range sortedPositionKeys(tx.positions) {
		s.positions[k] = tx.positions[k]
		cs.Positions = append(cs.Positions, tx.positions[k])
	}
	for _, a := range sortedKeys(tx.funding) {
		s.funding[a] = tx.funding[a]
		cs.Funding = append(cs.Funding, tx.funding[a])
	}
	for _, a := range sortedKeys(tx.shorts) {
		s.shorts[a] = tx.shorts[a]
		cs.Shorts = append(cs.Shorts, tx.shorts[a])
	}
	for _, k := range sortedBalanceKeys(tx.balances) {
		s.balances[k] = tx.balances[k]
		cs.Balances = append(cs.Balances, model.TokenBalance{Token: k.token, Account: k.account, Amount: tx.balances[k]})
	}
	for tok, sup := range tx.supplies {
		s.supplies[tok] = sup
	}
	if tx.settings != nil {
		s.settings = tx.settings.Clone()
		settings := s.settings.Clone()
		cs.Settings = &settings
	}
	return cs, nil
}

func floorZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
