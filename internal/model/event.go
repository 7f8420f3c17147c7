package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types emitted by the engine.
const (
	EventPriceUpdate      = "price_update"
	EventBuyRUSD          = "buy_rusd"
	EventSellRUSD         = "sell_rusd"
	EventSwap             = "swap"
	EventIncreasePosition = "increase_position"
	EventDecreasePosition = "decrease_position"
	EventClosePosition    = "close_position"
	EventLiquidate        = "liquidate_position"
	EventAddLiquidity     = "add_liquidity"
	EventRemoveLiquidity  = "remove_liquidity"
	EventCollectFees      = "collect_fees"
	EventWithdrawFees     = "withdraw_fees"
	EventUpdateFunding    = "update_funding"
	EventGovernance       = "governance"
)

// Event is an immutable journal record of one state change.
// Once created, these are never modified or deleted.
type Event struct {
	ID        string          `json:"id" db:"id"`
	Type      string          `json:"type" db:"type"`
	Account   string          `json:"account,omitempty" db:"account"`
	Asset     string          `json:"asset,omitempty" db:"asset"`
	Asset2    string          `json:"asset2,omitempty" db:"asset2"`
	Position  string          `json:"position,omitempty" db:"position"` // PositionKey string form
	AmountIn  decimal.Decimal `json:"amount_in" db:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out" db:"amount_out"`
	USD       decimal.Decimal `json:"usd" db:"usd"`
	Fee       decimal.Decimal `json:"fee" db:"fee"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Detail    string          `json:"detail,omitempty" db:"detail"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// ChangeSet holds every record touched by one committed operation.
type ChangeSet struct {
	Assets    []AssetConfig      `json:"assets,omitempty"`
	Pools     []PoolState        `json:"pools,omitempty"`
	Positions []Position         `json:"positions,omitempty"`
	Funding   []FundingInfo      `json:"funding,omitempty"`
	Shorts    []GlobalShortState `json:"shorts,omitempty"`
	Balances  []TokenBalance     `json:"balances,omitempty"`
	Settings  *Settings          `json:"settings,omitempty"`
}

// Empty reports whether nothing changed.
func (c *ChangeSet) Empty() bool {
	return len(c.Assets) == 0 && len(c.Pools) == 0 && len(c.Positions) == 0 &&
		len(c.Funding) == 0 && len(c.Shorts) == 0 && len(c.Balances) == 0 && c.Settings == nil
}

// Snapshot is the full persisted state used to restore an engine.
type Snapshot struct {
	Assets    []AssetConfig
	Pools     []PoolState
	Positions []Position
	Funding   []FundingInfo
	Shorts    []GlobalShortState
	Balances  []TokenBalance
	Settings  *Settings
}
