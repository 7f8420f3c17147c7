// Package model defines the core domain types shared across the vault engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetConfig is the governance-controlled configuration of one pool asset.
// Configs are never deleted; retiring an asset clears Whitelisted and Weight.
type AssetConfig struct {
	Asset        string          `json:"asset" db:"asset"`
	Decimals     int32           `json:"decimals" db:"decimals"`
	Weight       int64           `json:"weight" db:"weight"`
	MinProfitBps int64           `json:"min_profit_bps" db:"min_profit_bps"`
	MaxRusd      decimal.Decimal `json:"max_rusd" db:"max_rusd"` // zero means uncapped
	IsStable     bool            `json:"is_stable" db:"is_stable"`
	IsShortable  bool            `json:"is_shortable" db:"is_shortable"`
	Whitelisted  bool            `json:"whitelisted" db:"whitelisted"`
	MaxLeverage  int64           `json:"max_leverage" db:"max_leverage"` // bps, 500000 = 50x
}

// PoolState is the per-asset ledger row.
//
// Token amounts are in whole-token units truncated to the asset's decimals.
// Balance is the custodied amount; pool + fee reserves must always equal it.
type PoolState struct {
	Asset          string          `json:"asset" db:"asset"`
	PoolAmount     decimal.Decimal `json:"pool_amount" db:"pool_amount"`
	ReservedAmount decimal.Decimal `json:"reserved_amount" db:"reserved_amount"`
	GuaranteedUSD  decimal.Decimal `json:"guaranteed_usd" db:"guaranteed_usd"`
	FeeReserves    decimal.Decimal `json:"fee_reserves" db:"fee_reserves"`
	StableDebt     decimal.Decimal `json:"stable_debt" db:"stable_debt"` // USD
	Balance        decimal.Decimal `json:"balance" db:"balance"`
}

// NewPoolState returns an empty row for asset.
func NewPoolState(asset string) PoolState {
	return PoolState{
		Asset:          asset,
		PoolAmount:     decimal.Zero,
		ReservedAmount: decimal.Zero,
		GuaranteedUSD:  decimal.Zero,
		FeeReserves:    decimal.Zero,
		StableDebt:     decimal.Zero,
		Balance:        decimal.Zero,
	}
}

// Position is one leveraged position. Size, Collateral and RealizedPnL are
// USD; ReserveAmount is in collateral-asset tokens.
type Position struct {
	Key               PositionKey     `json:"key"`
	Size              decimal.Decimal `json:"size" db:"size"`
	Collateral        decimal.Decimal `json:"collateral" db:"collateral"`
	AveragePrice      decimal.Decimal `json:"average_price" db:"average_price"`
	EntryFundingRate  decimal.Decimal `json:"entry_funding_rate" db:"entry_funding_rate"`
	ReserveAmount     decimal.Decimal `json:"reserve_amount" db:"reserve_amount"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // signed
	LastIncreasedTime time.Time       `json:"last_increased_time" db:"last_increased_time"`
}

// NewPosition returns the empty record stored under key.
func NewPosition(key PositionKey) Position {
	return Position{
		Key:              key,
		Size:             decimal.Zero,
		Collateral:       decimal.Zero,
		AveragePrice:     decimal.Zero,
		EntryFundingRate: decimal.Zero,
		ReserveAmount:    decimal.Zero,
		RealizedPnL:      decimal.Zero,
	}
}

// IsEmpty reports whether the position holds no size.
func (p Position) IsEmpty() bool {
	return !p.Size.IsPositive()
}

// FundingInfo tracks open interest and cumulative funding per index asset.
// Rates are signed: a rising rate means that side pays.
type FundingInfo struct {
	Asset                      string          `json:"asset" db:"asset"`
	LastFundingTime            time.Time       `json:"last_funding_time" db:"last_funding_time"`
	TotalLongSizes             decimal.Decimal `json:"total_long_sizes" db:"total_long_sizes"`
	TotalShortSizes            decimal.Decimal `json:"total_short_sizes" db:"total_short_sizes"`
	CumulativeLongFundingRate  decimal.Decimal `json:"cumulative_long_funding_rate" db:"cumulative_long_funding_rate"`
	CumulativeShortFundingRate decimal.Decimal `json:"cumulative_short_funding_rate" db:"cumulative_short_funding_rate"`
}

// NewFundingInfo returns zeroed funding state for asset.
func NewFundingInfo(asset string) FundingInfo {
	return FundingInfo{
		Asset:                      asset,
		TotalLongSizes:             decimal.Zero,
		TotalShortSizes:            decimal.Zero,
		CumulativeLongFundingRate:  decimal.Zero,
		CumulativeShortFundingRate: decimal.Zero,
	}
}

// RateFor returns the cumulative rate of one side.
func (f FundingInfo) RateFor(isLong bool) decimal.Decimal {
	if isLong {
		return f.CumulativeLongFundingRate
	}
	return f.CumulativeShortFundingRate
}

// GlobalShortState aggregates every short on one index asset.
type GlobalShortState struct {
	Asset        string          `json:"asset" db:"asset"`
	Size         decimal.Decimal `json:"size" db:"size"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
}

// NewGlobalShortState returns zeroed short aggregates for asset.
func NewGlobalShortState(asset string) GlobalShortState {
	return GlobalShortState{Asset: asset, Size: decimal.Zero, AveragePrice: decimal.Zero}
}

// Token book identifiers.
const (
	TokenRUSD = "RUSD"
	TokenLP   = "RLP"
)

// TokenBalance is one holder's balance of an engine-issued token.
type TokenBalance struct {
	Token   string          `json:"token" db:"token"`
	Account string          `json:"account" db:"account"`
	Amount  decimal.Decimal `json:"amount" db:"amount"`
}

// Transfer is an outbound token movement produced by an operation.
type Transfer struct {
	Asset  string          `json:"asset"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}
