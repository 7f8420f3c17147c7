package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeConfig holds the vault-wide fee schedule. Bps fields are basis points.
type FeeConfig struct {
	TaxBps            int64           `json:"tax_bps"`
	StableTaxBps      int64           `json:"stable_tax_bps"`
	MintBurnFeeBps    int64           `json:"mint_burn_fee_bps"`
	SwapFeeBps        int64           `json:"swap_fee_bps"`
	StableSwapFeeBps  int64           `json:"stable_swap_fee_bps"`
	MarginFeeBps      int64           `json:"margin_fee_bps"`
	LiquidationFeeUSD decimal.Decimal `json:"liquidation_fee_usd"`
	MinProfitTime     time.Duration   `json:"min_profit_time"`
	HasDynamicFees    bool            `json:"has_dynamic_fees"`
}

// DefaultFeeConfig returns the schedule a fresh vault starts with.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		TaxBps:            50,
		StableTaxBps:      20,
		MintBurnFeeBps:    30,
		SwapFeeBps:        30,
		StableSwapFeeBps:  4,
		MarginFeeBps:      10,
		LiquidationFeeUSD: decimal.NewFromInt(5),
		MinProfitTime:     0,
		HasDynamicFees:    true,
	}
}

// Settings is the governance state of the vault.
type Settings struct {
	Owner               string                     `json:"owner"`
	Fees                FeeConfig                  `json:"fees"`
	FundingInterval     time.Duration              `json:"funding_interval"`
	FundingRateFactor   int64                      `json:"funding_rate_factor"`
	Liquidators         map[string]bool            `json:"liquidators"`
	Routers             map[string]map[string]bool `json:"routers"` // account → router → approved
	Paused              bool                       `json:"paused"`
	MaxGlobalShortSizes map[string]decimal.Decimal `json:"max_global_short_sizes"`
	MaxGlobalLongSizes  map[string]decimal.Decimal `json:"max_global_long_sizes"`
}

// NewSettings returns default settings owned by owner.
func NewSettings(owner string) Settings {
	return Settings{
		Owner:               owner,
		Fees:                DefaultFeeConfig(),
		FundingInterval:     time.Second,
		FundingRateFactor:   23,
		Liquidators:         map[string]bool{},
		Routers:             map[string]map[string]bool{},
		MaxGlobalShortSizes: map[string]decimal.Decimal{},
		MaxGlobalLongSizes:  map[string]decimal.Decimal{},
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.Liquidators = make(map[string]bool, len(s.Liquidators))
	for k, v := range s.Liquidators {
		out.Liquidators[k] = v
	}
	out.Routers = make(map[string]map[string]bool, len(s.Routers))
	for acct, rs := range s.Routers {
		m := make(map[string]bool, len(rs))
		for r, v := range rs {
			m[r] = v
		}
		out.Routers[acct] = m
	}
	out.MaxGlobalShortSizes = make(map[string]decimal.Decimal, len(s.MaxGlobalShortSizes))
	for k, v := range s.MaxGlobalShortSizes {
		out.MaxGlobalShortSizes[k] = v
	}
	out.MaxGlobalLongSizes = make(map[string]decimal.Decimal, len(s.MaxGlobalLongSizes))
	for k, v := range s.MaxGlobalLongSizes {
		out.MaxGlobalLongSizes[k] = v
	}
	return out
}
