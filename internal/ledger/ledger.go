// Package ledger holds the vault's keyed state table and the transaction
// overlay every operation mutates.
//
// State is never written directly by callers. An operation opens a Tx,
// which copies each record the first time it is touched; mutators enforce
// the per-asset invariants as they go, and Commit applies every staged
// record at once. A Tx that is never committed leaves State untouched, so
// a failed operation has no effect.
package ledger

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/model"
)

var (
	ErrReserveExceedsPool     = errors.New("ledger: reserve exceeds pool")
	ErrPoolAmountExceeded     = errors.New("ledger: pool amount exceeded")
	ErrMaxRusdExceeded        = errors.New("ledger: max stable debt exceeded")
	ErrConservationViolated   = errors.New("ledger: pool plus fee reserves does not match custody")
	ErrInsufficientBalance    = errors.New("ledger: insufficient token balance")
	ErrInsufficientCustody    = errors.New("ledger: insufficient custodied balance")
	ErrInsufficientFeeReserve = errors.New("ledger: insufficient fee reserves")
	ErrNegativeAmount         = errors.New("ledger: negative amount")
	ErrTxClosed               = errors.New("ledger: transaction already committed")
)

type balanceKey struct {
	token   string
	account string
}

// State is the committed table.
type State struct {
	assets    map[string]model.AssetConfig
	pools     map[string]model.PoolState
	positions map[model.PositionKey]model.Position
	funding   map[string]model.FundingInfo
	shorts    map[string]model.GlobalShortState
	balances  map[balanceKey]decimal.Decimal
	supplies  map[string]decimal.Decimal
	settings  model.Settings
}

// NewState returns an empty table governed by settings.
func NewState(settings model.Settings) *State {
	return &State{
		assets:    make(map[string]model.AssetConfig),
		pools:     make(map[string]model.PoolState),
		positions: make(map[model.PositionKey]model.Position),
		funding:   make(map[string]model.FundingInfo),
		shorts:    make(map[string]model.GlobalShortState),
		balances:  make(map[balanceKey]decimal.Decimal),
		supplies:  make(map[string]decimal.Decimal),
		settings:  settings.Clone(),
	}
}

// Restore rebuilds a table from a persisted snapshot. Token supplies are
// recomputed from balances.
func Restore(snap *model.Snapshot, fallback model.Settings) *State {
	settings := fallback
	if snap.Settings != nil {
		settings = *snap.Settings
	}
	s := NewState(settings)
	for _, a := range snap.Assets {
		s.assets[a.Asset] = a
	}
	for _, p := range snap.Pools {
		s.pools[p.Asset] = p
	}
	for _, p := range snap.Positions {
		s.positions[p.Key] = p
	}
	for _, f := range snap.Funding {
		s.funding[f.Asset] = f
	}
	for _, g := range snap.Shorts {
		s.shorts[g.Asset] = g
	}
	for _, b := range snap.Balances {
		s.balances[balanceKey{b.Token, b.Account}] = b.Amount
		s.supplies[b.Token] = s.supplies[b.Token].Add(b.Amount)
	}
	return s
}

// Begin opens a transaction over s.
func (s *State) Begin() *Tx {
	return &Tx{
		base:      s,
		assets:    make(map[string]model.AssetConfig),
		pools:     make(map[string]model.PoolState),
		positions: make(map[model.PositionKey]model.Position),
		funding:   make(map[string]model.FundingInfo),
		shorts:    make(map[string]model.GlobalShortState),
		balances:  make(map[balanceKey]decimal.Decimal),
		supplies:  make(map[string]decimal.Decimal),
	}
}

// Snapshot returns every committed record.
func (s *State) Snapshot() *model.Snapshot {
	snap := &model.Snapshot{}
	for _, a := range sortedKeys(s.assets) {
		snap.Assets = append(snap.Assets, s.assets[a])
	}
	for _, a := range sortedKeys(s.pools) {
		snap.Pools = append(snap.Pools, s.pools[a])
	}
	for _, k := range sortedPositionKeys(s.positions) {
		snap.Positions = append(snap.Positions, s.positions[k])
	}
	for _, a := range sortedKeys(s.funding) {
		snap.Funding = append(snap.Funding, s.funding[a])
	}
	for _, a := range sortedKeys(s.shorts) {
		snap.Shorts = append(snap.Shorts, s.shorts[a])
	}
	for _, k := range sortedBalanceKeys(s.balances) {
		snap.Balances = append(snap.Balances, model.TokenBalance{Token: k.token, Account: k.account, Amount: s.balances[k]})
	}
	settings := s.settings.Clone()
	snap.Settings = &settings
	return snap
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPositionKeys(m map[model.PositionKey]model.Position) []model.PositionKey {
	keys := make([]model.PositionKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func sortedBalanceKeys(m map[balanceKey]decimal.Decimal) []balanceKey {
	keys := make([]balanceKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].token != keys[j].token {
			return keys[i].token < keys[j].token
		}
		return keys[i].account < keys[j].account
	})
	return keys
}
