// Package vault is the accounting engine of the shared collateral pool.
//
// One pool of assets backs three claims at once: the stable-debt token
// (RUSD) minted against deposits, leveraged long and short positions, and
// LP shares over the pool's net asset value. Every public operation runs
// under one writer lock against a ledger transaction and either commits
// completely or leaves no trace.
package vault

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/fixed"
	"github.com/ruscet/vault-engine/internal/funding"
	"github.com/ruscet/vault-engine/internal/ledger"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/oracle"
)

// TokenDecimals is the precision of RUSD and LP share amounts.
const TokenDecimals int32 = 18

// PriceSource supplies reference prices.
type PriceSource interface {
	Prices(assets ...string) (oracle.Prices, error)
	UpdatePrice(u oracle.PriceUpdate) error
}

// Journal receives every committed change set and its events in commit
// order. Record runs under the engine lock.
type Journal interface {
	Record(op string, changes *model.ChangeSet, events []model.Event) error
}

// Engine serializes every vault operation. Uses a mutex for single-writer
// execution; reads take the same lock so they never observe a partially
// committed table.
type Engine struct {
	mu      sync.Mutex
	state   *ledger.State
	prices  PriceSource
	journal Journal
	now     func() time.Time
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithJournal persists and publishes every committed operation.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an engine over state.
func New(state *ledger.State, prices PriceSource, opts ...Option) *Engine {
	e := &Engine{
		state:  state,
		prices: prices,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Receipt is what a committed operation produced.
type Receipt struct {
	Changes   *model.ChangeSet `json:"-"`
	Events    []model.Event    `json:"events"`
	Transfers []model.Transfer `json:"transfers"`
}

// op is the working context of one operation.
type op struct {
	name     string
	tx       *ledger.Tx
	prices   oracle.Prices
	now      time.Time
	settings model.Settings
	receipt  *Receipt
}

// execute runs fn against a fresh transaction. Prices for the assets
// returned by need are captured before fn runs; nothing is written unless
// fn succeeds and the commit's conservation checks pass.
func (e *Engine) execute(name string, need func(view *ledger.Tx) []string, fn func(o *op) error) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.state.Begin()
	o := &op{
		name:     name,
		tx:       tx,
		now:      e.now().UTC(),
		settings: tx.Settings(),
		receipt:  &Receipt{},
	}
	if assets := configured(tx, need); len(assets) > 0 {
		ps, err := e.prices.Prices(assets...)
		if err != nil {
			e.log.Warn("operation rejected", "op", name, "err", err, "kind", KindOf(err).String())
			return nil, err
		}
		o.prices = ps
	}

	if err := fn(o); err != nil {
		e.log.Warn("operation rejected", "op", name, "err", err, "kind", KindOf(err).String())
		return nil, err
	}

	cs, err := tx.Commit()
	if err != nil {
		e.log.Error("commit failed", "op", name, "err", err)
		return nil, err
	}
	o.receipt.Changes = cs
	if err := e.record(name, cs, o.receipt.Events); err != nil {
		return nil, err
	}
	return o.receipt, nil
}

// record hands a committed operation to the journal. The in-memory table
// has already moved on, so a failure here is fatal to consistency with
// the store and is reported as such.
func (e *Engine) record(name string, cs *model.ChangeSet, events []model.Event) error {
	if e.journal == nil {
		return nil
	}
	if err := e.journal.Record(name, cs, events); err != nil {
		e.log.Error("journal write failed", "op", name, "err", err)
		return fmt.Errorf("%w: %v", ErrJournalFailed, err)
	}
	return nil
}

// view runs fn against an uncommitted transaction under the lock.
func (e *Engine) view(need func(view *ledger.Tx) []string, fn func(o *op) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.state.Begin()
	o := &op{name: "view", tx: tx, now: e.now().UTC(), settings: tx.Settings(), receipt: &Receipt{}}
	if assets := configured(tx, need); len(assets) > 0 {
		ps, err := e.prices.Prices(assets...)
		if err != nil {
			return err
		}
		o.prices = ps
	}
	return fn(o)
}

func assetsOf(assets ...string) func(*ledger.Tx) []string {
	return func(*ledger.Tx) []string { return assets }
}

// configured keeps the needed assets that have a config, so unknown
// assets fail whitelist checks instead of price lookups.
func configured(tx *ledger.Tx, need func(*ledger.Tx) []string) []string {
	if need == nil {
		return nil
	}
	var out []string
	for _, a := range need(tx) {
		if _, ok := tx.Asset(a); ok {
			out = append(out, a)
		}
	}
	return out
}

// --- op helpers ---

func (o *op) bounds(asset string) (oracle.Bounds, error) {
	b, ok := o.prices[asset]
	if !ok {
		return oracle.Bounds{}, fmt.Errorf("%w: %s", oracle.ErrPriceNotFound, asset)
	}
	return b, nil
}

func (o *op) price(asset string, maximise bool) (decimal.Decimal, error) {
	b, err := o.bounds(asset)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Pick(maximise), nil
}

// whitelisted returns the config of a whitelisted asset.
func (o *op) whitelisted(asset string) (model.AssetConfig, error) {
	cfg, ok := o.tx.Asset(asset)
	if !ok || !cfg.Whitelisted {
		return model.AssetConfig{}, fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	return cfg, nil
}

func (o *op) decimals(asset string) int32 {
	cfg, _ := o.tx.Asset(asset)
	return cfg.Decimals
}

// usdToTokenMin converts at the max price, yielding the fewest tokens.
func (o *op) usdToTokenMin(asset string, usd decimal.Decimal) (decimal.Decimal, error) {
	p, err := o.price(asset, true)
	if err != nil {
		return decimal.Zero, err
	}
	return fixed.USDToToken(usd, p, o.decimals(asset)), nil
}

// usdToTokenMax converts at the min price, yielding the most tokens.
func (o *op) usdToTokenMax(asset string, usd decimal.Decimal) (decimal.Decimal, error) {
	p, err := o.price(asset, false)
	if err != nil {
		return decimal.Zero, err
	}
	return fixed.USDToToken(usd, p, o.decimals(asset)), nil
}

func (o *op) tokenToUSDMin(asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	p, err := o.price(asset, false)
	if err != nil {
		return decimal.Zero, err
	}
	return fixed.TokenToUSD(amount, p), nil
}

func (o *op) fundingParams() funding.Params {
	return funding.Params{Interval: o.settings.FundingInterval, RateFactor: o.settings.FundingRateFactor}
}

// advanceFunding accrues funding on index and stages the result.
func (o *op) advanceFunding(index string) model.FundingInfo {
	info := funding.Advance(o.tx.Funding(index), o.now, o.fundingParams())
	o.tx.PutFunding(info)
	return info
}

// transfer pays amount of asset out of custody to to.
func (o *op) transfer(asset, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	if err := o.tx.Withdraw(asset, amount); err != nil {
		return err
	}
	o.receipt.Transfers = append(o.receipt.Transfers, model.Transfer{Asset: asset, To: to, Amount: amount})
	return nil
}

func (o *op) emit(ev model.Event) {
	ev.ID = uuid.New().String()
	ev.Timestamp = o.now
	if ev.Type == "" {
		ev.Type = o.name
	}
	o.receipt.Events = append(o.receipt.Events, ev)
}

// --- Oracle ---

// UpdatePrice stores a signed reference price.
func (e *Engine) UpdatePrice(u oracle.PriceUpdate) (*Receipt, error) {
	if err := e.prices.UpdatePrice(u); err != nil {
		e.log.Warn("price update rejected", "asset", u.Asset, "err", err)
		return nil, err
	}
	ts := u.Timestamp
	if ts.IsZero() {
		ts = e.now().UTC()
	}
	rc := &Receipt{
		Changes: &model.ChangeSet{},
		Events: []model.Event{{
			ID:        uuid.New().String(),
			Type:      model.EventPriceUpdate,
			Asset:     u.Asset,
			Price:     u.Price,
			Timestamp: ts,
		}},
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(model.EventPriceUpdate, rc.Changes, rc.Events); err != nil {
		return nil, err
	}
	return rc, nil
}
