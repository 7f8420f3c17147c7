// Package oracle adapts signed reference prices into the min/max price
// pair every vault operation consumes.
//
// A single reference price is widened by a spread: maxPrice is used where
// overstating the price protects the pool (opening longs, redemptions,
// valuing short liabilities) and minPrice everywhere else (deposits, NAV,
// collateral, the current worth of a long).
package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/fixed"
)

var (
	ErrPriceNotFound    = errors.New("oracle: price not found")
	ErrStalePrice       = errors.New("oracle: stale price")
	ErrInvalidPrice     = errors.New("oracle: price must be positive")
	ErrStaleUpdate      = errors.New("oracle: update older than stored price")
	ErrInvalidSpread    = errors.New("oracle: spread must be within [0, 10000) bps")
	ErrInvalidSignature = errors.New("oracle: invalid price signature")
)

// PriceUpdate is one signed reference price.
type PriceUpdate struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Signature []byte          `json:"signature,omitempty"`
}

// Quote is the stored reference price of one asset.
type Quote struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Feed stores reference prices and serves spread-adjusted bounds.
type Feed struct {
	mu        sync.RWMutex
	quotes    map[string]Quote
	spreads   map[string]int64
	spreadBps int64
	maxAge    time.Duration
	verifier  Verifier
	now       func() time.Time
}

// Option configures a Feed.
type Option func(*Feed)

// WithClock overrides the wall clock used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// WithMaxAge rejects reads of prices older than age. Zero disables the check.
func WithMaxAge(age time.Duration) Option {
	return func(f *Feed) { f.maxAge = age }
}

// WithVerifier sets the signature verifier. The default accepts everything.
func WithVerifier(v Verifier) Option {
	return func(f *Feed) { f.verifier = v }
}

// NewFeed creates a feed with a default spread applied to every asset.
func NewFeed(spreadBps int64, opts ...Option) (*Feed, error) {
	if spreadBps < 0 || spreadBps >= fixed.BasisPointsDivisor {
		return nil, ErrInvalidSpread
	}
	f := &Feed{
		quotes:    make(map[string]Quote),
		spreads:   make(map[string]int64),
		spreadBps: spreadBps,
		verifier:  AllowAll{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// SetSpread overrides the spread of one asset.
func (f *Feed) SetSpread(asset string, spreadBps int64) error {
	if spreadBps < 0 || spreadBps >= fixed.BasisPointsDivisor {
		return ErrInvalidSpread
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spreads[asset] = spreadBps
	return nil
}

// UpdatePrice verifies and stores a reference price.
func (f *Feed) UpdatePrice(u PriceUpdate) error {
	if !u.Price.IsPositive() {
		return fmt.Errorf("%w: %s=%s", ErrInvalidPrice, u.Asset, u.Price)
	}
	if err := f.verifier.Verify(u); err != nil {
		return err
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = f.now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.quotes[u.Asset]; ok && u.Timestamp.Before(prev.Timestamp) {
		return fmt.Errorf("%w: %s", ErrStaleUpdate, u.Asset)
	}
	f.quotes[u.Asset] = Quote{Price: u.Price, Timestamp: u.Timestamp}
	return nil
}

// Quote returns the raw stored price of asset.
func (f *Feed) Quote(asset string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[asset]
	return q, ok
}

// Price returns the spread-adjusted price of asset.
func (f *Feed) Price(asset string, maximise bool) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.priceLocked(asset, maximise)
}

// MinPrice is Price(asset, false).
func (f *Feed) MinPrice(asset string) (decimal.Decimal, error) {
	return f.Price(asset, false)
}

// MaxPrice is Price(asset, true).
func (f *Feed) MaxPrice(asset string) (decimal.Decimal, error) {
	return f.Price(asset, true)
}

// Prices captures both bounds of every listed asset at once, so an
// operation reads a consistent set before it mutates anything.
func (f *Feed) Prices(assets ...string) (Prices, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(Prices, len(assets))
	for _, a := range assets {
		if _, ok := out[a]; ok {
			continue
		}
		lo, err := f.priceLocked(a, false)
		if err != nil {
			return nil, err
		}
		hi, err := f.priceLocked(a, true)
		if err != nil {
			return nil, err
		}
		out[a] = Bounds{Min: lo, Max: hi}
	}
	return out, nil
}

func (f *Feed) priceLocked(asset string, maximise bool) (decimal.Decimal, error) {
	q, ok := f.quotes[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceNotFound, asset)
	}
	if f.maxAge > 0 && f.now().Sub(q.Timestamp) > f.maxAge {
		return decimal.Zero, fmt.Errorf("%w: %s last updated %s", ErrStalePrice, asset, q.Timestamp.Format(time.RFC3339))
	}
	spread, ok := f.spreads[asset]
	if !ok {
		spread = f.spreadBps
	}
	return fixed.Spread(q.Price, spread, maximise), nil
}

// Bounds is the min/max price pair of one asset.
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Pick returns Max when maximise, Min otherwise.
func (b Bounds) Pick(maximise bool) decimal.Decimal {
	if maximise {
		return b.Max
	}
	return b.Min
}

// Prices is a consistent price capture keyed by asset.
type Prices map[string]Bounds
