// Package limits enforces open-interest caps per index asset.
//
// Governance can cap the aggregate long and short size the vault will
// carry on one index asset. A cap of zero, or no cap at all, means
// unlimited.
package limits

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrMaxShortsExceeded is returned when an increase would push the
	// global short size of an index asset past its cap.
	ErrMaxShortsExceeded = errors.New("limits: max global shorts exceeded")

	// ErrMaxLongsExceeded is returned when an increase would push the
	// global long size of an index asset past its cap.
	ErrMaxLongsExceeded = errors.New("limits: max global longs exceeded")
)

// Exposure is the current open interest on one index asset.
type Exposure struct {
	Long  decimal.Decimal
	Short decimal.Decimal
}

// ExposureLimiter holds the per-index caps.
type ExposureLimiter struct {
	// MaxShort maps index asset → maximum global short size (USD).
	MaxShort map[string]decimal.Decimal

	// MaxLong maps index asset → maximum global long size (USD).
	MaxLong map[string]decimal.Decimal
}

// NewExposureLimiter creates a limiter from the given caps. Nil maps are
// treated as empty.
func NewExposureLimiter(maxShort, maxLong map[string]decimal.Decimal) *ExposureLimiter {
	if maxShort == nil {
		maxShort = map[string]decimal.Decimal{}
	}
	if maxLong == nil {
		maxLong = map[string]decimal.Decimal{}
	}
	return &ExposureLimiter{MaxShort: maxShort, MaxLong: maxLong}
}

// CheckLimit validates whether adding sizeDelta on one side of index
// keeps open interest within its cap.
//
// Parameters:
//   - index: index asset being traded
//   - isLong: side of the increase
//   - sizeDelta: USD size being added (non-negative)
//   - current: open interest before the increase
//
// Returns nil if the increase is within limits.
func (l *ExposureLimiter) CheckLimit(index string, isLong bool, sizeDelta decimal.Decimal, current Exposure) error {
	if !sizeDelta.IsPositive() {
		return nil // decreases and collateral deposits never breach a cap
	}
	if isLong {
		next := current.Long.Add(sizeDelta)
		if limit, ok := l.MaxLong[index]; ok && limit.IsPositive() && next.GreaterThan(limit) {
			return fmt.Errorf("%w: %s long %s > %s", ErrMaxLongsExceeded, index, next, limit)
		}
		return nil
	}
	next := current.Short.Add(sizeDelta)
	if limit, ok := l.MaxShort[index]; ok && limit.IsPositive() && next.GreaterThan(limit) {
		return fmt.Errorf("%w: %s short %s > %s", ErrMaxShortsExceeded, index, next, limit)
	}
	return nil
}
