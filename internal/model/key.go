package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// PositionKey identifies a position. It is comparable and used directly as
// a map key.
type PositionKey struct {
	Account         string `json:"account"`
	CollateralAsset string `json:"collateral_asset"`
	IndexAsset      string `json:"index_asset"`
	IsLong          bool   `json:"is_long"`
}

// Side labels used in the string form of a key.
const (
	SideLong  = "long"
	SideShort = "short"
)

// keyRegex matches: {account}:{collateral}:{index}:{long|short}
// Example: 0xabc:USDC:BTC:short
var keyRegex = regexp.MustCompile(`^([A-Za-z0-9_\-]+):([A-Z0-9]+):([A-Z0-9]+):(long|short)$`)

var assetRegex = regexp.MustCompile(`^[A-Z0-9]{1,16}$`)

var (
	ErrInvalidPositionKey = errors.New("model: invalid position key")
	ErrInvalidAsset       = errors.New("model: invalid asset symbol")
)

// ParsePositionKey parses the string form produced by PositionKey.String.
func ParsePositionKey(s string) (PositionKey, error) {
	m := keyRegex.FindStringSubmatch(s)
	if m == nil {
		return PositionKey{}, fmt.Errorf("%w: %s (expected {account}:{collateral}:{index}:{long|short})",
			ErrInvalidPositionKey, s)
	}
	return PositionKey{
		Account:         m[1],
		CollateralAsset: m[2],
		IndexAsset:      m[3],
		IsLong:          m[4] == SideLong,
	}, nil
}

// ValidateAsset checks an asset symbol and returns it upper-cased.
func ValidateAsset(asset string) (string, error) {
	a := strings.ToUpper(strings.TrimSpace(asset))
	if !assetRegex.MatchString(a) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, asset)
	}
	return a, nil
}

func (k PositionKey) String() string {
	side := SideShort
	if k.IsLong {
		side = SideLong
	}
	return k.Account + ":" + k.CollateralAsset + ":" + k.IndexAsset + ":" + side
}
