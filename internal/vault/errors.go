package vault

import (
	"errors"

	"github.com/ruscet/vault-engine/internal/ledger"
	"github.com/ruscet/vault-engine/internal/limits"
	"github.com/ruscet/vault-engine/internal/oracle"
	"github.com/ruscet/vault-engine/internal/pnl"
)

// Kind classifies a rejection.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindConfiguration
	KindEconomic
	KindEmpty
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindConfiguration:
		return "configuration"
	case KindEconomic:
		return "economic"
	case KindEmpty:
		return "empty"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a vault rejection with its kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return "vault: " + e.Msg }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Authorization.
var (
	ErrNotOwner          = newError(KindAuthorization, "caller is not the owner")
	ErrInvalidLiquidator = newError(KindAuthorization, "invalid liquidator")
	ErrInvalidMsgCaller  = newError(KindAuthorization, "caller is not the account or an approved router")
)

// Configuration.
var (
	ErrAssetNotWhitelisted                     = newError(KindConfiguration, "asset not whitelisted")
	ErrCollateralAssetNotWhitelisted           = newError(KindConfiguration, "collateral asset not whitelisted")
	ErrLongCollateralIndexAssetsMismatch       = newError(KindConfiguration, "long collateral and index assets must match")
	ErrLongCollateralAssetMustNotBeStableAsset = newError(KindConfiguration, "long collateral asset must not be a stable asset")
	ErrShortCollateralAssetMustBeStableAsset   = newError(KindConfiguration, "short collateral asset must be a stable asset")
	ErrShortIndexAssetMustNotBeStableAsset     = newError(KindConfiguration, "short index asset must not be a stable asset")
	ErrShortIndexAssetNotShortable             = newError(KindConfiguration, "short index asset is not shortable")
	ErrInvalidAssetConfig                      = newError(KindConfiguration, "invalid asset config")
	ErrInvalidFees                             = newError(KindConfiguration, "invalid fee config")
	ErrSameAsset                               = newError(KindConfiguration, "swap assets must differ")
	ErrVaultPaused                             = newError(KindConfiguration, "liquidity operations are paused")
)

// Economic invariants.
var (
	ErrInvalidAssetAmount              = newError(KindEconomic, "invalid asset amount")
	ErrInvalidRusdAmount               = newError(KindEconomic, "invalid stable-debt amount")
	ErrInvalidLpAmount                 = newError(KindEconomic, "invalid share amount")
	ErrInvalidRedemptionAmount         = newError(KindEconomic, "invalid redemption amount")
	ErrInvalidReceiver                 = newError(KindEconomic, "invalid receiver")
	ErrInvalidPositionSize             = newError(KindEconomic, "invalid position size")
	ErrSizeMustBeMoreThanCollateral    = newError(KindEconomic, "size must be more than collateral")
	ErrSizeExceeded                    = newError(KindEconomic, "size exceeded")
	ErrCollateralExceeded              = newError(KindEconomic, "collateral exceeded")
	ErrInsufficientCollateralForFees   = newError(KindEconomic, "insufficient collateral for fees")
	ErrLossesExceedCollateral          = newError(KindEconomic, "losses exceed collateral")
	ErrLiquidationFeesExceedCollateral = newError(KindEconomic, "liquidation fees exceed collateral")
	ErrMaxLeverageExceeded             = newError(KindEconomic, "max leverage exceeded")
	ErrPositionCannotBeLiquidated      = newError(KindEconomic, "position cannot be liquidated")
)

// Empty state.
var (
	ErrEmptyPosition = newError(KindEmpty, "empty position")
)

// ErrJournalFailed means an operation committed in memory but could not be
// persisted.
var ErrJournalFailed = newError(KindFatal, "journal write failed")

// Ledger, limit and oracle failures surface unchanged.
var (
	ErrReserveExceedsPool   = ledger.ErrReserveExceedsPool
	ErrPoolAmountExceeded   = ledger.ErrPoolAmountExceeded
	ErrMaxRusdExceeded      = ledger.ErrMaxRusdExceeded
	ErrInsufficientBalance  = ledger.ErrInsufficientBalance
	ErrConservationViolated = ledger.ErrConservationViolated
	ErrMaxShortsExceeded    = limits.ErrMaxShortsExceeded
	ErrMaxLongsExceeded     = limits.ErrMaxLongsExceeded
	ErrStalePrice           = oracle.ErrStalePrice
)

var foreignKinds = map[error]Kind{
	ledger.ErrReserveExceedsPool:     KindEconomic,
	ledger.ErrPoolAmountExceeded:     KindEconomic,
	ledger.ErrMaxRusdExceeded:        KindEconomic,
	ledger.ErrInsufficientBalance:    KindEconomic,
	ledger.ErrInsufficientCustody:    KindFatal,
	ledger.ErrInsufficientFeeReserve: KindEconomic,
	ledger.ErrNegativeAmount:         KindFatal,
	ledger.ErrConservationViolated:   KindFatal,
	ledger.ErrTxClosed:               KindFatal,
	limits.ErrMaxShortsExceeded:      KindEconomic,
	limits.ErrMaxLongsExceeded:       KindEconomic,
	oracle.ErrPriceNotFound:          KindConfiguration,
	oracle.ErrStalePrice:             KindEconomic,
	oracle.ErrInvalidPrice:           KindEconomic,
	oracle.ErrStaleUpdate:            KindEconomic,
	oracle.ErrInvalidSignature:       KindAuthorization,
	pnl.ErrInvalidAveragePrice:       KindFatal,
}

// KindOf classifies err.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	for target, k := range foreignKinds {
		if errors.Is(err, target) {
			return k
		}
	}
	return KindUnknown
}
