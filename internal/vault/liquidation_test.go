package vault_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruscet/vault-engine/internal/fixed"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/vault"
)

func liquidate(h *harness, account string, key model.PositionKey) (*vault.LiquidationResult, error) {
	return h.eng.LiquidatePosition(vault.LiquidateRequest{
		Caller:          keeper,
		Account:         account,
		CollateralAsset: key.CollateralAsset,
		IndexAsset:      key.IndexAsset,
		IsLong:          key.IsLong,
		FeeReceiver:     keeper,
	})
}

func TestLiquidation_LossesExceedCollateral(t *testing.T) {
	h := newHarness(t, 10)
	h.setFees(10)
	h.seed("BTC", "1")
	key := longKey(alice, "BTC")
	poolBefore := h.eng.Pool("BTC").PoolAmount

	// 0.00025 BTC at the 39960 min price is $9.99; less the $0.09 fee
	res, err := h.openLong(alice, "BTC", "0.00025", "90")
	require.NoError(t, err)
	assertDecimal(t, "90", res.Position.Size)
	assertDecimal(t, "9.9", res.Position.Collateral)
	assertDecimal(t, "40040", res.Position.AveragePrice)

	check, err := h.eng.ValidateLiquidation(key, false)
	require.NoError(t, err)
	assert.Equal(t, vault.LiquidationOK, check.State)

	h.setPrice("BTC", "37000")

	check, err = h.eng.ValidateLiquidation(key, false)
	require.NoError(t, err)
	assert.Equal(t, vault.LiquidationLossesExceedCollateral, check.State)
	assert.ErrorIs(t, check.Err, vault.ErrLiquidationFeesExceedCollateral)
	assertDecimal(t, "0.09", check.MarginFees)

	_, err = h.eng.ValidateLiquidation(key, true)
	assert.ErrorIs(t, err, vault.ErrLiquidationFeesExceedCollateral)

	_, err = liquidate(h, alice, key)
	require.ErrorIs(t, err, vault.ErrInvalidLiquidator)

	_, err = h.eng.SetLiquidator(owner, keeper, true)
	require.NoError(t, err)

	liq, err := liquidate(h, alice, key)
	require.NoError(t, err)
	assert.Equal(t, vault.LiquidationLossesExceedCollateral, liq.State)
	assertDecimal(t, "5", liq.LiquidationFee)

	wantFee := fixed.USDToToken(d("5"), d("37037"), 8)
	assert.True(t, wantFee.Equal(transfersTo(liq.Receipt, keeper)), "keeper got %s", transfersTo(liq.Receipt, keeper))
	assert.True(t, transfersTo(liq.Receipt, alice).IsZero())

	assert.True(t, h.eng.Position(key).IsEmpty())
	pool := h.eng.Pool("BTC")
	assert.True(t, pool.ReservedAmount.IsZero())
	assert.True(t, pool.GuaranteedUSD.IsZero())
	// the fee came out of the seized collateral, not the pool
	assert.True(t, pool.PoolAmount.GreaterThan(poolBefore), "pool %s, before %s", pool.PoolAmount, poolBefore)
	assert.True(t, h.eng.Funding("BTC").TotalLongSizes.IsZero())
	assertConserved(t, h.eng)

	_, err = liquidate(h, alice, key)
	assert.ErrorIs(t, err, vault.ErrEmptyPosition)
}

func TestLiquidation_MaxLeverageExceeded(t *testing.T) {
	h := newHarness(t, 0)
	h.setFees(0)
	h.seed("BTC", "1")
	key := longKey(alice, "BTC")
	_, err := h.eng.SetLiquidator(owner, keeper, true)
	require.NoError(t, err)

	// $30 behind $1000 is 33x
	_, err = h.openLong(alice, "BTC", "0.00075", "1000")
	require.NoError(t, err)

	// a $5 loss and the $5 liquidation fee leave exactly 50x
	h.setPrice("BTC", "39800")
	_, err = liquidate(h, alice, key)
	require.ErrorIs(t, err, vault.ErrPositionCannotBeLiquidated)

	h.setPrice("BTC", "39780")
	check, err := h.eng.ValidateLiquidation(key, false)
	require.NoError(t, err)
	assert.Equal(t, vault.LiquidationMaxLeverageExceeded, check.State)
	assertDecimal(t, "24.5", check.Remaining)

	liq, err := liquidate(h, alice, key)
	require.NoError(t, err)
	assert.Equal(t, vault.LiquidationMaxLeverageExceeded, liq.State)

	// $24.5 left, $5 to the keeper, the rest back to the trader
	wantOut := fixed.USDToToken(d("19.5"), d("39780"), 8)
	wantFee := fixed.USDToToken(d("5"), d("39780"), 8)
	assert.True(t, wantOut.Equal(liq.AmountOut), "amount out %s", liq.AmountOut)
	assert.True(t, wantOut.Equal(transfersTo(liq.Receipt, alice)))
	assert.True(t, wantFee.Equal(transfersTo(liq.Receipt, keeper)))

	assert.True(t, h.eng.Position(key).IsEmpty())
	assert.True(t, h.eng.Pool("BTC").ReservedAmount.IsZero())

	types := make([]string, 0, len(liq.Events))
	for _, ev := range liq.Events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, model.EventLiquidate)
	assertConserved(t, h.eng)
}

func TestLiquidation_Short(t *testing.T) {
	h := newHarness(t, 0)
	h.setFees(0)
	h.seed("USDC", "100000")
	key := shortKey(alice, "BTC")
	_, err := h.eng.SetLiquidator(owner, keeper, true)
	require.NoError(t, err)

	_, err = h.openShort(alice, "BTC", "100", "1000")
	require.NoError(t, err)

	// a 10% rally wipes out the 10x short
	h.setPrice("BTC", "44000")
	liq, err := liquidate(h, alice, key)
	require.NoError(t, err)
	assert.Equal(t, vault.LiquidationLossesExceedCollateral, liq.State)
	assertDecimal(t, "5", liq.LiquidationFee)
	assertDecimal(t, "5", transfersTo(liq.Receipt, keeper))

	assert.True(t, h.eng.Position(key).IsEmpty())
	assert.True(t, h.eng.GlobalShort("BTC").Size.IsZero())
	usdc := h.eng.Pool("USDC")
	assert.True(t, usdc.ReservedAmount.IsZero())
	assertDecimal(t, "100095", usdc.PoolAmount)
	assertConserved(t, h.eng)
}

// Fees charged on liquidation count against the collateral backing the
// leverage cap, so a position sitting just under 50x on losses alone
// becomes liquidatable once fees are switched on.
func TestLiquidation_FeesCountTowardsLeverage(t *testing.T) {
	tests := []struct {
		name string
		fees model.FeeConfig
	}{
		{"margin fee", model.FeeConfig{MarginFeeBps: 10}},
		{"liquidation fee", model.FeeConfig{LiquidationFeeUSD: d("5")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			_, err := h.eng.SetFees(owner, model.FeeConfig{})
			require.NoError(t, err)
			h.seed("BTC", "1")
			key := longKey(alice, "BTC")

			_, err = h.openLong(alice, "BTC", "0.0025", "1000")
			require.NoError(t, err)

			// $79.975 of losses leave $20.025, 49.9x
			h.setPrice("BTC", "36801")
			check, err := h.eng.ValidateLiquidation(key, false)
			require.NoError(t, err)
			assert.Equal(t, vault.LiquidationOK, check.State)
			assertDecimal(t, "20.025", check.Remaining)

			_, err = h.eng.SetFees(owner, tt.fees)
			require.NoError(t, err)

			check, err = h.eng.ValidateLiquidation(key, false)
			require.NoError(t, err)
			assert.Equal(t, vault.LiquidationMaxLeverageExceeded, check.State)
			assert.ErrorIs(t, check.Err, vault.ErrMaxLeverageExceeded)
		})
	}
}

func TestLiquidation_RetiredAsset(t *testing.T) {
	h := newHarness(t, 0)
	h.setFees(0)
	h.seed("BTC", "1")
	key := longKey(alice, "BTC")
	_, err := h.eng.SetLiquidator(owner, keeper, true)
	require.NoError(t, err)

	_, err = h.openLong(alice, "BTC", "0.0025", "1000")
	require.NoError(t, err)

	_, err = h.eng.ClearAssetConfig(owner, "BTC")
	require.NoError(t, err)

	_, err = h.openLong(alice, "BTC", "0.0025", "1000")
	require.ErrorIs(t, err, vault.ErrCollateralAssetNotWhitelisted)

	h.setPrice("BTC", "30000")
	liq, err := liquidate(h, alice, key)
	require.NoError(t, err)
	assert.Equal(t, vault.LiquidationLossesExceedCollateral, liq.State)
	assert.True(t, h.eng.Position(key).IsEmpty())
	assert.True(t, h.eng.Pool("BTC").ReservedAmount.IsZero())
	assertConserved(t, h.eng)
}
