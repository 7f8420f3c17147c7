package vault_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/vault"
)

func addLiquidity(h *harness, account, asset, amount string) (*vault.AddLiquidityResult, error) {
	return h.eng.AddLiquidity(vault.AddLiquidityRequest{Caller: account, Asset: asset, AmountIn: d(amount), Beneficiary: account})
}

func TestLiquidity_AddAndRemove(t *testing.T) {
	h := newHarness(t, 0)
	h.setFees(0)

	first, err := addLiquidity(h, alice, "USDC", "1000")
	require.NoError(t, err)
	assertDecimal(t, "1000", first.Shares)
	assert.True(t, first.NAV.IsZero())

	nav, err := h.eng.NetAssetValue()
	require.NoError(t, err)
	assertDecimal(t, "1000", nav)

	second, err := addLiquidity(h, bob, "USDC", "500")
	require.NoError(t, err)
	assertDecimal(t, "500", second.Shares)
	assertDecimal(t, "1500", h.eng.TotalSupply(model.TokenLP))

	out, err := h.eng.RemoveLiquidity(vault.RemoveLiquidityRequest{Caller: alice, Asset: "USDC", Shares: d("500"), Receiver: alice})
	require.NoError(t, err)
	assertDecimal(t, "500", out.USD)
	assertDecimal(t, "500", out.AmountOut)
	assertDecimal(t, "500", transfersTo(out.Receipt, alice))
	assertDecimal(t, "500", h.eng.Balance(model.TokenLP, alice))
	assertDecimal(t, "1000", h.eng.Pool("USDC").PoolAmount)
	assertDecimal(t, "1000", h.eng.Pool("USDC").StableDebt)
	assertConserved(t, h.eng)
}

func TestLiquidity_Errors(t *testing.T) {
	h := newHarness(t, 0)
	h.setFees(0)
	_, err := addLiquidity(h, alice, "USDC", "1000")
	require.NoError(t, err)

	_, err = addLiquidity(h, alice, "USDC", "0")
	assert.ErrorIs(t, err, vault.ErrInvalidAssetAmount)

	_, err = h.eng.RemoveLiquidity(vault.RemoveLiquidityRequest{Caller: alice, Asset: "USDC", Shares: d("0"), Receiver: alice})
	assert.ErrorIs(t, err, vault.ErrInvalidLpAmount)

	_, err = h.eng.RemoveLiquidity(vault.RemoveLiquidityRequest{Caller: alice, Asset: "USDC", Shares: d("1001"), Receiver: alice})
	assert.ErrorIs(t, err, vault.ErrInsufficientBalance)

	_, err = h.eng.RemoveLiquidity(vault.RemoveLiquidityRequest{Caller: alice, Asset: "USDC", Shares: d("1"), Receiver: ""})
	assert.ErrorIs(t, err, vault.ErrInvalidReceiver)

	_, err = h.eng.SetPaused(owner, true)
	require.NoError(t, err)
	_, err = addLiquidity(h, alice, "USDC", "1")
	assert.ErrorIs(t, err, vault.ErrVaultPaused)
	_, err = h.eng.RemoveLiquidity(vault.RemoveLiquidityRequest{Caller: alice, Asset: "USDC", Shares: d("1"), Receiver: alice})
	assert.ErrorIs(t, err, vault.ErrVaultPaused)

	_, err = h.eng.SetPaused(owner, false)
	require.NoError(t, err)
	_, err = addLiquidity(h, alice, "USDC", "1")
	assert.NoError(t, err)
}

func TestNetAssetValue_TracksShortPnL(t *testing.T) {
	h := newHarness(t, 0)
	h.setFees(0)
	_, err := addLiquidity(h, alice, "USDC", "100000")
	require.NoError(t, err)

	_, err = h.openShort(bob, "BTC", "100", "1000")
	require.NoError(t, err)

	// the short's collateral is reserved, not pool value
	nav, err := h.eng.NetAssetValue()
	require.NoError(t, err)
	assertDecimal(t, "100000", nav)

	h.setPrice("BTC", "36000")
	nav, err = h.eng.NetAssetValue()
	require.NoError(t, err)
	assertDecimal(t, "99900", nav)

	h.setPrice("BTC", "42000")
	nav, err = h.eng.NetAssetValue()
	require.NoError(t, err)
	assertDecimal(t, "100050", nav)
}

func TestNetAssetValue_LongsCountGuaranteedUSD(t *testing.T) {
	h := newHarness(t, 0)
	h.setFees(0)
	_, err := addLiquidity(h, alice, "BTC", "1")
	require.NoError(t, err)

	_, err = h.openLong(bob, "BTC", "0.0025", "1000")
	require.NoError(t, err)

	// 1.0025 BTC pooled, 0.025 reserved, $900 guaranteed
	nav, err := h.eng.NetAssetValue()
	require.NoError(t, err)
	assertDecimal(t, "40000", nav)
}
