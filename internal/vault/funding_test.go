package vault_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruscet/vault-engine/internal/funding"
	"github.com/ruscet/vault-engine/internal/vault"
)

func TestFunding_MajorityPaysMinority(t *testing.T) {
	h := newHarness(t, 0)
	h.setFees(0)
	h.seed("BTC", "1")
	h.seed("USDC", "100000")

	_, err := h.openLong(alice, "BTC", "0.0025", "1000")
	require.NoError(t, err)
	_, err = h.openShort(bob, "BTC", "100", "400")
	require.NoError(t, err)

	h.advance(10 * time.Second)
	info, rc, err := h.eng.UpdateFundingInfo("BTC")
	require.NoError(t, err)
	require.NotNil(t, rc)

	// |1000 - 400| * 10 intervals * 23 / 1e9 = 0.000138
	assertDecimal(t, "0.000000138", info.CumulativeLongFundingRate)
	assertDecimal(t, "-0.000000345", info.CumulativeShortFundingRate)
	assert.True(t, h.now.Equal(info.LastFundingTime))

	long := h.eng.Position(longKey(alice, "BTC"))
	short := h.eng.Position(shortKey(bob, "BTC"))
	paid := funding.PositionFunding(long.Size, long.EntryFundingRate, info.CumulativeLongFundingRate)
	received := funding.PositionFunding(short.Size, short.EntryFundingRate, info.CumulativeShortFundingRate)
	assertDecimal(t, "0.000138", paid)
	assertDecimal(t, "-0.000138", received)
	assert.True(t, paid.Add(received).IsZero())

	again, _, err := h.eng.UpdateFundingInfo("BTC")
	require.NoError(t, err)
	assert.True(t, info.CumulativeLongFundingRate.Equal(again.CumulativeLongFundingRate))
	assert.True(t, info.LastFundingTime.Equal(again.LastFundingTime))

	res, err := h.eng.DecreasePosition(vault.DecreaseRequest{
		Caller: bob, Account: bob,
		CollateralAsset: "USDC", IndexAsset: "BTC",
		CollateralDelta: d("10"), IsLong: false, Receiver: bob,
	})
	require.NoError(t, err)
	assertDecimal(t, "-0.000138", res.Funding)
	assertDecimal(t, "90.000138", res.Position.Collateral)
	assertDecimal(t, "10", transfersTo(res.Receipt, bob))
	assert.True(t, info.CumulativeShortFundingRate.Equal(res.Position.EntryFundingRate))
	assertConserved(t, h.eng)
}

func TestFunding_PartialIntervalsCarry(t *testing.T) {
	h := newHarness(t, 0)
	h.setFees(0)
	h.seed("BTC", "1")

	_, err := h.openLong(alice, "BTC", "0.0025", "1000")
	require.NoError(t, err)
	start := h.eng.Funding("BTC").LastFundingTime

	h.advance(1500 * time.Millisecond)
	info, _, err := h.eng.UpdateFundingInfo("BTC")
	require.NoError(t, err)
	assert.True(t, start.Add(time.Second).Equal(info.LastFundingTime))
	// no shorts: the long side alone is charged
	assertDecimal(t, "0.000000023", info.CumulativeLongFundingRate)
	assert.True(t, info.CumulativeShortFundingRate.IsZero())
}

func TestSetFundingRate(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.eng.SetFundingRate(owner, 0, 10)
	assert.ErrorIs(t, err, vault.ErrInvalidFees)

	_, err = h.eng.SetFundingRate(owner, time.Hour, vault.MaxFundingRateFactor+1)
	assert.ErrorIs(t, err, vault.ErrInvalidFees)

	_, err = h.eng.SetFundingRate(alice, time.Hour, 100)
	assert.ErrorIs(t, err, vault.ErrNotOwner)

	_, err = h.eng.SetFundingRate(owner, time.Hour, 100)
	require.NoError(t, err)
	s := h.eng.Settings()
	assert.Equal(t, time.Hour, s.FundingInterval)
	assert.Equal(t, int64(100), s.FundingRateFactor)
}
