package vault_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruscet/vault-engine/internal/ledger"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/oracle"
	"github.com/ruscet/vault-engine/internal/vault"
)

const (
	owner  = "gov"
	alice  = "alice"
	bob    = "bob"
	keeper = "keeper"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type harness struct {
	t    *testing.T
	now  time.Time
	feed *oracle.Feed
	eng  *vault.Engine
}

// newHarness builds an engine over BTC (8 decimals, shortable), ETH (18
// decimals) and USDC (6 decimals, stable) priced at 40000, 2000 and 1.
func newHarness(t *testing.T, spreadBps int64) *harness {
	t.Helper()
	h := &harness{t: t, now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	feed, err := oracle.NewFeed(spreadBps, oracle.WithClock(h.clock))
	require.NoError(t, err)
	require.NoError(t, feed.SetSpread("USDC", 0))
	h.feed = feed

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.eng = vault.New(ledger.NewState(model.NewSettings(owner)), feed,
		vault.WithClock(h.clock), vault.WithLogger(logger))

	for _, cfg := range []model.AssetConfig{
		{Asset: "BTC", Decimals: 8, Weight: 10000, IsShortable: true},
		{Asset: "ETH", Decimals: 18, Weight: 10000},
		{Asset: "USDC", Decimals: 6, Weight: 20000, IsStable: true},
	} {
		_, err := h.eng.SetAssetConfig(owner, cfg)
		require.NoError(t, err)
	}
	h.setPrice("BTC", "40000")
	h.setPrice("ETH", "2000")
	h.setPrice("USDC", "1")
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) advance(dur time.Duration) { h.now = h.now.Add(dur) }

func (h *harness) setPrice(asset, price string) {
	h.t.Helper()
	_, err := h.eng.UpdatePrice(oracle.PriceUpdate{Asset: asset, Price: d(price), Timestamp: h.now})
	require.NoError(h.t, err)
}

// setFees installs a flat schedule: no mint, swap or tax fees and the
// given margin fee.
func (h *harness) setFees(marginBps int64) {
	h.t.Helper()
	_, err := h.eng.SetFees(owner, model.FeeConfig{
		MarginFeeBps:      marginBps,
		LiquidationFeeUSD: d("5"),
	})
	require.NoError(h.t, err)
}

// seed buys amount of asset into the pool on behalf of lp.
func (h *harness) seed(asset, amount string) {
	h.t.Helper()
	_, err := h.eng.Buy(vault.BuyRequest{Caller: "lp", Asset: asset, AmountIn: d(amount), Beneficiary: "lp"})
	require.NoError(h.t, err)
}

func (h *harness) openLong(account, asset, amountIn, size string) (*vault.PositionResult, error) {
	return h.eng.IncreasePosition(vault.IncreaseRequest{
		Caller: account, Account: account,
		CollateralAsset: asset, IndexAsset: asset,
		AmountIn: d(amountIn), SizeDelta: d(size), IsLong: true,
	})
}

func (h *harness) openShort(account, index, usdcIn, size string) (*vault.PositionResult, error) {
	return h.eng.IncreasePosition(vault.IncreaseRequest{
		Caller: account, Account: account,
		CollateralAsset: "USDC", IndexAsset: index,
		AmountIn: d(usdcIn), SizeDelta: d(size), IsLong: false,
	})
}

func longKey(account, asset string) model.PositionKey {
	return model.PositionKey{Account: account, CollateralAsset: asset, IndexAsset: asset, IsLong: true}
}

func shortKey(account, index string) model.PositionKey {
	return model.PositionKey{Account: account, CollateralAsset: "USDC", IndexAsset: index, IsLong: false}
}

// assertConserved checks pool + fee reserves == balance and
// reserved <= pool on every pool row.
func assertConserved(t *testing.T, eng *vault.Engine) {
	t.Helper()
	for _, p := range eng.Snapshot().Pools {
		assert.True(t, p.PoolAmount.Add(p.FeeReserves).Equal(p.Balance),
			"%s: pool %s + fees %s != balance %s", p.Asset, p.PoolAmount, p.FeeReserves, p.Balance)
		assert.True(t, p.ReservedAmount.LessThanOrEqual(p.PoolAmount),
			"%s: reserved %s > pool %s", p.Asset, p.ReservedAmount, p.PoolAmount)
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func transfersTo(rc vault.Receipt, to string) decimal.Decimal {
	total := decimal.Zero
	for _, tr := range rc.Transfers {
		if tr.To == to {
			total = total.Add(tr.Amount)
		}
	}
	return total
}
