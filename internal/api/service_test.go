package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruscet/vault-engine/internal/api"
	"github.com/ruscet/vault-engine/internal/events"
	"github.com/ruscet/vault-engine/internal/ledger"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/oracle"
	"github.com/ruscet/vault-engine/internal/store"
	"github.com/ruscet/vault-engine/internal/vault"
)

const owner = "gov"

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	t      *testing.T
	router chi.Router
	store  *store.MemoryStore
	rec    *events.Recorder
	hub    *api.WSHub
	eng    *vault.Engine
}

// newTestEnv wires engine, journal, memory store and router the way the
// server does, then configures BTC and USDC over HTTP with flat fees.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := func() time.Time { return t0 }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	feed, err := oracle.NewFeed(0, oracle.WithClock(clock))
	require.NoError(t, err)

	ms := store.NewMemoryStore()
	rec := &events.Recorder{}
	hub := api.NewWSHub()
	journal := events.NewJournal(ms, events.Fanout{hub, rec}, logger)
	eng := vault.New(ledger.NewState(model.NewSettings(owner)), feed,
		vault.WithClock(clock), vault.WithLogger(logger), vault.WithJournal(journal))

	svc := api.NewService(eng, ms, hub, logger)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Mount)

	e := &testEnv{t: t, router: r, store: ms, rec: rec, hub: hub, eng: eng}

	for _, cfg := range []model.AssetConfig{
		{Asset: "BTC", Decimals: 8, Weight: 10000, IsShortable: true},
		{Asset: "USDC", Decimals: 6, Weight: 10000, IsStable: true},
	} {
		e.ok(e.do("POST", "/api/v1/admin/assets", owner, cfg))
	}
	e.ok(e.do("POST", "/api/v1/admin/fees", owner, model.FeeConfig{MarginFeeBps: 10, LiquidationFeeUSD: d("5")}))
	e.price("BTC", "40000")
	e.price("USDC", "1")
	return e
}

func (e *testEnv) do(method, path, account string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(api.AccountHeader, account)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) ok(w *httptest.ResponseRecorder) {
	e.t.Helper()
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
}

func (e *testEnv) price(asset, price string) {
	e.t.Helper()
	e.ok(e.do("POST", "/api/v1/prices", "", oracle.PriceUpdate{Asset: asset, Price: d(price), Timestamp: t0}))
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

// --- Stable debt ---

func TestBuyAndSellRUSD(t *testing.T) {
	e := newTestEnv(t)

	w := e.do("POST", "/api/v1/rusd/buy", "alice", vault.BuyRequest{Asset: "USDC", AmountIn: d("1000")})
	e.ok(w)
	buy := decodeBody[vault.BuyResult](t, w)
	assertDecimal(t, "1000", buy.Minted)
	require.Len(t, buy.Events, 1)
	assert.Equal(t, "alice", buy.Events[0].Account, "beneficiary defaults to the caller")

	// the journal wrote the pool row to the store
	w = e.do("GET", "/api/v1/pools/USDC", "", nil)
	e.ok(w)
	pool := decodeBody[model.PoolState](t, w)
	assertDecimal(t, "1000", pool.PoolAmount)
	assertDecimal(t, "1000", pool.StableDebt)

	w = e.do("POST", "/api/v1/rusd/sell", "alice", vault.SellRequest{Asset: "USDC", RusdIn: d("400"), Receiver: "alice"})
	e.ok(w)
	sell := decodeBody[vault.SellResult](t, w)
	assertDecimal(t, "400", sell.AmountOut)

	w = e.do("GET", "/api/v1/accounts/alice/balances", "", nil)
	e.ok(w)
	bal := decodeBody[api.BalancesResponse](t, w)
	assertDecimal(t, "600", bal.RUSD)

	w = e.do("GET", "/api/v1/accounts/alice/events?type=buy_rusd", "", nil)
	e.ok(w)
	evs := decodeBody[[]model.Event](t, w)
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventBuyRUSD, evs[0].Type)

	types := map[string]int{}
	for _, ev := range e.rec.Events {
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[model.EventBuyRUSD])
	assert.Equal(t, 1, types[model.EventSellRUSD])
}

func TestErrorStatusMapping(t *testing.T) {
	e := newTestEnv(t)
	e.ok(e.do("POST", "/api/v1/rusd/buy", "alice", vault.BuyRequest{Asset: "USDC", AmountIn: d("1000")}))

	tests := []struct {
		name    string
		method  string
		path    string
		account string
		body    any
		want    int
	}{
		{"missing caller", "POST", "/api/v1/rusd/buy", "", vault.BuyRequest{Asset: "USDC", AmountIn: d("1")}, http.StatusUnauthorized},
		{"not owner", "POST", "/api/v1/admin/pause", "alice", api.SetPausedRequest{Paused: true}, http.StatusForbidden},
		{"not liquidator", "POST", "/api/v1/positions/liquidate", "alice",
			vault.LiquidateRequest{Account: "bob", CollateralAsset: "BTC", IndexAsset: "BTC", IsLong: true}, http.StatusForbidden},
		{"not whitelisted", "POST", "/api/v1/rusd/buy", "alice", vault.BuyRequest{Asset: "DOGE", AmountIn: d("1")}, http.StatusBadRequest},
		{"zero amount", "POST", "/api/v1/rusd/buy", "alice", vault.BuyRequest{Asset: "USDC", AmountIn: d("0")}, http.StatusConflict},
		{"oversell", "POST", "/api/v1/rusd/sell", "alice", vault.SellRequest{Asset: "USDC", RusdIn: d("5000"), Receiver: "alice"}, http.StatusConflict},
		{"bad body", "POST", "/api/v1/swap", "alice", "not json", http.StatusBadRequest},
		{"unknown pool", "GET", "/api/v1/pools/DOGE", "", nil, http.StatusNotFound},
		{"bad asset", "GET", "/api/v1/pools/b-t-c", "", nil, http.StatusBadRequest},
		{"bad key", "GET", "/api/v1/positions/alice:BTC/delta", "", nil, http.StatusBadRequest},
		{"empty position", "GET", "/api/v1/positions/bob:BTC:BTC:long/delta", "", nil, http.StatusUnprocessableEntity},
		{"unstored position", "GET", "/api/v1/positions/bob:BTC:BTC:long", "", nil, http.StatusNotFound},
		{"bad limit", "GET", "/api/v1/accounts/alice/events?limit=-1", "", nil, http.StatusBadRequest},
		{"unknown funding asset", "GET", "/api/v1/funding/DOGE", "", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(tt.method, tt.path, tt.account, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if w.Code != http.StatusOK {
				body := decodeBody[map[string]string](t, w)
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

// --- Positions ---

func TestPositionLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.ok(e.do("POST", "/api/v1/rusd/buy", "lp", vault.BuyRequest{Asset: "BTC", AmountIn: d("1")}))
	e.ok(e.do("POST", "/api/v1/rusd/buy", "lp", vault.BuyRequest{Asset: "USDC", AmountIn: d("1000")}))

	w := e.do("POST", "/api/v1/positions/increase", "alice", vault.IncreaseRequest{
		CollateralAsset: "BTC", IndexAsset: "BTC",
		AmountIn: d("0.0025"), SizeDelta: d("1000"), IsLong: true,
	})
	e.ok(w)
	res := decodeBody[vault.PositionResult](t, w)
	assertDecimal(t, "1000", res.Position.Size)
	assertDecimal(t, "99", res.Position.Collateral)
	assertDecimal(t, "1", res.Fee)

	w = e.do("GET", "/api/v1/positions/alice:BTC:BTC:long", "", nil)
	e.ok(w)
	stored := decodeBody[model.Position](t, w)
	assertDecimal(t, "1000", stored.Size)

	w = e.do("GET", "/api/v1/accounts/alice/positions", "", nil)
	e.ok(w)
	assert.Len(t, decodeBody[[]model.Position](t, w), 1)

	w = e.do("GET", "/api/v1/positions/alice:BTC:BTC:long/liquidation", "", nil)
	e.ok(w)
	check := decodeBody[api.LiquidationStateResponse](t, w)
	assert.Equal(t, "ok", check.State)
	assert.Empty(t, check.Reason)

	e.price("BTC", "44000")
	w = e.do("GET", "/api/v1/positions/alice:BTC:BTC:long/delta", "", nil)
	e.ok(w)
	delta := decodeBody[api.PositionDeltaResponse](t, w)
	assert.True(t, delta.HasProfit)
	assertDecimal(t, "100", delta.Delta)

	// a router must be approved before acting for alice
	w = e.do("POST", "/api/v1/positions/decrease", "router", vault.DecreaseRequest{
		Account: "alice", CollateralAsset: "BTC", IndexAsset: "BTC", SizeDelta: d("1000"), IsLong: true, Receiver: "alice",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	e.ok(e.do("POST", "/api/v1/routers", "alice", api.SetRouterRequest{Router: "router", Approved: true}))
	w = e.do("POST", "/api/v1/positions/decrease", "router", vault.DecreaseRequest{
		Account: "alice", CollateralAsset: "BTC", IndexAsset: "BTC", SizeDelta: d("1000"), IsLong: true, Receiver: "alice",
	})
	e.ok(w)
	closed := decodeBody[vault.PositionResult](t, w)
	assert.True(t, closed.AmountOut.IsPositive())

	w = e.do("GET", "/api/v1/accounts/alice/positions", "", nil)
	e.ok(w)
	assert.Empty(t, decodeBody[[]model.Position](t, w))

	w = e.do("GET", "/api/v1/accounts/alice/events?limit=1", "", nil)
	e.ok(w)
	last := decodeBody[[]model.Event](t, w)
	require.Len(t, last, 1)
	assert.Equal(t, model.EventClosePosition, last[0].Type)
}

// --- Liquidity and funding ---

func TestLiquidityAndNAV(t *testing.T) {
	e := newTestEnv(t)

	w := e.do("GET", "/api/v1/nav", "", nil)
	e.ok(w)
	empty := decodeBody[api.NAVResponse](t, w)
	assert.True(t, empty.NAV.IsZero())
	assertDecimal(t, "1", empty.PricePerShare)

	w = e.do("POST", "/api/v1/liquidity/add", "alice", vault.AddLiquidityRequest{Asset: "USDC", AmountIn: d("1000")})
	e.ok(w)
	add := decodeBody[vault.AddLiquidityResult](t, w)
	assertDecimal(t, "1000", add.Shares)

	w = e.do("GET", "/api/v1/nav", "", nil)
	e.ok(w)
	nav := decodeBody[api.NAVResponse](t, w)
	assertDecimal(t, "1000", nav.NAV)
	assertDecimal(t, "1000", nav.Supply)
	assertDecimal(t, "1", nav.PricePerShare)

	w = e.do("POST", "/api/v1/liquidity/remove", "alice", vault.RemoveLiquidityRequest{Asset: "USDC", Shares: d("250"), Receiver: "alice"})
	e.ok(w)
	rm := decodeBody[vault.RemoveLiquidityResult](t, w)
	assertDecimal(t, "250", rm.AmountOut)

	e.ok(e.do("POST", "/api/v1/admin/pause", owner, api.SetPausedRequest{Paused: true}))
	w = e.do("POST", "/api/v1/liquidity/add", "alice", vault.AddLiquidityRequest{Asset: "USDC", AmountIn: d("1")})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFundingRoutes(t *testing.T) {
	e := newTestEnv(t)

	w := e.do("POST", "/api/v1/funding/BTC/update", "", nil)
	e.ok(w)
	upd := decodeBody[api.UpdateFundingResponse](t, w)
	assert.True(t, t0.Equal(upd.Funding.LastFundingTime))
	require.Len(t, upd.Events, 1)

	w = e.do("GET", "/api/v1/funding/BTC", "", nil)
	e.ok(w)
	info := decodeBody[model.FundingInfo](t, w)
	assert.Equal(t, "BTC", info.Asset)

	e.ok(e.do("POST", "/api/v1/admin/funding-rate", owner, api.SetFundingRateRequest{IntervalSeconds: 3600, RateFactor: 100}))
	w = e.do("GET", "/api/v1/admin/settings", "", nil)
	e.ok(w)
	settings := decodeBody[model.Settings](t, w)
	assert.Equal(t, time.Hour, settings.FundingInterval)
	assert.Equal(t, int64(100), settings.FundingRateFactor)
}

func TestWithdrawFeesRoute(t *testing.T) {
	e := newTestEnv(t)
	e.ok(e.do("POST", "/api/v1/admin/fees", owner, model.FeeConfig{MintBurnFeeBps: 30, LiquidationFeeUSD: d("5")}))
	e.ok(e.do("POST", "/api/v1/rusd/buy", "alice", vault.BuyRequest{Asset: "USDC", AmountIn: d("1000")}))

	w := e.do("POST", "/api/v1/admin/withdraw-fees", owner, api.WithdrawFeesRequest{Asset: "USDC", Receiver: "treasury"})
	e.ok(w)
	rc := decodeBody[vault.Receipt](t, w)
	require.Len(t, rc.Transfers, 1)
	assert.Equal(t, "treasury", rc.Transfers[0].To)
	assertDecimal(t, "3", rc.Transfers[0].Amount)
}

// --- WebSocket ---

func TestWebSocketBroadcast(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.hub.Run(ctx)

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return e.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	e.price("BTC", "41000")

	// setup prices may still be buffered ahead of the update under test
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg api.WSMessage
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Event.Price.Equal(d("41000")) {
			break
		}
	}
	assert.Equal(t, model.EventPriceUpdate, msg.Type)
	assert.Equal(t, "BTC", msg.Event.Asset)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, api.StatusFor(vault.ErrNotOwner))
	assert.Equal(t, http.StatusConflict, api.StatusFor(vault.ErrReserveExceedsPool))
	assert.Equal(t, http.StatusUnprocessableEntity, api.StatusFor(vault.ErrEmptyPosition))
	assert.Equal(t, http.StatusNotFound, api.StatusFor(store.ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, api.StatusFor(vault.ErrJournalFailed))
}
