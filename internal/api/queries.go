package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/metrics"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/store"
	"github.com/ruscet/vault-engine/internal/vault"
)

// maxEventPage caps GET /accounts/{account}/events.
const maxEventPage = 500

// GetPool handles GET /api/v1/pools/{asset}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	pool, err := s.store.GetPool(r.Context(), asset)
	if err != nil {
		s.writeVaultError(w, "get_pool", err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// GetFunding handles GET /api/v1/funding/{asset}
// The cumulative rates are projected to now without being stored.
func (s *Service) GetFunding(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	if _, ok := s.engine.AssetConfig(asset); !ok {
		writeError(w, "asset not found: "+asset, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Funding(asset))
}

// GetPosition handles GET /api/v1/positions/{key}
// key is {account}:{collateral}:{index}:{long|short}.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	pos, err := s.store.GetPosition(r.Context(), key)
	if err != nil {
		s.writeVaultError(w, "get_position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// PositionDeltaResponse is returned from GET /positions/{key}/delta.
type PositionDeltaResponse struct {
	HasProfit bool            `json:"has_profit"`
	Delta     decimal.Decimal `json:"delta"`
	Leverage  decimal.Decimal `json:"leverage_bps"`
}

// GetPositionDelta handles GET /api/v1/positions/{key}/delta
func (s *Service) GetPositionDelta(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	hasProfit, delta, err := s.engine.PositionDelta(key)
	if err != nil {
		s.writeVaultError(w, "position_delta", err)
		return
	}
	lev, err := s.engine.PositionLeverage(key)
	if err != nil {
		s.writeVaultError(w, "position_delta", err)
		return
	}
	writeJSON(w, http.StatusOK, PositionDeltaResponse{HasProfit: hasProfit, Delta: delta, Leverage: lev})
}

// LiquidationStateResponse is returned from GET /positions/{key}/liquidation.
type LiquidationStateResponse struct {
	State      string          `json:"state"`
	Reason     string          `json:"reason,omitempty"`
	MarginFees decimal.Decimal `json:"margin_fees"`
	Remaining  decimal.Decimal `json:"remaining_collateral"`
}

// GetLiquidationState handles GET /api/v1/positions/{key}/liquidation
func (s *Service) GetLiquidationState(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	check, err := s.engine.ValidateLiquidation(key, false)
	if err != nil {
		s.writeVaultError(w, "validate_liquidation", err)
		return
	}
	writeJSON(w, http.StatusOK, LiquidationStateResponse{
		State:      check.State.String(),
		Reason:     check.Reason(),
		MarginFees: check.MarginFees,
		Remaining:  check.Remaining,
	})
}

// NAVResponse is returned from GET /api/v1/nav.
type NAVResponse struct {
	NAV           decimal.Decimal `json:"nav"`
	Supply        decimal.Decimal `json:"supply"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
}

// GetNAV handles GET /api/v1/nav
func (s *Service) GetNAV(w http.ResponseWriter, r *http.Request) {
	nav, err := s.engine.NetAssetValue()
	if err != nil {
		s.writeVaultError(w, "nav", err)
		return
	}
	metrics.NetAssetValue.Set(nav.InexactFloat64())

	supply := s.engine.TotalSupply(model.TokenLP)
	pps := decimal.NewFromInt(1)
	if supply.IsPositive() {
		pps = nav.DivRound(supply, vault.TokenDecimals)
	}
	writeJSON(w, http.StatusOK, NAVResponse{NAV: nav, Supply: supply, PricePerShare: pps})
}

// ListPositions handles GET /api/v1/accounts/{account}/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	positions, err := s.store.ListPositions(r.Context(), account)
	if err != nil {
		s.writeVaultError(w, "list_positions", err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// ListEvents handles GET /api/v1/accounts/{account}/events
// Optional ?type=<event type>&limit=<n>.
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := store.EventFilter{
		Account: chi.URLParam(r, "account"),
		Type:    r.URL.Query().Get("type"),
		Limit:   maxEventPage,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if n < maxEventPage {
			filter.Limit = n
		}
	}

	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		s.writeVaultError(w, "list_events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// BalancesResponse is returned from GET /accounts/{account}/balances.
type BalancesResponse struct {
	RUSD decimal.Decimal `json:"rusd"`
	LP   decimal.Decimal `json:"lp"`
}

// GetBalances handles GET /api/v1/accounts/{account}/balances
func (s *Service) GetBalances(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	writeJSON(w, http.StatusOK, BalancesResponse{
		RUSD: s.engine.Balance(model.TokenRUSD, account),
		LP:   s.engine.Balance(model.TokenLP, account),
	})
}
