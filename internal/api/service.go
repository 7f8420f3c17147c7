// Package api provides the HTTP handlers over the vault engine: stable-debt
// mint/burn, swaps, leveraged positions, liquidity, governance, and the
// read-side queries served from the store.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ruscet/vault-engine/internal/metrics"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/oracle"
	"github.com/ruscet/vault-engine/internal/store"
	"github.com/ruscet/vault-engine/internal/vault"
)

// AccountHeader carries the caller identity on every mutating request.
const AccountHeader = "X-Account"

// Service exposes the engine over HTTP. Writes go through the engine,
// which journals them to the store; position, pool and event reads come
// from the store.
type Service struct {
	engine *vault.Engine
	store  store.Store
	hub    *WSHub // optional WebSocket hub for real-time broadcasts
	log    *slog.Logger
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(engine *vault.Engine, st store.Store, hub *WSHub, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{engine: engine, store: st, hub: hub, log: log}
}

// Mount registers the /api/v1 routes on r.
func (s *Service) Mount(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Post("/prices", s.UpdatePrice)

	r.Post("/rusd/buy", s.BuyRUSD)
	r.Post("/rusd/sell", s.SellRUSD)
	r.Post("/swap", s.Swap)

	r.Post("/positions/increase", s.IncreasePosition)
	r.Post("/positions/decrease", s.DecreasePosition)
	r.Post("/positions/liquidate", s.LiquidatePosition)
	r.Get("/positions/{key}", s.GetPosition)
	r.Get("/positions/{key}/delta", s.GetPositionDelta)
	r.Get("/positions/{key}/liquidation", s.GetLiquidationState)
	r.Post("/routers", s.SetRouter)

	r.Post("/liquidity/add", s.AddLiquidity)
	r.Post("/liquidity/remove", s.RemoveLiquidity)
	r.Get("/nav", s.GetNAV)

	r.Get("/pools/{asset}", s.GetPool)
	r.Get("/funding/{asset}", s.GetFunding)
	r.Post("/funding/{asset}/update", s.UpdateFunding)

	r.Get("/accounts/{account}/positions", s.ListPositions)
	r.Get("/accounts/{account}/events", s.ListEvents)
	r.Get("/accounts/{account}/balances", s.GetBalances)

	r.Route("/admin", s.mountAdmin)
}

// --- Request plumbing ---

// caller returns the X-Account identity or writes 401.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	acct := r.Header.Get(AccountHeader)
	if acct == "" {
		writeError(w, AccountHeader+" header is required", http.StatusUnauthorized)
		return "", false
	}
	return acct, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func assetParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	asset, err := model.ValidateAsset(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return asset, true
}

func keyParam(w http.ResponseWriter, r *http.Request) (model.PositionKey, bool) {
	key, err := model.ParsePositionKey(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return model.PositionKey{}, false
	}
	return key, true
}

// respond records the operation outcome and writes either res or the
// mapped error.
func (s *Service) respond(w http.ResponseWriter, op string, started time.Time, res any, err error) {
	if err != nil {
		metrics.ObserveOperation(op, vault.KindOf(err).String(), started)
		s.writeVaultError(w, op, err)
		return
	}
	metrics.ObserveOperation(op, "ok", started)
	writeJSON(w, http.StatusOK, res)
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	switch vault.KindOf(err) {
	case vault.KindAuthorization:
		return http.StatusForbidden
	case vault.KindConfiguration:
		return http.StatusBadRequest
	case vault.KindEconomic:
		return http.StatusConflict
	case vault.KindEmpty:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) writeVaultError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("operation failed", "op", op, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// --- Oracle ---

// UpdatePrice handles POST /api/v1/prices
func (s *Service) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req oracle.PriceUpdate
	if !decode(w, r, &req) {
		return
	}
	asset, err := model.ValidateAsset(req.Asset)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Asset = asset

	start := time.Now()
	rc, err := s.engine.UpdatePrice(req)
	s.respond(w, model.EventPriceUpdate, start, rc, err)
}

// --- Stable debt ---

// BuyRUSD handles POST /api/v1/rusd/buy
func (s *Service) BuyRUSD(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req vault.BuyRequest
	if !decode(w, r, &req) {
		return
	}
	req.Caller = acct
	if req.Beneficiary == "" {
		req.Beneficiary = acct
	}

	start := time.Now()
	res, err := s.engine.Buy(req)
	s.respond(w, model.EventBuyRUSD, start, res, err)
}

// SellRUSD handles POST /api/v1/rusd/sell
func (s *Service) SellRUSD(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req vault.SellRequest
	if !decode(w, r, &req) {
		return
	}
	req.Caller = acct

	start := time.Now()
	res, err := s.engine.Sell(req)
	s.respond(w, model.EventSellRUSD, start, res, err)
}

// Swap handles POST /api/v1/swap
func (s *Service) Swap(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req vault.SwapRequest
	if !decode(w, r, &req) {
		return
	}
	req.Caller = acct

	start := time.Now()
	res, err := s.engine.Swap(req)
	s.respond(w, model.EventSwap, start, res, err)
}

// --- Positions ---

// IncreasePosition handles POST /api/v1/positions/increase
// The account defaults to the caller; a router passes the account it acts
// for.
func (s *Service) IncreasePosition(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req vault.IncreaseRequest
	if !decode(w, r, &req) {
		return
	}
	req.Caller = acct
	if req.Account == "" {
		req.Account = acct
	}

	start := time.Now()
	res, err := s.engine.IncreasePosition(req)
	s.respond(w, model.EventIncreasePosition, start, res, err)
}

// DecreasePosition handles POST /api/v1/positions/decrease
func (s *Service) DecreasePosition(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req vault.DecreaseRequest
	if !decode(w, r, &req) {
		return
	}
	req.Caller = acct
	if req.Account == "" {
		req.Account = acct
	}

	start := time.Now()
	res, err := s.engine.DecreasePosition(req)
	s.respond(w, model.EventDecreasePosition, start, res, err)
}

// LiquidatePosition handles POST /api/v1/positions/liquidate
func (s *Service) LiquidatePosition(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req vault.LiquidateRequest
	if !decode(w, r, &req) {
		return
	}
	req.Caller = acct

	start := time.Now()
	res, err := s.engine.LiquidatePosition(req)
	if err == nil {
		s.log.Info("position liquidated",
			"position", req.Key().String(),
			"state", res.State.String(),
			"keeper", acct,
			"fee", res.LiquidationFee.String(),
		)
	}
	s.respond(w, model.EventLiquidate, start, res, err)
}

// SetRouterRequest is the JSON body for POST /routers.
type SetRouterRequest struct {
	Router   string `json:"router"`
	Approved bool   `json:"approved"`
}

// SetRouter handles POST /api/v1/routers
// The caller approves or revokes a router for its own account.
func (s *Service) SetRouter(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req SetRouterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Router == "" {
		writeError(w, "router is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	rc, err := s.engine.SetRouter(acct, req.Router, req.Approved)
	s.respond(w, "set_router", start, rc, err)
}

// --- Liquidity ---

// AddLiquidity handles POST /api/v1/liquidity/add
func (s *Service) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req vault.AddLiquidityRequest
	if !decode(w, r, &req) {
		return
	}
	req.Caller = acct
	if req.Beneficiary == "" {
		req.Beneficiary = acct
	}

	start := time.Now()
	res, err := s.engine.AddLiquidity(req)
	s.respond(w, model.EventAddLiquidity, start, res, err)
}

// RemoveLiquidity handles POST /api/v1/liquidity/remove
func (s *Service) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var req vault.RemoveLiquidityRequest
	if !decode(w, r, &req) {
		return
	}
	req.Caller = acct

	start := time.Now()
	res, err := s.engine.RemoveLiquidity(req)
	s.respond(w, model.EventRemoveLiquidity, start, res, err)
}

// --- Funding ---

// UpdateFundingResponse is returned from POST /funding/{asset}/update.
type UpdateFundingResponse struct {
	Funding model.FundingInfo `json:"funding"`
	Events  []model.Event     `json:"events"`
}

// UpdateFunding handles POST /api/v1/funding/{asset}/update
// Anyone may advance funding.
func (s *Service) UpdateFunding(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}

	start := time.Now()
	info, rc, err := s.engine.UpdateFundingInfo(asset)
	var resp UpdateFundingResponse
	if err == nil {
		resp = UpdateFundingResponse{Funding: info, Events: rc.Events}
	}
	s.respond(w, model.EventUpdateFunding, start, resp, err)
}
