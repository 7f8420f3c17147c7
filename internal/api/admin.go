package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/vault"
)

// Governance routes. The engine enforces that the caller is the owner.
func (s *Service) mountAdmin(r chi.Router) {
	r.Get("/settings", s.GetSettings)
	r.Post("/assets", s.SetAssetConfig)
	r.Post("/assets/{asset}/clear", s.ClearAssetConfig)
	r.Post("/assets/{asset}/max-leverage", s.SetMaxLeverage)
	r.Post("/fees", s.SetFees)
	r.Post("/funding-rate", s.SetFundingRate)
	r.Post("/liquidators", s.SetLiquidator)
	r.Post("/max-global-short", s.SetMaxGlobalShortSize)
	r.Post("/max-global-long", s.SetMaxGlobalLongSize)
	r.Post("/pause", s.SetPaused)
	r.Post("/withdraw-fees", s.WithdrawFees)
	r.Post("/ownership", s.TransferOwnership)
}

// admin decodes body into dst and runs fn as the caller.
func (s *Service) admin(w http.ResponseWriter, r *http.Request, action string, dst any, fn func(caller string) (*vault.Receipt, error)) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	if dst != nil && !decode(w, r, dst) {
		return
	}
	start := time.Now()
	rc, err := fn(acct)
	if err == nil {
		s.log.Info("governance action", "action", action, "caller", acct)
	}
	s.respond(w, action, start, rc, err)
}

// GetSettings handles GET /api/v1/admin/settings
func (s *Service) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Settings())
}

// SetAssetConfig handles POST /api/v1/admin/assets
func (s *Service) SetAssetConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.AssetConfig
	s.admin(w, r, "set_asset_config", &cfg, func(c string) (*vault.Receipt, error) {
		return s.engine.SetAssetConfig(c, cfg)
	})
}

// ClearAssetConfig handles POST /api/v1/admin/assets/{asset}/clear
func (s *Service) ClearAssetConfig(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	s.admin(w, r, "clear_asset_config", nil, func(c string) (*vault.Receipt, error) {
		return s.engine.ClearAssetConfig(c, asset)
	})
}

// SetMaxLeverageRequest is the JSON body for POST /admin/assets/{asset}/max-leverage.
type SetMaxLeverageRequest struct {
	MaxLeverage int64 `json:"max_leverage"` // bps, 500000 = 50x
}

// SetMaxLeverage handles POST /api/v1/admin/assets/{asset}/max-leverage
func (s *Service) SetMaxLeverage(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	var req SetMaxLeverageRequest
	s.admin(w, r, "set_max_leverage", &req, func(c string) (*vault.Receipt, error) {
		return s.engine.SetMaxLeverage(c, asset, req.MaxLeverage)
	})
}

// SetFees handles POST /api/v1/admin/fees
func (s *Service) SetFees(w http.ResponseWriter, r *http.Request) {
	var req model.FeeConfig
	s.admin(w, r, "set_fees", &req, func(c string) (*vault.Receipt, error) {
		return s.engine.SetFees(c, req)
	})
}

// SetFundingRateRequest is the JSON body for POST /admin/funding-rate.
type SetFundingRateRequest struct {
	IntervalSeconds int64 `json:"interval_seconds"`
	RateFactor      int64 `json:"rate_factor"`
}

// SetFundingRate handles POST /api/v1/admin/funding-rate
func (s *Service) SetFundingRate(w http.ResponseWriter, r *http.Request) {
	var req SetFundingRateRequest
	s.admin(w, r, "set_funding_rate", &req, func(c string) (*vault.Receipt, error) {
		return s.engine.SetFundingRate(c, time.Duration(req.IntervalSeconds)*time.Second, req.RateFactor)
	})
}

// SetLiquidatorRequest is the JSON body for POST /admin/liquidators.
type SetLiquidatorRequest struct {
	Liquidator string `json:"liquidator"`
	Active     bool   `json:"active"`
}

// SetLiquidator handles POST /api/v1/admin/liquidators
func (s *Service) SetLiquidator(w http.ResponseWriter, r *http.Request) {
	var req SetLiquidatorRequest
	s.admin(w, r, "set_liquidator", &req, func(c string) (*vault.Receipt, error) {
		return s.engine.SetLiquidator(c, req.Liquidator, req.Active)
	})
}

// SizeCapRequest is the JSON body for the global size caps. A zero USD
// removes the cap.
type SizeCapRequest struct {
	Asset string          `json:"asset"`
	USD   decimal.Decimal `json:"usd"`
}

// SetMaxGlobalShortSize handles POST /api/v1/admin/max-global-short
func (s *Service) SetMaxGlobalShortSize(w http.ResponseWriter, r *http.Request) {
	var req SizeCapRequest
	s.admin(w, r, "set_max_global_short_size", &req, func(c string) (*vault.Receipt, error) {
		return s.engine.SetMaxGlobalShortSize(c, req.Asset, req.USD)
	})
}

// SetMaxGlobalLongSize handles POST /api/v1/admin/max-global-long
func (s *Service) SetMaxGlobalLongSize(w http.ResponseWriter, r *http.Request) {
	var req SizeCapRequest
	s.admin(w, r, "set_max_global_long_size", &req, func(c string) (*vault.Receipt, error) {
		return s.engine.SetMaxGlobalLongSize(c, req.Asset, req.USD)
	})
}

// SetPausedRequest is the JSON body for POST /admin/pause.
type SetPausedRequest struct {
	Paused bool `json:"paused"`
}

// SetPaused handles POST /api/v1/admin/pause
func (s *Service) SetPaused(w http.ResponseWriter, r *http.Request) {
	var req SetPausedRequest
	s.admin(w, r, "set_paused", &req, func(c string) (*vault.Receipt, error) {
		return s.engine.SetPaused(c, req.Paused)
	})
}

// WithdrawFeesRequest is the JSON body for POST /admin/withdraw-fees.
type WithdrawFeesRequest struct {
	Asset    string `json:"asset"`
	Receiver string `json:"receiver"`
}

// WithdrawFees handles POST /api/v1/admin/withdraw-fees
func (s *Service) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req WithdrawFeesRequest
	s.admin(w, r, model.EventWithdrawFees, &req, func(c string) (*vault.Receipt, error) {
		return s.engine.WithdrawFees(c, req.Asset, req.Receiver)
	})
}

// TransferOwnershipRequest is the JSON body for POST /admin/ownership.
type TransferOwnershipRequest struct {
	Owner string `json:"owner"`
}

// TransferOwnership handles POST /api/v1/admin/ownership
func (s *Service) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req TransferOwnershipRequest
	s.admin(w, r, "transfer_ownership", &req, func(c string) (*vault.Receipt, error) {
		return s.engine.TransferOwnership(c, req.Owner)
	})
}
