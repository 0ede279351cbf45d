package handler

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/server/middleware"
)

// ConfigHandler reads and replaces the engine parameters.
type ConfigHandler struct {
	funding FundingService
	logger  *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(funding FundingService, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{funding: funding, logger: logger}
}

type paramsResponse struct {
	MinUpdateInterval        string `json:"min_update_interval"`
	MinUpdateIntervalSeconds int64  `json:"min_update_interval_seconds"`
	MaxFundingRate           int64  `json:"max_funding_rate"`
	MaxFundingRatePercent    string `json:"max_funding_rate_pct"`
}

func paramsView(p domain.EngineParams) paramsResponse {
	return paramsResponse{
		MinUpdateInterval:        p.MinUpdateInterval.String(),
		MinUpdateIntervalSeconds: int64(p.MinUpdateInterval / time.Second),
		MaxFundingRate:           p.MaxFundingRate,
		MaxFundingRatePercent:    domain.RatePercent(p.MaxFundingRate),
	}
}

// GetConfig returns the current engine parameters.
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, paramsView(h.funding.Params()))
}

type updateConfigRequest struct {
	MinUpdateInterval *string `json:"min_update_interval"`
	MaxFundingRate    *int64  `json:"max_funding_rate"`
}

// UpdateConfig replaces both engine parameters at once.
// PUT /api/config  {"min_update_interval":"60s","max_funding_rate":10000}
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MinUpdateInterval == nil || req.MaxFundingRate == nil {
		writeError(w, http.StatusBadRequest, "min_update_interval and max_funding_rate are required")
		return
	}
	interval, err := time.ParseDuration(*req.MinUpdateInterval)
	if err != nil {
		writeError(w, http.StatusBadRequest, "min_update_interval: "+err.Error())
		return
	}

	params := domain.EngineParams{MinUpdateInterval: interval, MaxFundingRate: *req.MaxFundingRate}
	if err := h.funding.UpdateConfig(r.Context(), params, actorOf(r)); err != nil {
		if writeServiceError(w, err) {
			h.logger.ErrorContext(r.Context(), "handler: update config failed", slog.String("error", err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusOK, paramsView(h.funding.Params()))
}

// actorOf identifies the caller for the audit log: the authenticated key
// fingerprint when auth is on, and the remote host.
func actorOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if a := middleware.Actor(r.Context()); a != "" {
		return "api:" + a + "@" + host
	}
	return "api:" + host
}
