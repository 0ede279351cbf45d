package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/holiman/uint256"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// FundingService defines the methods the handlers require from the service
// layer. It is declared locally so the handler package does not depend on
// the concrete service implementation.
type FundingService interface {
	Submit(ctx context.Context, updates []domain.PriceUpdate) []domain.UpdateResult
	Markets() []domain.MarketSnapshot
	Market(symbol string) (domain.MarketSnapshot, error)
	Rate(symbol string) (int64, error)
	Index(symbol string) (*uint256.Int, error)
	Params() domain.EngineParams
	UpdateConfig(ctx context.Context, params domain.EngineParams, actor string) error
	History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.FundingOutcome, error)
}

// MarketHandler serves market state endpoints.
type MarketHandler struct {
	funding FundingService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(funding FundingService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		funding: funding,
		logger:  logger,
	}
}

// ListMarkets returns every market snapshot ordered by symbol.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.funding.Markets()
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"total":   len(markets),
	})
}

// GetMarket returns the snapshot of one market.
// GET /api/markets/{symbol}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	snap, err := h.funding.Market(pathParam(r, "symbol"))
	if err != nil {
		h.fail(r, "get market", err, w)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetRate returns the last funding rate of one market.
// GET /api/markets/{symbol}/rate
func (h *MarketHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	rate, err := h.funding.Rate(symbol)
	if err != nil {
		h.fail(r, "get rate", err, w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"rate":     rate,
		"rate_pct": domain.RatePercent(rate),
	})
}

// GetIndex returns the cumulative funding index of one market.
// GET /api/markets/{symbol}/index
func (h *MarketHandler) GetIndex(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	idx, err := h.funding.Index(symbol)
	if err != nil {
		h.fail(r, "get index", err, w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":                     symbol,
		"cumulative_funding":         domain.RawString(idx),
		"cumulative_funding_decimal": domain.FixedString(idx, domain.PriceDecimals),
	})
}

// GetHistory returns persisted outcomes of one market, newest first.
// GET /api/markets/{symbol}/history?limit=50&offset=0&since=&until=
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	opts := parseListOpts(r)
	outcomes, err := h.funding.History(r.Context(), symbol, opts)
	if err != nil {
		h.fail(r, "get history", err, w)
		return
	}
	if outcomes == nil {
		outcomes = []domain.FundingOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"outcomes": outcomes,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}

func (h *MarketHandler) fail(r *http.Request, op string, err error, w http.ResponseWriter) {
	if writeServiceError(w, err) {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("symbol", pathParam(r, "symbol")),
			slog.String("error", err.Error()),
		)
	}
}
