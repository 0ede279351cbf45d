package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/feed"
)

const (
	maxUpdateBody  = 1 << 20
	maxUpdateBatch = 1000

	reasonMalformed = "malformed"
)

// UpdateHandler accepts batches of oracle observations.
type UpdateHandler struct {
	funding FundingService
	logger  *slog.Logger
}

// NewUpdateHandler creates an UpdateHandler.
func NewUpdateHandler(funding FundingService, logger *slog.Logger) *UpdateHandler {
	return &UpdateHandler{funding: funding, logger: logger}
}

type submitRequest struct {
	Updates []json.RawMessage `json:"updates"`
}

type updateResult struct {
	OK      bool                   `json:"ok"`
	Outcome *domain.FundingOutcome `json:"outcome,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// SubmitUpdates processes a batch of observations and reports a result per
// entry, in request order. Entries that fail to decode are rejected as
// "malformed" without affecting the rest of the batch.
// POST /api/updates  {"updates":[{"feed_id":"0x..","price":..,"conf":..,"expo":..,"publish_time":..}]}
func (h *UpdateHandler) SubmitUpdates(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Updates) == 0 {
		writeError(w, http.StatusBadRequest, "updates must not be empty")
		return
	}
	if len(req.Updates) > maxUpdateBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "too many updates in one batch")
		return
	}

	results := make([]updateResult, len(req.Updates))
	updates := make([]domain.PriceUpdate, 0, len(req.Updates))
	index := make([]int, 0, len(req.Updates))
	for i, raw := range req.Updates {
		u, err := feed.DecodeObservation(raw)
		if err != nil {
			results[i] = updateResult{Reason: reasonMalformed, Error: err.Error()}
			continue
		}
		updates = append(updates, u)
		index = append(index, i)
	}

	accepted := 0
	if len(updates) > 0 {
		for j, res := range h.funding.Submit(r.Context(), updates) {
			i := index[j]
			if res.OK() {
				results[i] = updateResult{OK: true, Outcome: res.Outcome}
				accepted++
				continue
			}
			results[i] = updateResult{Reason: domain.ReasonOf(res.Err), Error: res.Err.Error()}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":  results,
		"accepted": accepted,
		"rejected": len(results) - accepted,
	})
}
