package handler

import (
	"net/http"
	"time"
)

// StatusInfo is the static part of the status report.
type StatusInfo struct {
	Mode      string
	Signer    string // signer address, empty when signing is off
	StartedAt time.Time
}

// StatusHandler serves the process status.
type StatusHandler struct {
	info       StatusInfo
	funding    FundingService
	queueDepth func() int
}

// NewStatusHandler creates a StatusHandler. queueDepth may be nil.
func NewStatusHandler(info StatusInfo, funding FundingService, queueDepth func() int) *StatusHandler {
	return &StatusHandler{info: info, funding: funding, queueDepth: queueDepth}
}

// GetStatus responds with the mode, uptime, engine parameters and outcome
// queue depth.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if h.queueDepth != nil {
		depth = h.queueDepth()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.info.Mode,
		"signer":         h.info.Signer,
		"started_at":     h.info.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.info.StartedAt).Seconds()),
		"markets":        len(h.funding.Markets()),
		"config":         paramsView(h.funding.Params()),
		"outcome_queue":  depth,
	})
}
