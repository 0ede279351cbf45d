package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// AuditReader is the read side of the audit log.
type AuditReader interface {
	List(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit log: config changes and archive runs.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. audit may be nil when Postgres is
// disabled; the endpoint then answers 503.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?event=config.updated&limit=50&offset=0&since=&until=
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}

	event := r.URL.Query().Get("event")
	opts := parseListOpts(r)
	entries, err := h.audit.List(r.Context(), event, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
