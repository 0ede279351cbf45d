package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/service"
)

// writeJSON writes v with the given status. Encoding happens before the
// header goes out so a failure can still become a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error onto an HTTP status. It reports
// whether the error was an unexpected (5xx) failure.
func writeServiceError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, domain.ErrUnknownSymbol), errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error(), "reason": domain.ReasonOf(err)})
	case errors.Is(err, domain.ErrInvalidConfig):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "reason": domain.ReasonInvalidConfig})
	case errors.Is(err, service.ErrHistoryDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
		return true
	}
	return false
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// parseListOpts reads limit, offset, since and until from the query string.
// Bad values fall back to the defaults rather than failing the request.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	opts := domain.ListOpts{
		Limit: defaultPageSize,
		Since: parseTime(q.Get("since")),
		Until: parseTime(q.Get("until")),
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, maxPageSize)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		opts.Offset = n
	}
	return opts
}

// parseTime accepts unix seconds or RFC 3339.
func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	var t time.Time
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		t = time.Unix(n, 0)
	} else if parsed, err := time.Parse(time.RFC3339, v); err == nil {
		t = parsed
	} else {
		return nil
	}
	t = t.UTC()
	return &t
}

func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
