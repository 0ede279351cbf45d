package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/funding"
	"github.com/deepak28290/hlhpythoracle/internal/service"
)

const btcHex = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

type fakeFunding struct {
	params   domain.EngineParams
	actor    string
	history  []domain.FundingOutcome
	histErr  error
	received []domain.PriceUpdate
}

func newFakeFunding() *fakeFunding {
	return &fakeFunding{params: funding.DefaultParams()}
}

func (f *fakeFunding) snap(symbol string) (domain.MarketSnapshot, error) {
	if symbol != "BTC" {
		return domain.MarketSnapshot{}, fmt.Errorf("funding: symbol %s: %w", symbol, domain.ErrUnknownSymbol)
	}
	return domain.MarketSnapshot{
		Symbol:            "BTC",
		FeedID:            common.HexToHash(btcHex),
		CumulativeFunding: uint256.NewInt(1_000_500_000_000_000_000),
		LastFundingRate:   500,
		LastUpdateTime:    time.Unix(1_700_000_060, 0).UTC(),
		LastPrice:         uint256.NewInt(0),
	}, nil
}

func (f *fakeFunding) Submit(_ context.Context, updates []domain.PriceUpdate) []domain.UpdateResult {
	f.received = append(f.received, updates...)
	out := make([]domain.UpdateResult, len(updates))
	for i, u := range updates {
		if u.FeedID != common.HexToHash(btcHex) {
			out[i] = domain.UpdateResult{Err: fmt.Errorf("funding: feed: %w", domain.ErrUnknownFeed)}
			continue
		}
		out[i] = domain.UpdateResult{Outcome: &domain.FundingOutcome{Seq: uint64(i + 1), Symbol: "BTC", CumulativeFunding: uint256.NewInt(1), Price: uint256.NewInt(1)}}
	}
	return out
}

func (f *fakeFunding) Markets() []domain.MarketSnapshot {
	s, _ := f.snap("BTC")
	return []domain.MarketSnapshot{s}
}

func (f *fakeFunding) Market(symbol string) (domain.MarketSnapshot, error) { return f.snap(symbol) }

func (f *fakeFunding) Rate(symbol string) (int64, error) {
	s, err := f.snap(symbol)
	return s.LastFundingRate, err
}

func (f *fakeFunding) Index(symbol string) (*uint256.Int, error) {
	s, err := f.snap(symbol)
	return s.CumulativeFunding, err
}

func (f *fakeFunding) Params() domain.EngineParams { return f.params }

func (f *fakeFunding) UpdateConfig(_ context.Context, p domain.EngineParams, actor string) error {
	if p.MaxFundingRate < 0 {
		return fmt.Errorf("funding: negative: %w", domain.ErrInvalidConfig)
	}
	f.params = p
	f.actor = actor
	return nil
}

func (f *fakeFunding) History(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.FundingOutcome, error) {
	if _, err := f.snap(symbol); err != nil {
		return nil, err
	}
	return f.history, f.histErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMux(f *fakeFunding) *http.ServeMux {
	logger := discardLogger()
	markets := NewMarketHandler(f, logger)
	updates := NewUpdateHandler(f, logger)
	cfg := NewConfigHandler(f, logger)
	status := NewStatusHandler(StatusInfo{Mode: "server", StartedAt: time.Now()}, f, func() int { return 3 })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", status.GetStatus)
	mux.HandleFunc("GET /api/markets", markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{symbol}", markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{symbol}/rate", markets.GetRate)
	mux.HandleFunc("GET /api/markets/{symbol}/index", markets.GetIndex)
	mux.HandleFunc("GET /api/markets/{symbol}/history", markets.GetHistory)
	mux.HandleFunc("POST /api/updates", updates.SubmitUpdates)
	mux.HandleFunc("GET /api/config", cfg.GetConfig)
	mux.HandleFunc("PUT /api/config", cfg.UpdateConfig)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, out
}

func TestMarketEndpoints(t *testing.T) {
	mux := newMux(newFakeFunding())

	tests := []struct {
		path     string
		wantCode int
		key      string
		want     any
	}{
		{"/api/markets", http.StatusOK, "total", float64(1)},
		{"/api/markets/BTC", http.StatusOK, "cumulative_funding", "1000500000000000000"},
		{"/api/markets/BTC/rate", http.StatusOK, "rate_pct", "0.05"},
		{"/api/markets/BTC/index", http.StatusOK, "cumulative_funding_decimal", "1.0005"},
		{"/api/markets/DOGE", http.StatusNotFound, "reason", domain.ReasonUnknownSymbol},
		{"/api/markets/DOGE/rate", http.StatusNotFound, "reason", domain.ReasonUnknownSymbol},
		{"/api/markets/DOGE/index", http.StatusNotFound, "reason", domain.ReasonUnknownSymbol},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, body := do(t, mux, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if body[tt.key] != tt.want {
				t.Fatalf("%s = %v, want %v", tt.key, body[tt.key], tt.want)
			}
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFakeFunding()
	mux := newMux(f)

	rec, body := do(t, mux, http.MethodGet, "/api/markets/BTC/history?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if outcomes, ok := body["outcomes"].([]any); !ok || len(outcomes) != 0 {
		t.Fatalf("outcomes = %v", body["outcomes"])
	}
	if body["limit"] != float64(5) {
		t.Fatalf("limit = %v", body["limit"])
	}

	f.histErr = service.ErrHistoryDisabled
	rec, _ = do(t, mux, http.MethodGet, "/api/markets/BTC/history", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled status = %d", rec.Code)
	}

	f.histErr = errors.New("connection reset")
	rec, body = do(t, mux, http.MethodGet, "/api/markets/BTC/history", "")
	if rec.Code != http.StatusInternalServerError || body["error"] != "internal server error" {
		t.Fatalf("failure = %d %v", rec.Code, body)
	}
}

func TestSubmitUpdates(t *testing.T) {
	f := newFakeFunding()
	mux := newMux(f)

	payload := `{"updates":[
		{"feed_id":"` + btcHex + `","price":4300000000000,"conf":1,"expo":-8,"publish_time":1700000060},
		{"feed_id":"0x12"},
		{"feed_id":"0x` + strings.Repeat("ab", 32) + `","price":1,"expo":0,"publish_time":1}
	]}`
	rec, body := do(t, mux, http.MethodPost, "/api/updates", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if body["accepted"] != float64(1) || body["rejected"] != float64(2) {
		t.Fatalf("counts = %v / %v", body["accepted"], body["rejected"])
	}

	results := body["results"].([]any)
	first := results[0].(map[string]any)
	second := results[1].(map[string]any)
	third := results[2].(map[string]any)
	if first["ok"] != true || first["outcome"] == nil {
		t.Fatalf("first = %v", first)
	}
	if second["ok"] != false || second["reason"] != reasonMalformed {
		t.Fatalf("second = %v", second)
	}
	if third["ok"] != false || third["reason"] != domain.ReasonUnknownFeed {
		t.Fatalf("third = %v", third)
	}
	if len(f.received) != 2 {
		t.Fatalf("submitted %d updates, want 2", len(f.received))
	}
}

func TestSubmitUpdatesRejectsBadBodies(t *testing.T) {
	mux := newMux(newFakeFunding())
	for _, body := range []string{`nope`, `{"updates":[]}`, `{}`} {
		rec, _ := do(t, mux, http.MethodPost, "/api/updates", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, rec.Code)
		}
	}
}

func TestConfigEndpoints(t *testing.T) {
	f := newFakeFunding()
	mux := newMux(f)

	rec, body := do(t, mux, http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK || body["max_funding_rate"] != float64(10_000) || body["min_update_interval_seconds"] != float64(60) {
		t.Fatalf("GET = %d %v", rec.Code, body)
	}

	rec, body = do(t, mux, http.MethodPut, "/api/config", `{"min_update_interval":"30s","max_funding_rate":5000}`)
	if rec.Code != http.StatusOK || body["max_funding_rate_pct"] != "0.5" {
		t.Fatalf("PUT = %d %v", rec.Code, body)
	}
	if f.params.MinUpdateInterval != 30*time.Second || !strings.HasPrefix(f.actor, "api:") {
		t.Fatalf("params = %+v actor = %q", f.params, f.actor)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing field", `{"min_update_interval":"30s"}`, http.StatusBadRequest},
		{"bad duration", `{"min_update_interval":"soon","max_funding_rate":1}`, http.StatusBadRequest},
		{"rejected by engine", `{"min_update_interval":"30s","max_funding_rate":-1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, mux, http.MethodPut, "/api/config", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStatusAndHealth(t *testing.T) {
	mux := newMux(newFakeFunding())
	rec, body := do(t, mux, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK || body["mode"] != "server" || body["markets"] != float64(1) || body["outcome_queue"] != float64(3) {
		t.Fatalf("status = %d %v", rec.Code, body)
	}

	healthy := NewHealthHandler(map[string]Check{"redis": func(context.Context) error { return nil }}, discardLogger())
	rec, body = do(t, http.HandlerFunc(healthy.HealthCheck), http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthy = %d %v", rec.Code, body)
	}

	degraded := NewHealthHandler(map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("down") },
	}, discardLogger())
	rec, body = do(t, http.HandlerFunc(degraded.HealthCheck), http.MethodGet, "/api/health", "")
	checks := body["checks"].(map[string]any)
	if rec.Code != http.StatusServiceUnavailable || checks["postgres"] != "down" || checks["redis"] != "ok" {
		t.Fatalf("degraded = %d %v", rec.Code, body)
	}
}

type fakeAuditLog struct {
	entries []domain.AuditEntry
	event   string
	opts    domain.ListOpts
	err     error
}

func (f *fakeAuditLog) List(_ context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.event, f.opts = event, opts
	return f.entries, f.err
}

func TestAuditEndpoint(t *testing.T) {
	log := &fakeAuditLog{entries: []domain.AuditEntry{{
		ID:        7,
		Event:     "config.updated",
		Detail:    map[string]any{"actor": "api:127.0.0.1"},
		CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
	}}}
	h := NewAuditHandler(log, discardLogger())

	rec, body := do(t, http.HandlerFunc(h.ListAudit), http.MethodGet, "/api/audit?event=config.updated&limit=10&since=1700000000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	entries := body["entries"].([]any)
	if len(entries) != 1 || entries[0].(map[string]any)["event"] != "config.updated" {
		t.Fatalf("entries = %v", entries)
	}
	if log.event != "config.updated" || log.opts.Limit != 10 || log.opts.Since == nil || log.opts.Since.Unix() != 1_700_000_000 {
		t.Fatalf("filter = %q %+v", log.event, log.opts)
	}

	log.entries, log.err = nil, errors.New("connection reset")
	rec, _ = do(t, http.HandlerFunc(h.ListAudit), http.MethodGet, "/api/audit", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failure status = %d", rec.Code)
	}

	disabled := NewAuditHandler(nil, discardLogger())
	rec, _ = do(t, http.HandlerFunc(disabled.ListAudit), http.MethodGet, "/api/audit", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled status = %d", rec.Code)
	}
}

func TestParseListOpts(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantSince  int64
	}{
		{"", 50, 0, 0},
		{"limit=5000&offset=-1", 500, 0, 0},
		{"limit=abc&offset=20&since=1700000000", 50, 20, 1_700_000_000},
		{"since=2023-11-14T22:13:20Z", 50, 0, 1_700_000_000},
		{"since=yesterday", 50, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			opts := parseListOpts(httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil))
			if opts.Limit != tt.wantLimit || opts.Offset != tt.wantOffset {
				t.Fatalf("limit/offset = %d/%d", opts.Limit, opts.Offset)
			}
			var since int64
			if opts.Since != nil {
				since = opts.Since.Unix()
			}
			if since != tt.wantSince {
				t.Fatalf("since = %d, want %d", since, tt.wantSince)
			}
		})
	}
}
