package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/deepak28290/hlhpythoracle/internal/funding"
	"github.com/deepak28290/hlhpythoracle/internal/server/handler"
	"github.com/deepak28290/hlhpythoracle/internal/service"
)

func newTestServer(t *testing.T, apiKey string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := funding.NewRegistry([]funding.Binding{{
		Symbol: "BTC",
		FeedID: common.HexToHash("0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"),
	}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	engine, err := funding.NewEngine(reg, funding.DefaultParams(), time.Now())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	svc := service.NewFundingService(service.FundingDeps{Engine: engine}, logger)

	srv := NewServer(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Status:  handler.NewStatusHandler(handler.StatusInfo{Mode: "server", StartedAt: time.Now()}, svc, nil),
		Markets: handler.NewMarketHandler(svc, logger),
		Updates: handler.NewUpdateHandler(svc, logger),
		Config:  handler.NewConfigHandler(svc, logger),
		Audit:   handler.NewAuditHandler(nil, logger),
	}, nil, nil, logger)
	return srv.Handler()
}

func TestRoutesAndAuth(t *testing.T) {
	h := newTestServer(t, "s3cret")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		key    string
		want   int
	}{
		{"health is public", http.MethodGet, "/api/health", "", "", http.StatusOK},
		{"status is public", http.MethodGet, "/api/status", "", "", http.StatusOK},
		{"markets are public", http.MethodGet, "/api/markets/BTC", "", "", http.StatusOK},
		{"unknown symbol", http.MethodGet, "/api/markets/DOGE/rate", "", "", http.StatusNotFound},
		{"history disabled", http.MethodGet, "/api/markets/BTC/history", "", "", http.StatusServiceUnavailable},
		{"config read is public", http.MethodGet, "/api/config", "", "", http.StatusOK},
		{"config write needs key", http.MethodPut, "/api/config", `{"min_update_interval":"1m","max_funding_rate":100}`, "", http.StatusUnauthorized},
		{"config write with key", http.MethodPut, "/api/config", `{"min_update_interval":"1m","max_funding_rate":100}`, "s3cret", http.StatusOK},
		{"updates need key", http.MethodPost, "/api/updates", `{"updates":[{}]}`, "", http.StatusUnauthorized},
		{"updates with key", http.MethodPost, "/api/updates", `{"updates":[{}]}`, "s3cret", http.StatusOK},
		{"audit needs key", http.MethodGet, "/api/audit", "", "", http.StatusUnauthorized},
		{"audit without postgres", http.MethodGet, "/api/audit", "", "s3cret", http.StatusServiceUnavailable},
		{"wrong method", http.MethodDelete, "/api/config", "", "s3cret", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}
