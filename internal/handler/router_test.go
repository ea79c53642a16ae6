package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragedizzer/conwatch/internal/metrics"
	"github.com/ragedizzer/conwatch/internal/middleware"
	"github.com/ragedizzer/conwatch/internal/security"
)

// mockPinger はPingerのテスト用モック。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

func newTestRouter(pinger Pinger) http.Handler {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())

	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)

	return NewRouter(&RouterDeps{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		RateLimiter:    rl,
		MetricsHandler: metrics.Handler(reg),
		DB:             pinger,
		SourceRepo:     &mockSourceRepo{},
		JobRepo:        &mockJobRepo{},
		WatchRepo:      &mockWatchRepo{},
		UserRepo:       &mockUserRepo{},
		ConvRepo:       &mockConvRepo{},
		URLGuard:       security.NewSSRFGuard(),
		Materializer:   &mockRematerializer{},
	})
}

func TestRouter_Healthz(t *testing.T) {
	router := newTestRouter(&mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want 200", rec.Code)
	}
}

func TestRouter_Healthz_DBError(t *testing.T) {
	router := newTestRouter(&mockPinger{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ステータスコード = %d, want 503", rec.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(&mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want 200", rec.Code)
	}
}

func TestRouter_SourceRoutesWired(t *testing.T) {
	router := newTestRouter(&mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want 200", rec.Code)
	}
}

func TestRouter_WatchRoutesWired(t *testing.T) {
	router := newTestRouter(&mockPinger{})

	req := httptest.NewRequest(http.MethodDelete, "/api/watches/missing", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("ステータスコード = %d, want 404", rec.Code)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	router := newTestRouter(&mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("ステータスコード = %d, want 404", rec.Code)
	}
}
