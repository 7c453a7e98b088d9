package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/worldsun-app/finportal/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		Port:             0,
		CORSOrigins:      []string{"https://portal.example.com"},
		HTTPReadTimeout:  time.Second,
		HTTPWriteTimeout: time.Second,
		HTTPIdleTimeout:  time.Second,
		ShutdownTimeout:  time.Second,
	}
}

// denyAll — middleware, отклоняющий всё (вместо JWT).
func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
}

func testRoutes(r chi.Router) {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	r.Get("/health/live", ok)
	r.Get("/metrics", ok)
	r.Get("/api/catalog", ok)
	r.Get("/api/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })
}

func TestJWTAuthWithExclusions(t *testing.T) {
	srv := New(testConfig(), testLogger(), testRoutes, JWTAuthWithExclusions(denyAll, "/health/", "/metrics"))
	h := srv.Handler()

	tests := []struct {
		path string
		want int
	}{
		{"/health/live", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/catalog", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: ожидался %d, получен %d", tt.path, tt.want, rec.Code)
		}
	}
}

func TestCORSPreflightBeforeAuth(t *testing.T) {
	srv := New(testConfig(), testLogger(), testRoutes, JWTAuthWithExclusions(denyAll, "/health/"))

	req := httptest.NewRequest(http.MethodOptions, "/api/catalog", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code == http.StatusUnauthorized {
		t.Fatal("preflight не должен требовать токен")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRecoverer(t *testing.T) {
	srv := New(testConfig(), testLogger(), testRoutes)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("ожидался 500 после panic, получен %d", rec.Code)
	}
}
