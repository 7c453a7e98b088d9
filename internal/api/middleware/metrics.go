// metrics.go — Prometheus HTTP метрики finportal.
// Регистрирует метрики: fp_http_requests_total, fp_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики finportal
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fp_http_requests_total",
			Help: "Общее количество HTTP-запросов к finportal",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fp_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к finportal в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Имя файла в пути заменяется на {name}
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// knownPaths — статические маршруты; прочие пути сводятся к "other".
var knownPaths = map[string]struct{}{
	"/health/live":       {},
	"/health/ready":      {},
	"/metrics":           {},
	"/api/catalog":       {},
	"/api/files/latest":  {},
	"/api/files/search":  {},
	"/api/activity":      {},
	"/api/announcements": {},
	"/api/me":            {},
	"/api/stats":         {},
	"/api/stats/daily":   {},
	"/api/admin/grant":   {},
}

// normalizePath приводит путь к шаблону маршрута.
// /api/files/report.pdf/download → /api/files/{name}/download
func normalizePath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}

	const filesPrefix = "/api/files/"
	if strings.HasPrefix(path, filesPrefix) && strings.HasSuffix(path, "/download") &&
		len(path) > len(filesPrefix)+len("/download") {
		return "/api/files/{name}/download"
	}

	return "other"
}
