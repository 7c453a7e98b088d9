// health.go — обработчики health endpoints finportal.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (Airtable и подключённые зависимости)
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/worldsun-app/finportal/internal/config"
)

const serviceName = "finportal"

// Константы статусов health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// ErrorChecker адаптирует проверку вида func() error (RabbitMQ).
// Ошибка даёт status, остальное — ok.
type ErrorChecker struct {
	Check func() error
	// FailStatus — статус при ошибке (по умолчанию degraded)
	FailStatus string
}

// CheckReady реализует ReadinessChecker.
func (c ErrorChecker) CheckReady() (status, message string) {
	if err := c.Check(); err != nil {
		if c.FailStatus != "" {
			return c.FailStatus, err.Error()
		}
		return statusDegraded, err.Error()
	}
	return statusOK, ""
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	storeChecker ReadinessChecker
	optional     map[string]ReadinessChecker
	promHandler  http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// storeChecker — проверка Airtable (nil — readiness вернёт "fail").
// optional — дополнительные зависимости по имени (redis, rabbitmq, minio, jwks).
func NewHealthHandler(storeChecker ReadinessChecker, optional map[string]ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		storeChecker: storeChecker,
		optional:     optional,
		promHandler:  promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe. Airtable обязателен; сбой остальных
// зависимостей понижает статус до degraded, если checker не вернул fail сам.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult, len(h.optional)+1),
	}

	statuses := make([]string, 0, len(h.optional)+1)

	if h.storeChecker != nil {
		st, msg := h.storeChecker.CheckReady()
		resp.Checks["airtable"] = healthCheckResult{Status: st, Message: msg}
		statuses = append(statuses, st)
	} else {
		resp.Checks["airtable"] = healthCheckResult{Status: statusFail, Message: "не инициализирован"}
		statuses = append(statuses, statusFail)
	}

	for name, checker := range h.optional {
		if checker == nil {
			continue
		}
		st, msg := checker.CheckReady()
		resp.Checks[name] = healthCheckResult{Status: st, Message: msg}
		statuses = append(statuses, st)
	}

	resp.Status = overallStatus(statuses...)

	status := http.StatusOK
	if resp.Status == statusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
