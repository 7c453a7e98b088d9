// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// finportal мониторит HTTP-зависимости, заданные при создании:
//   - Firebase JWKS endpoint (HTTP GET, critical) — без ключей нельзя
//     проверить ни один ID-токен
//
// Airtable, Redis и AMQP проверяются readiness-проверками /health/ready.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPDependency — HTTP-зависимость для мониторинга.
type HTTPDependency struct {
	// Name — имя зависимости в метриках (e.g. "firebase-jwks")
	Name string
	// URL — полный URL проверки: схема, хост и путь
	URL      string
	Critical bool
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	names  []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения (e.g. "finportal")
//   - group — имя группы в метриках (FP_DEPHEALTH_GROUP)
//   - deps — проверяемые HTTP-зависимости
//   - checkInterval — интервал проверки (FP_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	serviceID string,
	group string,
	deps []HTTPDependency,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	deps []HTTPDependency,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	deps []HTTPDependency,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	if len(deps) == 0 {
		return nil, fmt.Errorf("не задано ни одной зависимости")
	}

	opts := make([]dephealth.Option, 0, 1+len(deps)+len(extraOpts))
	opts = append(opts, dephealth.WithLogger(logger))

	names := make([]string, 0, len(deps))
	for _, d := range deps {
		parsed, err := url.Parse(d.URL)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("зависимость %s: некорректный URL %q", d.Name, d.URL)
		}
		healthPath := parsed.EscapedPath()
		if healthPath == "" {
			healthPath = "/"
		}
		base := parsed.Scheme + "://" + parsed.Host

		opts = append(opts, dephealth.HTTP(d.Name,
			dephealth.FromURL(base),
			dephealth.WithHTTPHealthPath(healthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(d.Critical),
		))
		names = append(names, d.Name)
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		names:  names,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен", slog.Any("dependencies", ds.names))
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
