// search.go — поиск файлов по собранному каталогу.
// Фильтрация выполняется в памяти по кэшированному каталогу.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/worldsun-app/finportal/internal/domain/model"
)

// Prometheus-метрики поиска.
var (
	searchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_search_total",
		Help: "Общее количество поисковых запросов.",
	})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fp_search_duration_seconds",
		Help:    "Длительность поисковых запросов.",
		Buckets: prometheus.DefBuckets,
	})
)

// SearchParams — параметры поиска файлов.
type SearchParams struct {
	// Query — подстрока имени или заголовка (без учёта регистра)
	Query string
	// Sector, Category — точное совпадение (пусто — любой)
	Sector   string
	Category string
	Limit    int
	Offset   int
}

// SearchResult — результат поиска с пагинацией.
type SearchResult struct {
	// Items — найденные файлы
	Items []*model.FileRecord
	// Total — общее количество совпадений
	Total int
	// Limit — запрошенный лимит
	Limit int
	// Offset — текущее смещение
	Offset int
	// HasMore — есть ли ещё результаты
	HasMore bool
}

// SearchService — поиск файлов каталога.
type SearchService struct {
	catalog *CatalogService
	logger  *slog.Logger
}

// NewSearchService создаёт сервис поиска.
func NewSearchService(catalog *CatalogService, logger *slog.Logger) *SearchService {
	return &SearchService{
		catalog: catalog,
		logger:  logger.With(slog.String("component", "search_service")),
	}
}

// Search фильтрует каталог. Результаты упорядочены как Latest:
// по дате по убыванию, затем по имени.
func (s *SearchService) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	start := time.Now()
	searchTotal.Inc()

	catalog, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("поиск файлов: %w", err)
	}

	query := strings.ToLower(strings.TrimSpace(params.Query))
	var matched []*model.FileRecord
	for _, f := range catalog.Files() {
		if params.Sector != "" && f.Sector != params.Sector {
			continue
		}
		if params.Category != "" && f.Category != params.Category {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(f.Name), query) &&
			!strings.Contains(strings.ToLower(f.Title), query) {
			continue
		}
		matched = append(matched, f)
	}
	sortFiles(matched)

	total := len(matched)
	items := []*model.FileRecord{}
	if params.Offset < total {
		end := total
		if params.Limit > 0 && params.Offset+params.Limit < total {
			end = params.Offset + params.Limit
		}
		items = matched[params.Offset:end]
	}

	duration := time.Since(start)
	searchDuration.Observe(duration.Seconds())

	s.logger.Debug("Поиск выполнен",
		slog.Int("total", total),
		slog.Int("returned", len(items)),
		slog.Duration("duration", duration),
	)

	return &SearchResult{
		Items:   items,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: params.Offset+len(items) < total,
	}, nil
}
