// catalog.go — сборка каталога sector → category → files.
// Координирует FileRepository, кэш и Prometheus-метрики.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/repository"
)

// Ошибки сервисного слоя.
var (
	// ErrNotFound — файл не найден.
	ErrNotFound = errors.New("файл не найден")
)

// DefaultLatestLimit — количество последних файлов по умолчанию.
const DefaultLatestLimit = 6

// Prometheus-метрики каталога.
var (
	catalogBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fp_catalog_build_duration_seconds",
		Help:    "Длительность чтения таблицы файлов и сборки каталога.",
		Buckets: prometheus.DefBuckets,
	})
	catalogSkippedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_catalog_skipped_rows_total",
		Help: "Строки таблицы файлов, не попавшие в каталог.",
	}, []string{"reason"})
)

// CatalogService — каталог файлов с кэшированием.
type CatalogService struct {
	fileRepo      repository.FileRepository
	cache         *CacheService
	requireSector bool
	logger        *slog.Logger
}

// NewCatalogService создаёт сервис каталога.
// requireSector=false помещает строки без сектора в "其他" вместо пропуска.
func NewCatalogService(
	fileRepo repository.FileRepository,
	cache *CacheService,
	requireSector bool,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		fileRepo:      fileRepo,
		cache:         cache,
		requireSector: requireSector,
		logger:        logger.With(slog.String("component", "catalog_service")),
	}
}

// Catalog возвращает каталог. При промахе кэша читает всю таблицу файлов.
// Возвращаемое значение разделяется между вызовами и не должно изменяться.
func (s *CatalogService) Catalog(ctx context.Context) (model.Catalog, error) {
	if c, ok := s.cache.Get(catalogKey); ok {
		return c, nil
	}

	start := time.Now()
	files, err := s.fileRepo.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("чтение каталога: %w", err)
	}
	catalog := BuildCatalog(files, s.requireSector)
	duration := time.Since(start)
	catalogBuildDuration.Observe(duration.Seconds())

	s.cache.Set(catalogKey, catalog)
	s.logger.Debug("Каталог собран",
		slog.Int("rows", len(files)),
		slog.Int("files", catalog.Count()),
		slog.Int("sectors", len(catalog)),
		slog.Duration("duration", duration),
	)
	return catalog, nil
}

// Invalidate сбрасывает кэш каталога.
func (s *CatalogService) Invalidate() {
	s.cache.Delete(catalogKey)
}

// Latest возвращает n последних файлов: по дате по убыванию,
// файлы без даты — в конце. n <= 0 — DefaultLatestLimit.
func (s *CatalogService) Latest(ctx context.Context, n int) ([]*model.FileRecord, error) {
	if n <= 0 {
		n = DefaultLatestLimit
	}
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	files := catalog.Files()
	sortFiles(files)
	if len(files) > n {
		files = files[:n]
	}
	return files, nil
}

// FileByName ищет файл каталога по имени. ErrNotFound, если файла нет.
func (s *CatalogService) FileByName(ctx context.Context, name string) (*model.FileRecord, error) {
	name = strings.TrimSpace(name)
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range catalog {
		for _, files := range g.Categories {
			for _, f := range files {
				if f.Name == name {
					return f, nil
				}
			}
		}
	}
	return nil, ErrNotFound
}

// BuildCatalog группирует строки таблицы файлов.
// Строка без имени или вложения пропускается; без сектора — пропускается
// при requireSector, иначе попадает в model.DefaultSector.
// Пустой заголовок заменяется именем, пустая категория — model.DefaultCategory.
func BuildCatalog(rows []*model.FileRecord, requireSector bool) model.Catalog {
	catalog := model.Catalog{}
	for _, row := range rows {
		if row == nil || row.Name == "" {
			catalogSkippedRows.WithLabelValues("name").Inc()
			continue
		}
		if row.DownloadURL == "" {
			catalogSkippedRows.WithLabelValues("attachment").Inc()
			continue
		}
		f := *row
		if f.Sector == "" {
			if requireSector {
				catalogSkippedRows.WithLabelValues("sector").Inc()
				continue
			}
			f.Sector = model.DefaultSector
		}
		if f.Title == "" {
			f.Title = f.Name
		}
		if f.Category == "" {
			f.Category = model.DefaultCategory
		}

		g, ok := catalog[f.Sector]
		if !ok {
			g = &model.SectorGroup{Sector: f.Sector, Categories: map[string][]*model.FileRecord{}}
			catalog[f.Sector] = g
		}
		g.Categories[f.Category] = append(g.Categories[f.Category], &f)
	}

	for _, g := range catalog {
		for _, files := range g.Categories {
			sortFiles(files)
		}
	}
	return catalog
}

// sortFiles — по дате по убыванию (без даты — в конце), затем по имени.
func sortFiles(files []*model.FileRecord) {
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.Name < b.Name
	})
}
