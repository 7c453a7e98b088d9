// handler.go — основной обработчик API finportal.
// Объединяет health и бизнес-обработчики, регистрирует маршруты chi.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/worldsun-app/finportal/internal/api/middleware"
	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/identity"
	"github.com/worldsun-app/finportal/internal/service"
)

// --- Зависимости обработчиков ---

// CatalogReader — чтение каталога. Реализуется *service.CatalogService.
type CatalogReader interface {
	Catalog(ctx context.Context) (model.Catalog, error)
	Latest(ctx context.Context, n int) ([]*model.FileRecord, error)
}

// FileSearcher реализуется *service.SearchService.
type FileSearcher interface {
	Search(ctx context.Context, params service.SearchParams) (*service.SearchResult, error)
}

// Downloader реализуется *service.DownloadService.
type Downloader interface {
	Download(w http.ResponseWriter, r *http.Request, name string) (*service.DownloadResult, error)
}

// ActivityRecorder реализуется *service.ActivityRecorder.
type ActivityRecorder interface {
	Record(ctx context.Context, entry *model.ActivityEntry, userAgent string) error
}

// StatsReader реализуется *service.StatsService.
type StatsReader interface {
	ParseRange(from, to string) (time.Time, time.Time, error)
	DailyStats(ctx context.Context, start, end time.Time, source string) ([]model.DailyStat, error)
	Summary(ctx context.Context, start, end time.Time) (*model.StatsSummary, error)
}

// AdminManager — проверка и выдача роли администратора.
// Реализуется *service.AdminService.
type AdminManager interface {
	middleware.AdminResolver
	Grant(ctx context.Context, actor, email string) (*identity.User, error)
	Revoke(ctx context.Context, actor, email string) (*identity.User, error)
}

// AnnouncementReader реализуется *service.AnnouncementService.
type AnnouncementReader interface {
	Current(ctx context.Context) ([]*model.Announcement, error)
}

// Deps — зависимости APIHandler.
type Deps struct {
	Health        *HealthHandler
	Catalog       CatalogReader
	Search        FileSearcher
	Download      Downloader
	Activity      ActivityRecorder
	Stats         StatsReader
	Admin         AdminManager
	Announcements AnnouncementReader
	// LatestLimit — размер выборки последних файлов по умолчанию
	LatestLimit int
	// GrantRequireAdmin — выдача роли доступна только администраторам
	GrantRequireAdmin bool
}

// APIHandler — основной обработчик API finportal.
type APIHandler struct {
	Deps
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(deps Deps, logger *slog.Logger) *APIHandler {
	if deps.LatestLimit <= 0 {
		deps.LatestLimit = defaultLatestLimit
	}
	return &APIHandler{
		Deps:   deps,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует маршруты API на роутере.
// Аутентификация подключается на уровне сервера (JWTAuthWithExclusions),
// проверка администратора — здесь, на группе маршрутов.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.Health.HealthLive)
	r.Get("/health/ready", h.Health.HealthReady)
	r.Get("/metrics", h.Health.GetMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", h.GetCatalog)
		r.Get("/files/latest", h.GetLatestFiles)
		r.Get("/files/search", h.SearchFiles)
		r.Get("/files/{name}/download", h.DownloadFile)
		r.Post("/activity", h.PostActivity)
		r.Get("/announcements", h.GetAnnouncements)
		r.Get("/me", h.GetMe)

		requireAdmin := middleware.RequireAdmin(h.Admin, h.logger)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/stats", h.GetStats)
			r.Get("/stats/daily", h.GetDailyStats)
		})

		r.Group(func(r chi.Router) {
			if h.GrantRequireAdmin {
				r.Use(requireAdmin)
			}
			r.Post("/admin/grant", h.GrantAdmin)
			r.Delete("/admin/grant", h.RevokeAdmin)
		})
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// queryInt читает целый параметр запроса. Пустое значение — def.
// ok=false при неразборчивом или отрицательном значении.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// clamp ограничивает v диапазоном [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
