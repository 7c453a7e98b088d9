// files.go — обработчики каталога: GET /api/catalog, /api/files/latest,
// /api/files/search, /api/files/{name}/download.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/worldsun-app/finportal/internal/api/errors"
	"github.com/worldsun-app/finportal/internal/api/middleware"
	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/service"
)

// Ограничения выборок.
const (
	defaultLatestLimit = 6
	maxLatestLimit     = 100
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// catalogResponse — ответ GET /api/catalog.
type catalogResponse struct {
	Catalog model.Catalog `json:"catalog"`
	Total   int           `json:"total"`
}

// filesResponse — ответ GET /api/files/latest.
type filesResponse struct {
	Items []*model.FileRecord `json:"items"`
}

// searchResponse — ответ GET /api/files/search.
type searchResponse struct {
	Items   []*model.FileRecord `json:"items"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	HasMore bool                `json:"hasMore"`
}

// GetCatalog — GET /api/catalog.
func (h *APIHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.Catalog.Catalog(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения каталога", slog.String("error", err.Error()))
		apierrors.StoreUnavailable(w, "Не удалось получить каталог: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, catalogResponse{Catalog: catalog, Total: catalog.Count()})
}

// GetLatestFiles — GET /api/files/latest?limit=.
func (h *APIHandler) GetLatestFiles(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", h.LatestLimit)
	if !ok {
		apierrors.ValidationError(w, "limit должен быть неотрицательным целым числом")
		return
	}
	limit = clamp(limit, 1, maxLatestLimit)

	files, err := h.Catalog.Latest(r.Context(), limit)
	if err != nil {
		h.logger.Error("Ошибка получения последних файлов", slog.String("error", err.Error()))
		apierrors.StoreUnavailable(w, "Не удалось получить каталог: "+err.Error())
		return
	}
	if files == nil {
		files = []*model.FileRecord{}
	}
	writeJSON(w, http.StatusOK, filesResponse{Items: files})
}

// SearchFiles — GET /api/files/search?q=&sector=&category=&limit=&offset=.
func (h *APIHandler) SearchFiles(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultSearchLimit)
	if !ok {
		apierrors.ValidationError(w, "limit должен быть неотрицательным целым числом")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		apierrors.ValidationError(w, "offset должен быть неотрицательным целым числом")
		return
	}

	q := r.URL.Query()
	result, err := h.Search.Search(r.Context(), service.SearchParams{
		Query:    q.Get("q"),
		Sector:   q.Get("sector"),
		Category: q.Get("category"),
		Limit:    clamp(limit, 1, maxSearchLimit),
		Offset:   offset,
	})
	if err != nil {
		h.logger.Error("Ошибка поиска файлов", slog.String("error", err.Error()))
		apierrors.StoreUnavailable(w, "Не удалось выполнить поиск: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Items:   result.Items,
		Total:   result.Total,
		Limit:   result.Limit,
		Offset:  result.Offset,
		HasMore: result.HasMore,
	})
}

// DownloadFile — GET /api/files/{name}/download.
// Активность file_download записывается один раз на скачивание: только для
// ответа, отдающего файл с первого байта, и только если передача не прервана.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		apierrors.ValidationError(w, "Не указано имя файла")
		return
	}

	res, err := h.Download.Download(w, r, name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTransferAborted):
			// Заголовки уже отправлены
			h.logger.Info("Скачивание прервано клиентом",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Файл не найден")
		case errors.Is(err, service.ErrAttachmentGone):
			apierrors.Gone(w, "Вложение файла недоступно")
		default:
			h.logger.Error("Ошибка скачивания файла",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
			apierrors.StoreUnavailable(w, "Не удалось получить файл")
		}
		return
	}

	if !res.FromStart {
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || h.Activity == nil {
		return
	}
	file := res.File
	details, _ := json.Marshal(map[string]string{"fileName": file.Name})
	entry := &model.ActivityEntry{
		UserID:    claims.UID,
		UserEmail: claims.Email,
		Action:    model.ActionFileDownload,
		Details:   details,
	}
	// Клиент мог уже отключиться: запись не должна отменяться вместе с запросом
	if err := h.Activity.Record(context.WithoutCancel(r.Context()), entry, r.UserAgent()); err != nil {
		h.logger.Warn("Не удалось записать скачивание",
			slog.String("file", file.Name),
			slog.String("uid", claims.UID),
			slog.String("error", err.Error()),
		)
	}
}

// GetAnnouncements — GET /api/announcements.
func (h *APIHandler) GetAnnouncements(w http.ResponseWriter, r *http.Request) {
	items, err := h.Announcements.Current(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения объявлений", slog.String("error", err.Error()))
		apierrors.StoreUnavailable(w, "Не удалось получить объявления")
		return
	}
	if items == nil {
		items = []*model.Announcement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
