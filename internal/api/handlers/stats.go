// stats.go — административная статистика: GET /api/stats, /api/stats/daily.
// Доступ проверяется middleware RequireAdmin.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/worldsun-app/finportal/internal/api/errors"
	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/service"
)

// dailyStatsResponse — ответ GET /api/stats/daily.
type dailyStatsResponse struct {
	From   string            `json:"from"`
	To     string            `json:"to"`
	Source string            `json:"source"`
	Items  []model.DailyStat `json:"items"`
}

// GetStats — GET /api/stats?from=&to=.
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := h.Stats.ParseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	summary, err := h.Stats.Summary(r.Context(), start, end)
	if err != nil {
		h.logger.Error("Ошибка сборки статистики", slog.String("error", err.Error()))
		apierrors.StoreUnavailable(w, "Не удалось получить статистику: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetDailyStats — GET /api/stats/daily?from=&to=&source=.
func (h *APIHandler) GetDailyStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := q.Get("source")
	switch source {
	case "":
		source = service.DailySourceActivity
	case service.DailySourceActivity, service.DailySourceCounters:
	default:
		apierrors.ValidationError(w, "source должен быть activity или counters")
		return
	}

	start, end, err := h.Stats.ParseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	items, err := h.Stats.DailyStats(r.Context(), start, end, source)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRange) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		h.logger.Error("Ошибка получения дневной статистики",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		apierrors.StoreUnavailable(w, "Не удалось получить дневную статистику")
		return
	}

	writeJSON(w, http.StatusOK, dailyStatsResponse{
		From:   start.Format("2006-01-02"),
		To:     end.Format("2006-01-02"),
		Source: source,
		Items:  items,
	})
}
