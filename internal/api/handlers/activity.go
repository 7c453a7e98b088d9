// activity.go — обработчик POST /api/activity.
// Запись журнала не блокирует действие пользователя: ответ 202 даже при
// сбое хранилища, результат только логируется.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/worldsun-app/finportal/internal/api/errors"
	"github.com/worldsun-app/finportal/internal/api/middleware"
	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/service"
)

// maxActivityBody — ограничение тела запроса активности.
const maxActivityBody = 64 << 10

// activityRequest — тело POST /api/activity.
// userId и userEmail берутся из токена, значения клиента игнорируются.
type activityRequest struct {
	EventID     string          `json:"eventId"`
	Action      string          `json:"action"`
	Details     json.RawMessage `json:"details"`
	Timestamp   *time.Time      `json:"timestamp"`
	DeviceInfo  string          `json:"deviceInfo"`
	BrowserInfo string          `json:"browserInfo"`
}

// activityResponse — ответ 202.
type activityResponse struct {
	EventID  string `json:"eventId"`
	Recorded bool   `json:"recorded"`
}

// PostActivity — POST /api/activity.
func (h *APIHandler) PostActivity(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	var req activityRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxActivityBody))
	if err := dec.Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	entry := &model.ActivityEntry{
		EventID:     req.EventID,
		UserID:      claims.UID,
		UserEmail:   claims.Email,
		Action:      req.Action,
		Details:     req.Details,
		DeviceInfo:  req.DeviceInfo,
		BrowserInfo: req.BrowserInfo,
	}
	if req.Timestamp != nil {
		entry.Timestamp = *req.Timestamp
	}

	// Отключение клиента не прерывает запись и повторы
	err := h.Activity.Record(context.WithoutCancel(r.Context()), entry, r.UserAgent())
	if errors.Is(err, service.ErrInvalidActivity) {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err != nil {
		h.logger.Warn("Активность не записана",
			slog.String("event_id", entry.EventID),
			slog.String("action", entry.Action),
			slog.String("uid", claims.UID),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusAccepted, activityResponse{
		EventID:  entry.EventID,
		Recorded: err == nil,
	})
}
