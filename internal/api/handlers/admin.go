// admin.go — GET /api/me и выдача роли администратора
// (POST/DELETE /api/admin/grant).
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime/types"

	apierrors "github.com/worldsun-app/finportal/internal/api/errors"
	"github.com/worldsun-app/finportal/internal/api/middleware"
	"github.com/worldsun-app/finportal/internal/identity"
	"github.com/worldsun-app/finportal/internal/service"
)

const maxGrantBody = 4 << 10

// meResponse — ответ GET /api/me.
type meResponse struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Admin bool   `json:"admin"`
}

// grantRequest — тело запроса выдачи роли. types.Email проверяет формат
// при декодировании.
type grantRequest struct {
	Email types.Email `json:"email"`
}

// grantResponse — результат изменения роли.
type grantResponse struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Admin bool   `json:"admin"`
}

// GetMe — GET /api/me. Флаг admin вычисляется на сервере тем же правилом,
// что и доступ к статистике.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	admin, err := h.Admin.IsAdmin(r.Context(), claims.Email, claims.EmailVerified, claims.Admin)
	if err != nil {
		h.logger.Warn("Не удалось проверить права администратора",
			slog.String("uid", claims.UID),
			slog.String("error", err.Error()),
		)
		admin = claims.Admin
	}

	writeJSON(w, http.StatusOK, meResponse{
		UID:   claims.UID,
		Email: claims.Email,
		Admin: admin,
	})
}

// GrantAdmin — POST /api/admin/grant {email}.
func (h *APIHandler) GrantAdmin(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.Admin.Grant)
}

// RevokeAdmin — DELETE /api/admin/grant {email}.
func (h *APIHandler) RevokeAdmin(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.Admin.Revoke)
}

type roleChange func(ctx context.Context, actor, email string) (*identity.User, error)

func (h *APIHandler) changeRole(w http.ResponseWriter, r *http.Request, change roleChange) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	var req grantRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxGrantBody)).Decode(&req); err != nil {
		if errors.Is(err, types.ErrValidationEmail) {
			apierrors.ValidationError(w, "Некорректный email")
			return
		}
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	email := strings.TrimSpace(string(req.Email))
	if email == "" {
		apierrors.ValidationError(w, "Поле email обязательно")
		return
	}

	user, err := change(r.Context(), claims.Email, email)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserNotFound):
			apierrors.NotFound(w, "Пользователь с таким email не найден")
		case errors.Is(err, service.ErrGrantUnavailable):
			apierrors.NotConfigured(w, err.Error())
		default:
			h.logger.Error("Ошибка изменения роли администратора",
				slog.String("actor", claims.Email),
				slog.String("email", email),
				slog.String("error", err.Error()),
			)
			apierrors.IDPUnavailable(w, "Identity Provider недоступен")
		}
		return
	}

	writeJSON(w, http.StatusOK, grantResponse{
		UID:   user.UID,
		Email: user.Email,
		Admin: user.IsAdmin(),
	})
}
