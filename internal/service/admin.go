// admin.go — проверка прав администратора и выдача роли.
// Источник истины — custom claim admin: true в ID-токене Firebase;
// список email из конфигурации и таблица Admin_Users — legacy-источники,
// включаемые флагами.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/worldsun-app/finportal/internal/identity"
	"github.com/worldsun-app/finportal/internal/repository"
)

// RoleManager — управление custom claims пользователя.
// Реализуется *identity.Client.
type RoleManager interface {
	SetAdmin(ctx context.Context, email string, admin bool) (*identity.User, error)
}

// AdminOptions — legacy-источники прав администратора.
type AdminOptions struct {
	// Allowlist — email администраторов (учитывается при UseAllowlist)
	Allowlist    []string
	UseAllowlist bool
	// UseTable — искать email в таблице Admin_Users
	UseTable bool
}

// AdminService — права администратора.
type AdminService struct {
	roles     RoleManager
	admins    repository.AdminRepository
	allowlist map[string]struct{}
	opts      AdminOptions
	logger    *slog.Logger
}

// NewAdminService создаёт сервис прав. roles может быть nil, если
// ключ сервисного аккаунта не настроен: Grant тогда недоступен.
func NewAdminService(
	roles RoleManager,
	admins repository.AdminRepository,
	opts AdminOptions,
	logger *slog.Logger,
) *AdminService {
	allow := make(map[string]struct{}, len(opts.Allowlist))
	for _, e := range opts.Allowlist {
		allow[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return &AdminService{
		roles:     roles,
		admins:    admins,
		allowlist: allow,
		opts:      opts,
		logger:    logger.With(slog.String("component", "admin_service")),
	}
}

// IsAdmin решает, является ли пользователь администратором.
// claimAdmin — значение custom claim admin из проверенного токена.
// Legacy-источники сверяют email, поэтому учитываются только при
// emailVerified: custom claim привязан к uid, email — нет.
func (s *AdminService) IsAdmin(ctx context.Context, email string, emailVerified, claimAdmin bool) (bool, error) {
	if claimAdmin {
		return true, nil
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !emailVerified {
		return false, nil
	}
	if s.opts.UseAllowlist {
		if _, ok := s.allowlist[email]; ok {
			return true, nil
		}
	}
	if s.opts.UseTable && s.admins != nil {
		ok, err := s.admins.IsAdmin(ctx, email)
		if err != nil {
			return false, fmt.Errorf("проверка таблицы администраторов: %w", err)
		}
		return ok, nil
	}
	return false, nil
}

// ErrGrantUnavailable — выдача роли не настроена (нет ключа сервисного аккаунта).
var ErrGrantUnavailable = errors.New("выдача роли администратора не настроена")

// Grant устанавливает admin: true пользователю email, сохраняя прочие claims.
// actor — email администратора, выполняющего операцию (для журнала).
func (s *AdminService) Grant(ctx context.Context, actor, email string) (*identity.User, error) {
	return s.setAdmin(ctx, actor, email, true)
}

// Revoke снимает claim admin.
func (s *AdminService) Revoke(ctx context.Context, actor, email string) (*identity.User, error) {
	return s.setAdmin(ctx, actor, email, false)
}

func (s *AdminService) setAdmin(ctx context.Context, actor, email string, admin bool) (*identity.User, error) {
	if s.roles == nil {
		return nil, ErrGrantUnavailable
	}
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.roles.SetAdmin(ctx, email, admin)
	if err != nil {
		return nil, fmt.Errorf("изменение роли %s: %w", email, err)
	}
	s.logger.Info("Роль администратора изменена",
		slog.String("actor", actor),
		slog.String("email", email),
		slog.String("uid", user.UID),
		slog.Bool("admin", admin),
	)
	return user, nil
}
