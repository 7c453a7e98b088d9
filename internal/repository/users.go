package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/worldsun-app/finportal/internal/airtable"
	"github.com/worldsun-app/finportal/internal/domain/model"
)

// UserRepository — таблица зарегистрированных пользователей.
type UserRepository interface {
	// CountActive возвращает количество пользователей со status = "active".
	CountActive(ctx context.Context) (int, error)
}

type userRepository struct {
	client TableClient
	table  string
	fields airtable.UserFields
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(client TableClient, table string, fields airtable.UserFields) UserRepository {
	return &userRepository{client: client, table: table, fields: fields}
}

func (r *userRepository) CountActive(ctx context.Context) (int, error) {
	records, err := r.client.List(ctx, r.table, airtable.ListOptions{
		Formula: airtable.Eq(r.fields.Status, "active"),
		Fields:  []string{r.fields.Status},
	})
	if err != nil {
		return 0, fmt.Errorf("подсчёт активных пользователей: %w", err)
	}
	return len(records), nil
}

// AdminRepository — legacy-таблица администраторов (Admin_Users).
type AdminRepository interface {
	IsAdmin(ctx context.Context, email string) (bool, error)
}

type adminRepository struct {
	client TableClient
	table  string
	fields airtable.AdminUserFields
}

// NewAdminRepository создаёт репозиторий legacy-администраторов.
func NewAdminRepository(client TableClient, table string, fields airtable.AdminUserFields) AdminRepository {
	return &adminRepository{client: client, table: table, fields: fields}
}

// IsAdmin ищет email без учёта регистра.
func (r *adminRepository) IsAdmin(ctx context.Context, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, nil
	}
	formula := fmt.Sprintf("LOWER(%s) = %s", airtable.Field(r.fields.Email), airtable.Quote(email))
	_, err := r.client.First(ctx, r.table, airtable.ListOptions{Formula: formula})
	if errors.Is(err, airtable.ErrNoRecords) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("поиск администратора: %w", err)
	}
	return true, nil
}

// AnnouncementRepository — таблица объявлений.
type AnnouncementRepository interface {
	List(ctx context.Context) ([]*model.Announcement, error)
}

type announcementRepository struct {
	client TableClient
	table  string
	fields airtable.AnnouncementFields
	loc    *time.Location
}

// NewAnnouncementRepository создаёт репозиторий объявлений.
func NewAnnouncementRepository(client TableClient, table string, fields airtable.AnnouncementFields, loc *time.Location) AnnouncementRepository {
	return &announcementRepository{client: client, table: table, fields: fields, loc: loc}
}

// List возвращает активные объявления. Интервал действия проверяет сервис.
func (r *announcementRepository) List(ctx context.Context) ([]*model.Announcement, error) {
	f := r.fields
	records, err := r.client.List(ctx, r.table, airtable.ListOptions{
		Formula: airtable.Field(f.IsActive),
	})
	if err != nil {
		return nil, fmt.Errorf("список объявлений: %w", err)
	}

	out := make([]*model.Announcement, 0, len(records))
	for i := range records {
		rec := &records[i]
		a := &model.Announcement{
			ID:          rec.ID,
			Title:       rec.String(f.Title),
			Content:     rec.String(f.Content),
			StartDate:   rec.Time(f.StartDate, r.loc),
			IsActive:    rec.Bool(f.IsActive),
			IsImportant: rec.Bool(f.IsImportant),
			CreatedAt:   rec.Time(f.CreatedAt, r.loc),
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = airtable.ParseTime(rec.CreatedTime, time.UTC)
		}
		if end := rec.Time(f.EndDate, r.loc); !end.IsZero() {
			a.EndDate = &end
		}
		out = append(out, a)
	}
	return out, nil
}
