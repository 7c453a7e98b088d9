package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/repository"
)

// AnnouncementService — действующие объявления портала.
type AnnouncementService struct {
	repo repository.AnnouncementRepository
	now  func() time.Time
}

// NewAnnouncementService создаёт сервис объявлений.
func NewAnnouncementService(repo repository.AnnouncementRepository) *AnnouncementService {
	return &AnnouncementService{repo: repo, now: time.Now}
}

// Current возвращает объявления, действующие сейчас:
// сначала важные, внутри группы — новые первыми.
func (s *AnnouncementService) Current(ctx context.Context) ([]*model.Announcement, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("объявления: %w", err)
	}
	now := s.now()
	out := make([]*model.Announcement, 0, len(all))
	for _, a := range all {
		if a.IsCurrent(now) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsImportant != out[j].IsImportant {
			return out[i].IsImportant
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
