// stats.go — административная статистика.
// Разделы сводки читаются параллельно; дневная статистика считается
// при чтении из журнала активности.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/repository"
)

// ErrInvalidRange — некорректный интервал дат.
var ErrInvalidRange = errors.New("некорректный интервал дат")

// Размеры разделов сводки.
const (
	recentActivityLimit = 5
	topFilesLimit       = 5
	topUsersLimit       = 10
	// maxDailyRange — ограничение интервала дневной статистики
	maxDailyRange = 366
)

// Источники дневной статистики.
const (
	DailySourceActivity = "activity"
	DailySourceCounters = "counters"
)

// StatsService — сборка административной статистики.
type StatsService struct {
	activity repository.ActivityRepository
	counters repository.CounterStore
	users    repository.UserRepository
	loc      *time.Location
	days     int
	logger   *slog.Logger
	now      func() time.Time
}

// NewStatsService создаёт сервис статистики. days — окно дневной
// статистики по умолчанию, loc — часовой пояс календарных дней.
func NewStatsService(
	activity repository.ActivityRepository,
	counters repository.CounterStore,
	users repository.UserRepository,
	loc *time.Location,
	days int,
	logger *slog.Logger,
) *StatsService {
	if loc == nil {
		loc = time.UTC
	}
	if days < 1 {
		days = 7
	}
	return &StatsService{
		activity: activity,
		counters: counters,
		users:    users,
		loc:      loc,
		days:     days,
		logger:   logger.With(slog.String("component", "stats_service")),
		now:      time.Now,
	}
}

// DefaultWindow возвращает окно дневной статистики: последние days дней,
// включая сегодня.
func (s *StatsService) DefaultWindow() (time.Time, time.Time) {
	today := startOfDay(s.now(), s.loc)
	return today.AddDate(0, 0, -(s.days - 1)), today
}

// ParseRange разбирает даты YYYY-MM-DD. Пустые значения заменяются окном
// по умолчанию. from > to, неразборчивая дата или слишком длинный интервал
// дают ErrInvalidRange.
func (s *StatsService) ParseRange(from, to string) (time.Time, time.Time, error) {
	start, end := s.DefaultWindow()
	var err error
	if from != "" {
		if start, err = time.ParseInLocation(time.DateOnly, from, s.loc); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: from=%q", ErrInvalidRange, from)
		}
	}
	if to != "" {
		if end, err = time.ParseInLocation(time.DateOnly, to, s.loc); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: to=%q", ErrInvalidRange, to)
		}
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from позже to", ErrInvalidRange)
	}
	if daysBetween(start, end) >= maxDailyRange {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: интервал больше %d дней", ErrInvalidRange, maxDailyRange)
	}
	return start, end, nil
}

// DailyStats возвращает по одной строке на каждый календарный день
// [start, end] включительно. Дни без активности заполняются нулями.
func (s *StatsService) DailyStats(ctx context.Context, start, end time.Time, source string) ([]model.DailyStat, error) {
	start, end = startOfDay(start, s.loc), startOfDay(end, s.loc)
	if start.After(end) {
		return nil, ErrInvalidRange
	}

	byDay := map[string]*model.DailyStat{}
	days := make([]model.DailyStat, 0, daysBetween(start, end)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, model.DailyStat{Date: d.Format(time.DateOnly)})
	}
	for i := range days {
		byDay[days[i].Date] = &days[i]
	}

	switch source {
	case DailySourceCounters:
		rows, err := s.counters.DailyRange(ctx, start.Format(time.DateOnly), end.Format(time.DateOnly))
		if err != nil {
			return nil, fmt.Errorf("дневные счётчики: %w", err)
		}
		for _, row := range rows {
			if d, ok := byDay[row.Date]; ok {
				d.Downloads += row.Downloads
				d.Visits += row.Visits
			}
		}
	default:
		entries, err := s.activity.Range(ctx, repository.ActivityQuery{
			From: start,
			To:   end.AddDate(0, 0, 1).Add(-time.Nanosecond),
		})
		if err != nil {
			return nil, fmt.Errorf("журнал активности: %w", err)
		}
		for _, e := range entries {
			d, ok := byDay[e.Timestamp.In(s.loc).Format(time.DateOnly)]
			if !ok {
				continue
			}
			switch e.Action {
			case model.ActionFileDownload:
				d.Downloads++
			case model.ActionLogin:
				d.Visits++
			}
		}
	}
	return days, nil
}

// Summary собирает сводку. start/end — окно дневной статистики
// (нулевые значения — окно по умолчанию). Любая ошибка чтения
// возвращается целиком: частичная сводка не отдаётся.
func (s *StatsService) Summary(ctx context.Context, start, end time.Time) (*model.StatsSummary, error) {
	if start.IsZero() || end.IsZero() {
		start, end = s.DefaultWindow()
	}
	now := s.now().In(s.loc)
	weekStart := startOfWeek(now, s.loc)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)

	out := &model.StatsSummary{GeneratedAt: now.UTC()}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	run := func(section string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("раздел %s: %w", section, err)
					cancel()
				}
				mu.Unlock()
			}
		}()
	}

	run("activityLogs", func() (err error) {
		out.ActivityLogs, err = s.activity.Recent(ctx, recentActivityLimit)
		return err
	})
	run("fileStats", func() (err error) {
		out.FileStats, err = s.counters.TopFiles(ctx, topFilesLimit)
		return err
	})
	run("dailyStats", func() (err error) {
		out.DailyStats, err = s.DailyStats(ctx, start, end, DailySourceActivity)
		return err
	})
	run("userStats", func() (err error) {
		out.UserStats, err = s.counters.TopUsers(ctx, topUsersLimit)
		return err
	})
	run("deviceStats", func() (err error) {
		out.DeviceStats, err = s.counters.Devices(ctx)
		return err
	})
	run("browserStats", func() (err error) {
		out.BrowserStats, err = s.counters.Browsers(ctx)
		return err
	})
	run("totalUsers", func() (err error) {
		out.TotalUsers, err = s.users.CountActive(ctx)
		return err
	})
	run("activeUsers", func() error {
		entries, err := s.activity.Range(ctx, repository.ActivityQuery{From: weekStart, To: now, OnlyUserID: true})
		if err != nil {
			return err
		}
		seen := map[string]struct{}{}
		for _, e := range entries {
			seen[e.UserID] = struct{}{}
		}
		out.ActiveUsers = len(seen)
		return nil
	})
	run("monthlyDownloads", func() error {
		entries, err := s.activity.Range(ctx, repository.ActivityQuery{
			From: monthStart, To: now, Action: model.ActionFileDownload, OnlyUserID: true,
		})
		if err != nil {
			return err
		}
		out.MonthlyDownloads = len(entries)
		return nil
	})

	wg.Wait()
	if firstErr != nil {
		s.logger.Error("Ошибка сборки статистики", slog.String("error", firstErr.Error()))
		return nil, firstErr
	}
	nonNil(out)
	return out, nil
}

// nonNil заменяет nil-срезы пустыми, чтобы JSON содержал [] вместо null.
func nonNil(s *model.StatsSummary) {
	if s.ActivityLogs == nil {
		s.ActivityLogs = []*model.ActivityEntry{}
	}
	if s.FileStats == nil {
		s.FileStats = []model.FileStat{}
	}
	if s.UserStats == nil {
		s.UserStats = []model.UserStat{}
	}
	if s.DeviceStats == nil {
		s.DeviceStats = []model.CountStat{}
	}
	if s.BrowserStats == nil {
		s.BrowserStats = []model.CountStat{}
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// startOfWeek — начало недели (воскресенье).
func startOfWeek(t time.Time, loc *time.Location) time.Time {
	d := startOfDay(t, loc)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours()/24 + 0.5)
}
