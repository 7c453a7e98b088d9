package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/repository"
)

func newTestStats(activity *mockActivityRepo, counters *memCounters, users *mockUserRepo) *StatsService {
	s := NewStatsService(activity, counters, users, time.UTC, 7, testLogger())
	s.now = func() time.Time { return fixedNow }
	return s
}

func at(date string, hour int) time.Time {
	return day(date).Add(time.Duration(hour) * time.Hour)
}

// TestStatsService_ParseRange проверяет разбор и проверку интервала.
func TestStatsService_ParseRange(t *testing.T) {
	s := newTestStats(&mockActivityRepo{}, newMemCounters(), &mockUserRepo{})

	start, end, err := s.ParseRange("", "")
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}
	if !start.Equal(day("2024-03-09")) || !end.Equal(day("2024-03-15")) {
		t.Errorf("окно по умолчанию = [%v, %v]", start, end)
	}

	start, end, err = s.ParseRange("2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}
	if daysBetween(start, end) != 30 {
		t.Errorf("дней = %d, ожидалось 30", daysBetween(start, end))
	}

	invalid := []struct{ name, from, to string }{
		{"неверный формат", "2024/01/01", ""},
		{"from позже to", "2024-02-01", "2024-01-01"},
		{"слишком длинный интервал", "2022-01-01", "2024-01-01"},
		{"from позже окна по умолчанию", "2024-04-01", ""},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := s.ParseRange(tt.from, tt.to); !errors.Is(err, ErrInvalidRange) {
				t.Errorf("ожидался ErrInvalidRange, получено %v", err)
			}
		})
	}
}

// TestStatsService_DailyStats_ZeroFill проверяет строку на каждый день интервала.
func TestStatsService_DailyStats_ZeroFill(t *testing.T) {
	activity := &mockActivityRepo{rangeFn: func(context.Context, repository.ActivityQuery) ([]*model.ActivityEntry, error) {
		return []*model.ActivityEntry{
			{UserID: "u1", Action: model.ActionLogin, Timestamp: at("2024-03-10", 8)},
			{UserID: "u1", Action: model.ActionFileDownload, Timestamp: at("2024-03-10", 9)},
			{UserID: "u2", Action: model.ActionFileDownload, Timestamp: at("2024-03-12", 23)},
			{UserID: "u2", Action: model.ActionCategoryView, Timestamp: at("2024-03-12", 10)},
		}, nil
	}}
	s := newTestStats(activity, newMemCounters(), &mockUserRepo{})

	days, err := s.DailyStats(context.Background(), day("2024-03-10"), day("2024-03-13"), DailySourceActivity)
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}
	want := []model.DailyStat{
		{Date: "2024-03-10", Downloads: 1, Visits: 1},
		{Date: "2024-03-11"},
		{Date: "2024-03-12", Downloads: 1},
		{Date: "2024-03-13"},
	}
	if len(days) != len(want) {
		t.Fatalf("дней = %d, ожидалось %d", len(days), len(want))
	}
	for i := range want {
		if days[i] != want[i] {
			t.Errorf("days[%d] = %+v, ожидалось %+v", i, days[i], want[i])
		}
	}

	// Запрос к журналу покрывает последний день целиком
	q := activity.queries[0]
	if !q.From.Equal(day("2024-03-10")) || !q.To.After(at("2024-03-13", 23)) {
		t.Errorf("интервал запроса = [%v, %v]", q.From, q.To)
	}
}

// TestStatsService_DailyStats_Timezone проверяет календарные дни в часовом поясе портала.
func TestStatsService_DailyStats_Timezone(t *testing.T) {
	taipei := time.FixedZone("CST", 8*3600)
	activity := &mockActivityRepo{rangeFn: func(context.Context, repository.ActivityQuery) ([]*model.ActivityEntry, error) {
		// 2024-03-10 20:00 UTC = 2024-03-11 04:00 в Тайбэе
		return []*model.ActivityEntry{{UserID: "u1", Action: model.ActionLogin, Timestamp: at("2024-03-10", 20)}}, nil
	}}
	s := NewStatsService(activity, newMemCounters(), &mockUserRepo{}, taipei, 7, testLogger())

	start := time.Date(2024, 3, 10, 0, 0, 0, 0, taipei)
	days, err := s.DailyStats(context.Background(), start, start.AddDate(0, 0, 1), DailySourceActivity)
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}
	if days[0].Visits != 0 || days[1].Visits != 1 {
		t.Errorf("days = %+v, визит должен попасть в 2024-03-11", days)
	}
}

// TestStatsService_DailyStats_Counters проверяет источник counters.
func TestStatsService_DailyStats_Counters(t *testing.T) {
	counters := newMemCounters()
	counters.daily["2024-03-11"] = &model.DailyStat{Date: "2024-03-11", Downloads: 4, Visits: 2}
	counters.daily["2024-03-20"] = &model.DailyStat{Date: "2024-03-20", Downloads: 9}
	s := newTestStats(&mockActivityRepo{}, counters, &mockUserRepo{})

	days, err := s.DailyStats(context.Background(), day("2024-03-10"), day("2024-03-12"), DailySourceCounters)
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}
	if len(days) != 3 {
		t.Fatalf("дней = %d, ожидалось 3", len(days))
	}
	if days[1].Downloads != 4 || days[1].Visits != 2 || days[0].Downloads != 0 || days[2].Downloads != 0 {
		t.Errorf("days = %+v", days)
	}
}

// TestStatsService_Summary проверяет сборку всех разделов.
func TestStatsService_Summary(t *testing.T) {
	activity := &mockActivityRepo{
		recentFn: func(_ context.Context, n int) ([]*model.ActivityEntry, error) {
			if n != recentActivityLimit {
				t.Errorf("Recent(n=%d), ожидалось %d", n, recentActivityLimit)
			}
			return []*model.ActivityEntry{{UserID: "u9", Action: model.ActionLogin, Timestamp: fixedNow}}, nil
		},
		rangeFn: func(_ context.Context, q repository.ActivityQuery) ([]*model.ActivityEntry, error) {
			switch {
			case q.Action == model.ActionFileDownload:
				return []*model.ActivityEntry{{UserID: "u1"}, {UserID: "u1"}, {UserID: "u2"}}, nil
			case q.OnlyUserID:
				return []*model.ActivityEntry{{UserID: "u1"}, {UserID: "u2"}, {UserID: "u1"}, {UserID: "u3"}}, nil
			default:
				return nil, nil
			}
		},
	}
	counters := newMemCounters()
	counters.files["q1.pdf"] = &model.FileStat{FileName: "q1.pdf", DownloadCount: 3}
	counters.devices[DeviceMobile] = 2
	s := newTestStats(activity, counters, &mockUserRepo{count: 42})

	sum, err := s.Summary(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalUsers != 42 {
		t.Errorf("TotalUsers = %d", sum.TotalUsers)
	}
	if sum.ActiveUsers != 3 {
		t.Errorf("ActiveUsers = %d, ожидалось 3 уникальных", sum.ActiveUsers)
	}
	if sum.MonthlyDownloads != 3 {
		t.Errorf("MonthlyDownloads = %d, ожидалось 3", sum.MonthlyDownloads)
	}
	if len(sum.ActivityLogs) != 1 || len(sum.FileStats) != 1 || len(sum.DeviceStats) != 1 {
		t.Errorf("разделы: logs=%d files=%d devices=%d", len(sum.ActivityLogs), len(sum.FileStats), len(sum.DeviceStats))
	}
	if len(sum.DailyStats) != 7 {
		t.Errorf("DailyStats = %d дней, ожидалось 7", len(sum.DailyStats))
	}
	if sum.UserStats == nil || sum.BrowserStats == nil {
		t.Error("пустые разделы должны быть пустыми срезами")
	}

	// Неделя начинается с воскресенья, месяц — с первого числа
	var sawWeek, sawMonth bool
	for _, q := range activity.queries {
		switch {
		case q.Action == model.ActionFileDownload:
			sawMonth = q.From.Equal(day("2024-03-01"))
		case q.OnlyUserID:
			sawWeek = q.From.Equal(day("2024-03-10"))
		}
	}
	if !sawWeek || !sawMonth {
		t.Errorf("начало недели/месяца: week=%v month=%v", sawWeek, sawMonth)
	}
}

// TestStatsService_SummaryError проверяет, что частичная сводка не возвращается.
func TestStatsService_SummaryError(t *testing.T) {
	storeErr := errors.New("airtable 503")
	s := newTestStats(&mockActivityRepo{}, newMemCounters(), &mockUserRepo{err: storeErr})

	sum, err := s.Summary(context.Background(), time.Time{}, time.Time{})
	if !errors.Is(err, storeErr) {
		t.Fatalf("ожидалась ошибка хранилища, получено %v", err)
	}
	if sum != nil {
		t.Error("при ошибке сводка должна быть nil")
	}
}

func TestStartOfWeek(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2024-03-10", "2024-03-10"}, // воскресенье
		{"2024-03-15", "2024-03-10"}, // пятница
		{"2024-03-16", "2024-03-10"}, // суббота
		{"2024-03-01", "2024-02-25"}, // через границу месяца
	}
	for _, tt := range tests {
		got := startOfWeek(day(tt.in).Add(15*time.Hour), time.UTC)
		if got.Format(time.DateOnly) != tt.want {
			t.Errorf("startOfWeek(%s) = %s, ожидалось %s", tt.in, got.Format(time.DateOnly), tt.want)
		}
	}
}
