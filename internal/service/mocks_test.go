package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/repository"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- FileRepository ---

// mockFileRepo — мок FileRepository для unit-тестов.
type mockFileRepo struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context) ([]*model.FileRecord, error)
}

func (m *mockFileRepo) ListFiles(ctx context.Context) ([]*model.FileRecord, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(ctx)
	}
	return nil, nil
}

func (m *mockFileRepo) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// newTestCatalog создаёт CatalogService поверх фиксированного набора строк.
func newTestCatalog(rows []*model.FileRecord) (*CatalogService, *mockFileRepo) {
	repo := &mockFileRepo{fn: func(context.Context) ([]*model.FileRecord, error) {
		out := make([]*model.FileRecord, 0, len(rows))
		for _, r := range rows {
			c := *r
			out = append(out, &c)
		}
		return out, nil
	}}
	return NewCatalogService(repo, NewCacheService(4, time.Minute), true, testLogger()), repo
}

// --- ActivityRepository ---

// mockActivityRepo — мок ActivityRepository.
type mockActivityRepo struct {
	mu       sync.Mutex
	appended []*model.ActivityEntry
	appendFn func(ctx context.Context, e *model.ActivityEntry) (string, error)
	rangeFn  func(ctx context.Context, q repository.ActivityQuery) ([]*model.ActivityEntry, error)
	recentFn func(ctx context.Context, n int) ([]*model.ActivityEntry, error)
	queries  []repository.ActivityQuery
}

func (m *mockActivityRepo) Append(ctx context.Context, e *model.ActivityEntry) (string, error) {
	m.mu.Lock()
	copied := *e
	m.appended = append(m.appended, &copied)
	m.mu.Unlock()
	if m.appendFn != nil {
		return m.appendFn(ctx, e)
	}
	return "recNEW", nil
}

func (m *mockActivityRepo) Range(ctx context.Context, q repository.ActivityQuery) ([]*model.ActivityEntry, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()
	if m.rangeFn != nil {
		return m.rangeFn(ctx, q)
	}
	return nil, nil
}

func (m *mockActivityRepo) Recent(ctx context.Context, n int) ([]*model.ActivityEntry, error) {
	if m.recentFn != nil {
		return m.recentFn(ctx, n)
	}
	return nil, nil
}

func (m *mockActivityRepo) appendedEntries() []*model.ActivityEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.ActivityEntry(nil), m.appended...)
}

// --- CounterStore ---

// memCounters — потокобезопасная in-memory реализация CounterStore.
type memCounters struct {
	mu        sync.Mutex
	files     map[string]*model.FileStat
	daily     map[string]*model.DailyStat
	users     map[string]*model.UserStat
	devices   map[string]int64
	browsers  map[string]int64
	failOn    string
	failErr   error
	readErr   error
	increment int
}

func newMemCounters() *memCounters {
	return &memCounters{
		files:    map[string]*model.FileStat{},
		daily:    map[string]*model.DailyStat{},
		users:    map[string]*model.UserStat{},
		devices:  map[string]int64{},
		browsers: map[string]int64{},
	}
}

func (m *memCounters) fail(counter string) error {
	if m.failOn == counter {
		return m.failErr
	}
	return nil
}

func (m *memCounters) IncrFileDownload(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("file"); err != nil {
		return err
	}
	m.increment++
	s, ok := m.files[name]
	if !ok {
		s = &model.FileStat{FileName: name}
		m.files[name] = s
	}
	s.DownloadCount++
	s.LastDownloaded = at
	return nil
}

func (m *memCounters) IncrDaily(_ context.Context, date string, metric repository.DailyMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("daily"); err != nil {
		return err
	}
	m.increment++
	d, ok := m.daily[date]
	if !ok {
		d = &model.DailyStat{Date: date}
		m.daily[date] = d
	}
	if metric == repository.MetricVisits {
		d.Visits++
	} else {
		d.Downloads++
	}
	return nil
}

func (m *memCounters) IncrUserLogin(_ context.Context, email string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("user"); err != nil {
		return err
	}
	m.increment++
	u, ok := m.users[email]
	if !ok {
		u = &model.UserStat{Email: email}
		m.users[email] = u
	}
	u.LoginCount++
	u.LastLogin = at
	return nil
}

func (m *memCounters) IncrDevice(_ context.Context, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("device"); err != nil {
		return err
	}
	m.increment++
	m.devices[device]++
	return nil
}

func (m *memCounters) IncrBrowser(_ context.Context, browser string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("browser"); err != nil {
		return err
	}
	m.increment++
	m.browsers[browser]++
	return nil
}

func (m *memCounters) FileStat(_ context.Context, name string) (*model.FileStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *memCounters) TopFiles(_ context.Context, n int) ([]model.FileStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := []model.FileStat{}
	for _, s := range m.files {
		out = append(out, *s)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *memCounters) TopUsers(_ context.Context, n int) ([]model.UserStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.UserStat{}
	for _, u := range m.users {
		out = append(out, *u)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *memCounters) Devices(context.Context) ([]model.CountStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CountStat{}
	for k, v := range m.devices {
		out = append(out, model.CountStat{Key: k, Count: v})
	}
	return out, nil
}

func (m *memCounters) Browsers(context.Context) ([]model.CountStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CountStat{}
	for k, v := range m.browsers {
		out = append(out, model.CountStat{Key: k, Count: v})
	}
	return out, nil
}

func (m *memCounters) DailyRange(_ context.Context, from, to string) ([]model.DailyStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DailyStat{}
	for date, d := range m.daily {
		if date >= from && date <= to {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memCounters) increments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.increment
}

// --- UserRepository / AdminRepository ---

type mockUserRepo struct {
	count int
	err   error
}

func (m *mockUserRepo) CountActive(context.Context) (int, error) { return m.count, m.err }

type mockAdminRepo struct {
	admins map[string]bool
	err    error
	calls  int
}

func (m *mockAdminRepo) IsAdmin(_ context.Context, email string) (bool, error) {
	m.calls++
	return m.admins[email], m.err
}
