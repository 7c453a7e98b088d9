package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/worldsun-app/finportal/internal/airtable"
)

func testCounterTables() CounterTables {
	return CounterTables{
		FileStats: "File_Stats", DailyStats: "Daily_Stats", UserStats: "User_Stats",
		DeviceStats: "Device_Stats", BrowserStats: "Browser_Stats",
	}
}

// --- Airtable ---

// TestAirtableCounters_FirstDownloadCreatesRow проверяет создание счётчика.
func TestAirtableCounters_FirstDownloadCreatesRow(t *testing.T) {
	fake := newFakeTables()
	store := NewAirtableCounterStore(fake, testCounterTables(), airtable.StandardFields())
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	if err := store.IncrFileDownload(context.Background(), " report.pdf ", at); err != nil {
		t.Fatalf("IncrFileDownload: %v", err)
	}

	stat, err := store.FileStat(context.Background(), "report.pdf")
	if err != nil {
		t.Fatalf("FileStat: %v", err)
	}
	if stat.DownloadCount != 1 {
		t.Errorf("DownloadCount = %d, ожидался 1", stat.DownloadCount)
	}
	if !stat.LastDownloaded.Equal(at) {
		t.Errorf("LastDownloaded = %v, ожидалось %v", stat.LastDownloaded, at)
	}
}

// TestAirtableCounters_IncrementExisting проверяет PATCH count+1.
func TestAirtableCounters_IncrementExisting(t *testing.T) {
	fake := newFakeTables()
	fake.seed("File_Stats", map[string]any{"fileName": "F", "downloadCount": 4})
	store := NewAirtableCounterStore(fake, testCounterTables(), airtable.StandardFields())
	day := time.Date(2024, 3, 6, 9, 30, 0, 0, time.UTC)

	if err := store.IncrFileDownload(context.Background(), "F", day); err != nil {
		t.Fatalf("IncrFileDownload: %v", err)
	}

	rows := fake.rows("File_Stats")
	if len(rows) != 1 {
		t.Fatalf("строк = %d, ожидалась 1", len(rows))
	}
	if got := rows[0].Int("downloadCount"); got != 5 {
		t.Errorf("downloadCount = %d, ожидался 5", got)
	}
	if got := rows[0].String("lastDownloaded"); got != "2024-03-06T09:30:00Z" {
		t.Errorf("lastDownloaded = %q", got)
	}
}

// TestAirtableCounters_FileStatNotFound проверяет ErrNotFound.
func TestAirtableCounters_FileStatNotFound(t *testing.T) {
	store := NewAirtableCounterStore(newFakeTables(), testCounterTables(), airtable.StandardFields())
	if _, err := store.FileStat(context.Background(), "нет"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}

// barrierTables задерживает First до прихода n вызывающих.
type barrierTables struct {
	*fakeTables
	arrived chan struct{}
	release chan struct{}
}

func (b *barrierTables) First(ctx context.Context, table string, opts airtable.ListOptions) (*airtable.Record, error) {
	rec, err := b.fakeTables.First(ctx, table, opts)
	b.arrived <- struct{}{}
	<-b.release
	return rec, err
}

// TestAirtableCounters_LostUpdate фиксирует известное поведение:
// два параллельных инкремента, прочитавшие одно значение, дают +1.
func TestAirtableCounters_LostUpdate(t *testing.T) {
	fake := newFakeTables()
	fake.seed("File_Stats", map[string]any{"fileName": "F", "downloadCount": 5})
	b := &barrierTables{fakeTables: fake, arrived: make(chan struct{}, 2), release: make(chan struct{})}
	store := NewAirtableCounterStore(b, testCounterTables(), airtable.StandardFields())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.IncrFileDownload(context.Background(), "F", time.Now()); err != nil {
				t.Errorf("IncrFileDownload: %v", err)
			}
		}()
	}
	<-b.arrived
	<-b.arrived
	close(b.release)
	wg.Wait()

	rows := fake.rows("File_Stats")
	if got := rows[0].Int("downloadCount"); got != 6 {
		t.Errorf("downloadCount = %d, ожидался 6 (потерянное обновление)", got)
	}
}

// TestAirtableCounters_DailyAndUsers проверяет дневные счётчики и входы.
func TestAirtableCounters_DailyAndUsers(t *testing.T) {
	fake := newFakeTables()
	store := NewAirtableCounterStore(fake, testCounterTables(), airtable.StandardFields())
	ctx := context.Background()

	for _, m := range []DailyMetric{MetricDownloads, MetricDownloads, MetricVisits} {
		if err := store.IncrDaily(ctx, "2024-03-05", m); err != nil {
			t.Fatalf("IncrDaily: %v", err)
		}
	}
	if err := store.IncrUserLogin(ctx, "Alice@Example.com", time.Now()); err != nil {
		t.Fatalf("IncrUserLogin: %v", err)
	}

	days, err := store.DailyRange(ctx, "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatalf("DailyRange: %v", err)
	}
	if len(days) != 1 || days[0].Downloads != 2 || days[0].Visits != 1 {
		t.Errorf("days = %+v, ожидалось downloads=2 visits=1", days)
	}

	users, err := store.TopUsers(ctx, 10)
	if err != nil {
		t.Fatalf("TopUsers: %v", err)
	}
	if len(users) != 1 || users[0].Email != "alice@example.com" || users[0].LoginCount != 1 {
		t.Errorf("users = %+v", users)
	}
}

// TestAirtableCounters_TopFilesOrder проверяет сортировку и лимит.
func TestAirtableCounters_TopFilesOrder(t *testing.T) {
	fake := newFakeTables()
	fake.seed("File_Stats", map[string]any{"fileName": "a", "downloadCount": 1})
	fake.seed("File_Stats", map[string]any{"fileName": "b", "downloadCount": 9})
	fake.seed("File_Stats", map[string]any{"fileName": "c", "downloadCount": 4})
	store := NewAirtableCounterStore(fake, testCounterTables(), airtable.StandardFields())

	top, err := store.TopFiles(context.Background(), 2)
	if err != nil {
		t.Fatalf("TopFiles: %v", err)
	}
	if len(top) != 2 || top[0].FileName != "b" || top[1].FileName != "c" {
		t.Errorf("top = %+v, ожидалось [b c]", top)
	}
	if got := fake.lastOpts["File_Stats"].MaxRecords; got != 2 {
		t.Errorf("MaxRecords = %d, ожидался 2", got)
	}
}

// TestAirtableCounters_LegacySchema проверяет работу с колонками "Title Case".
func TestAirtableCounters_LegacySchema(t *testing.T) {
	fake := newFakeTables()
	store := NewAirtableCounterStore(fake, testCounterTables(), airtable.LegacyFields())

	if err := store.IncrDevice(context.Background(), "mobile"); err != nil {
		t.Fatalf("IncrDevice: %v", err)
	}
	rows := fake.rows("Device_Stats")
	if len(rows) != 1 {
		t.Fatalf("строк = %d, ожидалась 1", len(rows))
	}
	if rows[0].String("Device Type") != "mobile" || rows[0].Int("Count") != 1 {
		t.Errorf("строки = %s", rows[0].Fields)
	}
}

// --- Redis ---

func newTestRedisStore(t *testing.T) *RedisCounterStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounterStore(client, "test")
}

// TestRedisCounters_ConcurrentIncrements проверяет отсутствие потерянных обновлений.
func TestRedisCounters_ConcurrentIncrements(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.IncrFileDownload(ctx, "F", time.Now()); err != nil {
				t.Errorf("IncrFileDownload: %v", err)
			}
		}()
	}
	wg.Wait()

	stat, err := store.FileStat(ctx, "F")
	if err != nil {
		t.Fatalf("FileStat: %v", err)
	}
	if stat.DownloadCount != 2 {
		t.Errorf("DownloadCount = %d, ожидался 2", stat.DownloadCount)
	}
}

// TestRedisCounters_FileStat проверяет отметку времени и ErrNotFound.
func TestRedisCounters_FileStat(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

	if _, err := store.FileStat(ctx, "F"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ошибка = %v, ожидалась ErrNotFound", err)
	}
	if err := store.IncrFileDownload(ctx, "F", at); err != nil {
		t.Fatalf("IncrFileDownload: %v", err)
	}
	stat, err := store.FileStat(ctx, "F")
	if err != nil {
		t.Fatalf("FileStat: %v", err)
	}
	if stat.DownloadCount != 1 || !stat.LastDownloaded.Equal(at) {
		t.Errorf("stat = %+v", stat)
	}
}

// TestRedisCounters_TopAndCounts проверяет сортировку по убыванию.
func TestRedisCounters_TopAndCounts(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for name, n := range map[string]int{"a": 1, "b": 3, "c": 2} {
		for i := 0; i < n; i++ {
			if err := store.IncrFileDownload(ctx, name, time.Now()); err != nil {
				t.Fatalf("IncrFileDownload: %v", err)
			}
		}
	}
	for _, d := range []string{"desktop", "mobile", "desktop"} {
		if err := store.IncrDevice(ctx, d); err != nil {
			t.Fatalf("IncrDevice: %v", err)
		}
	}
	if err := store.IncrBrowser(ctx, "Chrome"); err != nil {
		t.Fatalf("IncrBrowser: %v", err)
	}

	top, err := store.TopFiles(ctx, 2)
	if err != nil {
		t.Fatalf("TopFiles: %v", err)
	}
	if len(top) != 2 || top[0].FileName != "b" || top[1].FileName != "c" {
		t.Errorf("top = %+v, ожидалось [b c]", top)
	}

	devices, err := store.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 2 || devices[0].Key != "desktop" || devices[0].Count != 2 {
		t.Errorf("devices = %+v", devices)
	}

	browsers, err := store.Browsers(ctx)
	if err != nil {
		t.Fatalf("Browsers: %v", err)
	}
	if len(browsers) != 1 || browsers[0].Key != "Chrome" {
		t.Errorf("browsers = %+v", browsers)
	}
}

// TestRedisCounters_DailyRange проверяет границы интервала.
func TestRedisCounters_DailyRange(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_ = store.IncrDaily(ctx, "2024-03-01", MetricDownloads)
	_ = store.IncrDaily(ctx, "2024-03-02", MetricVisits)
	_ = store.IncrDaily(ctx, "2024-03-02", MetricDownloads)
	_ = store.IncrDaily(ctx, "2024-03-09", MetricVisits)

	days, err := store.DailyRange(ctx, "2024-03-02", "2024-03-08")
	if err != nil {
		t.Fatalf("DailyRange: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("days = %+v, ожидался 1 день", days)
	}
	if days[0].Date != "2024-03-02" || days[0].Downloads != 1 || days[0].Visits != 1 {
		t.Errorf("day = %+v", days[0])
	}
}

// TestRedisCounters_UserLogins проверяет нормализацию email.
func TestRedisCounters_UserLogins(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_ = store.IncrUserLogin(ctx, "Bob@Example.com", time.Now())
	_ = store.IncrUserLogin(ctx, "bob@example.com ", time.Now())

	users, err := store.TopUsers(ctx, 10)
	if err != nil {
		t.Fatalf("TopUsers: %v", err)
	}
	if len(users) != 1 || users[0].LoginCount != 2 {
		t.Errorf("users = %+v", users)
	}
}

// TestRedisReadinessChecker проверяет статус готовности.
func TestRedisReadinessChecker(t *testing.T) {
	store := newTestRedisStore(t)
	status, _ := NewRedisReadinessChecker(store, time.Second).CheckReady()
	if status != "ok" {
		t.Errorf("status = %q, ожидался ok", status)
	}
}
