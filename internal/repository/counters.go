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

// DailyMetric — счётчик дневной статистики.
type DailyMetric string

const (
	MetricDownloads DailyMetric = "downloads"
	MetricVisits    DailyMetric = "visits"
)

// CounterStore — хранилище производных счётчиков (FileStat, DailyStat,
// UserStat, DeviceStat, BrowserStat).
type CounterStore interface {
	IncrFileDownload(ctx context.Context, fileName string, at time.Time) error
	IncrDaily(ctx context.Context, date string, metric DailyMetric) error
	IncrUserLogin(ctx context.Context, email string, at time.Time) error
	IncrDevice(ctx context.Context, device string) error
	IncrBrowser(ctx context.Context, browser string) error

	// FileStat возвращает ErrNotFound, если файл ещё не скачивали.
	FileStat(ctx context.Context, fileName string) (*model.FileStat, error)
	TopFiles(ctx context.Context, n int) ([]model.FileStat, error)
	TopUsers(ctx context.Context, n int) ([]model.UserStat, error)
	Devices(ctx context.Context) ([]model.CountStat, error)
	Browsers(ctx context.Context) ([]model.CountStat, error)
	// DailyRange — строки за даты [from, to] (YYYY-MM-DD) без заполнения пропусков.
	DailyRange(ctx context.Context, from, to string) ([]model.DailyStat, error)
}

// CounterTables — имена таблиц производных счётчиков.
type CounterTables struct {
	FileStats, DailyStats, UserStats, DeviceStats, BrowserStats string
}

// AirtableCounterStore — счётчики в таблицах Airtable.
//
// Инкремент выполняется как read-modify-write: поиск строки формулой,
// затем PATCH count+1 или POST count=1. Операция не атомарна: два
// параллельных инкремента одного ключа могут записать одно и то же
// значение, и одно обновление теряется.
type AirtableCounterStore struct {
	client TableClient
	tables CounterTables
	fields airtable.FieldMap
}

// NewAirtableCounterStore создаёт хранилище счётчиков в Airtable.
func NewAirtableCounterStore(client TableClient, tables CounterTables, fields airtable.FieldMap) *AirtableCounterStore {
	return &AirtableCounterStore{client: client, tables: tables, fields: fields}
}

// increment увеличивает счётчик строки key на 1; extra дописывается
// в ту же запись (отметки времени).
func (s *AirtableCounterStore) increment(ctx context.Context, table, keyField, key, countField string, extra map[string]any) error {
	rec, err := s.client.First(ctx, table, airtable.ListOptions{
		Formula: airtable.Eq(keyField, key),
	})
	switch {
	case errors.Is(err, airtable.ErrNoRecords):
		fields := map[string]any{keyField: key, countField: 1}
		for k, v := range extra {
			setField(fields, k, v)
		}
		if _, err := s.client.Create(ctx, table, fields); err != nil {
			return fmt.Errorf("создание счётчика %s/%s: %w", table, key, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("чтение счётчика %s/%s: %w", table, key, err)
	}

	fields := map[string]any{countField: rec.Int(countField) + 1}
	for k, v := range extra {
		setField(fields, k, v)
	}
	if _, err := s.client.Update(ctx, table, rec.ID, fields); err != nil {
		return fmt.Errorf("обновление счётчика %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *AirtableCounterStore) IncrFileDownload(ctx context.Context, fileName string, at time.Time) error {
	f := s.fields.FileStat
	return s.increment(ctx, s.tables.FileStats, f.FileName, strings.TrimSpace(fileName), f.DownloadCount,
		map[string]any{f.LastDownloaded: at.UTC().Format(time.RFC3339)})
}

func (s *AirtableCounterStore) IncrDaily(ctx context.Context, date string, metric DailyMetric) error {
	f := s.fields.DailyStat
	column := f.Downloads
	if metric == MetricVisits {
		column = f.Visits
	}
	return s.increment(ctx, s.tables.DailyStats, f.Date, date, column, nil)
}

func (s *AirtableCounterStore) IncrUserLogin(ctx context.Context, email string, at time.Time) error {
	f := s.fields.UserStat
	return s.increment(ctx, s.tables.UserStats, f.Email, strings.ToLower(strings.TrimSpace(email)), f.LoginCount,
		map[string]any{f.LastLogin: at.UTC().Format(time.RFC3339)})
}

func (s *AirtableCounterStore) IncrDevice(ctx context.Context, device string) error {
	f := s.fields.DeviceStat
	return s.increment(ctx, s.tables.DeviceStats, f.Key, device, f.Count, nil)
}

func (s *AirtableCounterStore) IncrBrowser(ctx context.Context, browser string) error {
	f := s.fields.BrowserStat
	return s.increment(ctx, s.tables.BrowserStats, f.Key, browser, f.Count, nil)
}

func (s *AirtableCounterStore) FileStat(ctx context.Context, fileName string) (*model.FileStat, error) {
	f := s.fields.FileStat
	rec, err := s.client.First(ctx, s.tables.FileStats, airtable.ListOptions{
		Formula: airtable.Eq(f.FileName, strings.TrimSpace(fileName)),
	})
	if errors.Is(err, airtable.ErrNoRecords) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("статистика файла: %w", err)
	}
	stat := s.toFileStat(rec)
	return &stat, nil
}

func (s *AirtableCounterStore) TopFiles(ctx context.Context, n int) ([]model.FileStat, error) {
	f := s.fields.FileStat
	records, err := s.client.List(ctx, s.tables.FileStats, airtable.ListOptions{
		Sort:       []airtable.Sort{{Field: f.DownloadCount, Direction: "desc"}},
		MaxRecords: n,
	})
	if err != nil {
		return nil, fmt.Errorf("топ файлов: %w", err)
	}
	out := make([]model.FileStat, 0, len(records))
	for i := range records {
		out = append(out, s.toFileStat(&records[i]))
	}
	return out, nil
}

func (s *AirtableCounterStore) toFileStat(rec *airtable.Record) model.FileStat {
	f := s.fields.FileStat
	return model.FileStat{
		FileName:       rec.String(f.FileName),
		DownloadCount:  rec.Int(f.DownloadCount),
		LastDownloaded: rec.Time(f.LastDownloaded, time.UTC),
	}
}

func (s *AirtableCounterStore) TopUsers(ctx context.Context, n int) ([]model.UserStat, error) {
	f := s.fields.UserStat
	records, err := s.client.List(ctx, s.tables.UserStats, airtable.ListOptions{
		Sort:       []airtable.Sort{{Field: f.LoginCount, Direction: "desc"}},
		MaxRecords: n,
	})
	if err != nil {
		return nil, fmt.Errorf("топ пользователей: %w", err)
	}
	out := make([]model.UserStat, 0, len(records))
	for i := range records {
		rec := &records[i]
		out = append(out, model.UserStat{
			Email:      rec.String(f.Email),
			LoginCount: rec.Int(f.LoginCount),
			LastLogin:  rec.Time(f.LastLogin, time.UTC),
		})
	}
	return out, nil
}

func (s *AirtableCounterStore) Devices(ctx context.Context) ([]model.CountStat, error) {
	return s.listCounts(ctx, s.tables.DeviceStats, s.fields.DeviceStat)
}

func (s *AirtableCounterStore) Browsers(ctx context.Context) ([]model.CountStat, error) {
	return s.listCounts(ctx, s.tables.BrowserStats, s.fields.BrowserStat)
}

func (s *AirtableCounterStore) listCounts(ctx context.Context, table string, f airtable.CountFields) ([]model.CountStat, error) {
	records, err := s.client.List(ctx, table, airtable.ListOptions{
		Sort: []airtable.Sort{{Field: f.Count, Direction: "desc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("счётчики %s: %w", table, err)
	}
	out := make([]model.CountStat, 0, len(records))
	for i := range records {
		out = append(out, model.CountStat{Key: records[i].String(f.Key), Count: records[i].Int(f.Count)})
	}
	sortCounts(out)
	return out, nil
}

func (s *AirtableCounterStore) DailyRange(ctx context.Context, from, to string) ([]model.DailyStat, error) {
	f := s.fields.DailyStat
	records, err := s.client.List(ctx, s.tables.DailyStats, airtable.ListOptions{
		Formula: airtable.Between(f.Date, from, to),
		Sort:    []airtable.Sort{{Field: f.Date, Direction: "asc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("дневная статистика: %w", err)
	}
	out := make([]model.DailyStat, 0, len(records))
	for i := range records {
		rec := &records[i]
		date := rec.String(f.Date)
		if len(date) > len(time.DateOnly) {
			date = date[:len(time.DateOnly)]
		}
		if date < from || date > to {
			continue
		}
		out = append(out, model.DailyStat{
			Date:      date,
			Downloads: rec.Int(f.Downloads),
			Visits:    rec.Int(f.Visits),
		})
	}
	return out, nil
}
