package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/worldsun-app/finportal/internal/airtable"
	"github.com/worldsun-app/finportal/internal/domain/model"
)

// ActivityQuery — выборка журнала активности за интервал [From, To] включительно.
type ActivityQuery struct {
	From time.Time
	To   time.Time
	// Action — фильтр по действию (пусто — все действия)
	Action string
	// OnlyUserID — читать только userId, action и timestamp
	OnlyUserID bool
}

// ActivityRepository — журнал активности (append-only).
type ActivityRepository interface {
	// Append добавляет строку журнала и возвращает ID записи.
	Append(ctx context.Context, entry *model.ActivityEntry) (string, error)
	// Range возвращает записи за интервал, упорядоченные по времени.
	Range(ctx context.Context, q ActivityQuery) ([]*model.ActivityEntry, error)
	// Recent возвращает n последних записей (новые первыми).
	Recent(ctx context.Context, n int) ([]*model.ActivityEntry, error)
}

type activityRepository struct {
	client TableClient
	table  string
	fields airtable.ActivityFields
}

// NewActivityRepository создаёт репозиторий журнала активности.
func NewActivityRepository(client TableClient, table string, fields airtable.ActivityFields) ActivityRepository {
	return &activityRepository{client: client, table: table, fields: fields}
}

// Append записывает одну строку. Время хранится в UTC RFC 3339,
// чтобы строковое сравнение в формулах совпадало с хронологическим.
func (r *activityRepository) Append(ctx context.Context, entry *model.ActivityEntry) (string, error) {
	f := r.fields
	fields := map[string]any{}
	setField(fields, f.EventID, entry.EventID)
	setField(fields, f.UserID, entry.UserID)
	setField(fields, f.UserEmail, entry.UserEmail)
	setField(fields, f.Action, entry.Action)
	setField(fields, f.Details, entry.DetailsString())
	setField(fields, f.Timestamp, entry.Timestamp.UTC().Format(time.RFC3339))
	setField(fields, f.DeviceInfo, entry.DeviceInfo)
	setField(fields, f.BrowserInfo, entry.BrowserInfo)

	rec, err := r.client.Create(ctx, r.table, fields)
	if err != nil {
		return "", fmt.Errorf("запись активности: %w", err)
	}
	return rec.ID, nil
}

// Range выбирает записи формулой по timestamp и повторно отсекает границы
// в памяти: Airtable сравнивает даты с точностью до формата колонки.
func (r *activityRepository) Range(ctx context.Context, q ActivityQuery) ([]*model.ActivityEntry, error) {
	f := r.fields
	formula := airtable.And(
		airtable.Gte(f.Timestamp, q.From.UTC().Format(time.RFC3339)),
		airtable.Lte(f.Timestamp, q.To.UTC().Format(time.RFC3339)),
	)
	if q.Action != "" {
		formula = airtable.And(formula, airtable.Eq(f.Action, q.Action))
	}

	opts := airtable.ListOptions{Formula: formula}
	if q.OnlyUserID {
		opts.Fields = []string{f.UserID, f.Action, f.Timestamp}
	}

	records, err := r.client.List(ctx, r.table, opts)
	if err != nil {
		return nil, fmt.Errorf("выборка активности: %w", err)
	}

	entries := make([]*model.ActivityEntry, 0, len(records))
	for i := range records {
		e := r.toModel(&records[i])
		if e.Timestamp.IsZero() || e.Timestamp.Before(q.From) || e.Timestamp.After(q.To) {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Recent — последние n записей с непустыми timestamp, userId и action.
func (r *activityRepository) Recent(ctx context.Context, n int) ([]*model.ActivityEntry, error) {
	f := r.fields
	records, err := r.client.List(ctx, r.table, airtable.ListOptions{
		Formula:    fmt.Sprintf("AND(%s, %s, %s)", airtable.Field(f.Timestamp), airtable.Field(f.UserID), airtable.Field(f.Action)),
		Sort:       []airtable.Sort{{Field: f.Timestamp, Direction: "desc"}},
		MaxRecords: n,
	})
	if err != nil {
		return nil, fmt.Errorf("последние записи активности: %w", err)
	}

	entries := make([]*model.ActivityEntry, 0, len(records))
	for i := range records {
		entries = append(entries, r.toModel(&records[i]))
	}
	return entries, nil
}

func (r *activityRepository) toModel(rec *airtable.Record) *model.ActivityEntry {
	f := r.fields
	e := &model.ActivityEntry{
		ID:          rec.ID,
		EventID:     rec.String(f.EventID),
		UserID:      rec.String(f.UserID),
		UserEmail:   rec.String(f.UserEmail),
		Action:      rec.String(f.Action),
		Timestamp:   rec.Time(f.Timestamp, time.UTC),
		DeviceInfo:  rec.String(f.DeviceInfo),
		BrowserInfo: rec.String(f.BrowserInfo),
	}
	if details := rec.String(f.Details); details != "" {
		if json.Valid([]byte(details)) {
			e.Details = json.RawMessage(details)
		} else {
			e.Details, _ = json.Marshal(details)
		}
	}
	return e
}
