package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/worldsun-app/finportal/internal/airtable"
)

// fakeTables — in-memory реализация TableClient.
// Понимает формулы вида {field} = 'value'; остальные формулы
// сохраняются в lastOpts и не фильтруют строки.
type fakeTables struct {
	mu       sync.Mutex
	tables   map[string][]airtable.Record
	seq      int
	lastOpts map[string]airtable.ListOptions
	err      error
}

var eqFormula = regexp.MustCompile(`^\{(.+)\} = '(.*)'$`)

func newFakeTables() *fakeTables {
	return &fakeTables{
		tables:   map[string][]airtable.Record{},
		lastOpts: map[string]airtable.ListOptions{},
	}
}

// seed добавляет строку в таблицу.
func (f *fakeTables) seed(table string, fields map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(table, fields).ID
}

func (f *fakeTables) insert(table string, fields map[string]any) airtable.Record {
	f.seq++
	raw, _ := json.Marshal(fields)
	rec := airtable.Record{ID: fmt.Sprintf("rec%03d", f.seq), CreatedTime: "2024-01-01T00:00:00.000Z", Fields: raw}
	f.tables[table] = append(f.tables[table], rec)
	return rec
}

func (f *fakeTables) rows(table string) []airtable.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]airtable.Record(nil), f.tables[table]...)
}

func (f *fakeTables) List(_ context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts[table] = opts
	if f.err != nil {
		return nil, f.err
	}

	var out []airtable.Record
	m := eqFormula.FindStringSubmatch(opts.Formula)
	for _, rec := range f.tables[table] {
		if m != nil && rec.String(m[1]) != m[2] {
			continue
		}
		out = append(out, rec)
	}
	if len(opts.Sort) > 0 {
		field, desc := opts.Sort[0].Field, opts.Sort[0].Direction == "desc"
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return out[i].Int(field) > out[j].Int(field)
			}
			return out[i].Int(field) < out[j].Int(field)
		})
	}
	if opts.MaxRecords > 0 && len(out) > opts.MaxRecords {
		out = out[:opts.MaxRecords]
	}
	return out, nil
}

func (f *fakeTables) First(ctx context.Context, table string, opts airtable.ListOptions) (*airtable.Record, error) {
	opts.MaxRecords = 1
	records, err := f.List(ctx, table, opts)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, airtable.ErrNoRecords
	}
	return &records[0], nil
}

func (f *fakeTables) Create(_ context.Context, table string, fields map[string]any) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec := f.insert(table, fields)
	return &rec, nil
}

func (f *fakeTables) Update(_ context.Context, table, recordID string, fields map[string]any) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for i, rec := range f.tables[table] {
		if rec.ID != recordID {
			continue
		}
		merged := map[string]any{}
		_ = json.Unmarshal(rec.Fields, &merged)
		for k, v := range fields {
			merged[k] = v
		}
		f.tables[table][i].Fields, _ = json.Marshal(merged)
		out := f.tables[table][i]
		return &out, nil
	}
	return nil, &airtable.APIError{StatusCode: 404, Type: "NOT_FOUND"}
}
