package airtable

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Record — запись таблицы Airtable. Fields хранится как raw JSON:
// набор колонок зависит от схемы базы и разбирается через FieldMap.
type Record struct {
	ID          string          `json:"id"`
	CreatedTime string          `json:"createdTime,omitempty"`
	Fields      json.RawMessage `json:"fields"`
}

// pathEscaper экранирует спецсимволы gjson в именах колонок
// ("Download Count" допустим, "File.Name" — нет).
var pathEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `#`, `\#`, `@`, `\@`)

// Get возвращает значение колонки. Пустое имя колонки — пустой результат.
func (r Record) Get(field string, subpath ...string) gjson.Result {
	if field == "" || len(r.Fields) == 0 {
		return gjson.Result{}
	}
	path := pathEscaper.Replace(field)
	for _, p := range subpath {
		path += "." + p
	}
	return gjson.GetBytes(r.Fields, path)
}

// String возвращает строковое значение колонки без пробелов по краям.
// Для lookup/multi-select колонок берётся первый элемент массива.
func (r Record) String(field string) string {
	v := r.Get(field)
	if v.IsArray() {
		arr := v.Array()
		if len(arr) == 0 {
			return ""
		}
		v = arr[0]
	}
	return strings.TrimSpace(v.String())
}

// Int возвращает целое значение колонки (0, если колонка пуста).
func (r Record) Int(field string) int64 {
	return r.Get(field).Int()
}

// Bool возвращает значение checkbox-колонки.
func (r Record) Bool(field string) bool {
	return r.Get(field).Bool()
}

// Time разбирает дату или дату-время колонки. Поддерживаются RFC 3339
// и YYYY-MM-DD (в часовом поясе loc). Ноль — колонка пуста или не разобрана.
func (r Record) Time(field string, loc *time.Location) time.Time {
	return ParseTime(r.String(field), loc)
}

// ParseTime разбирает значение даты Airtable.
func ParseTime(s string, loc *time.Location) time.Time {
	if s == "" {
		return time.Time{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t
	}
	if t, err := time.ParseInLocation("2006/01/02", s, loc); err == nil {
		return t
	}
	return time.Time{}
}
