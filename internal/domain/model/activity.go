package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Известные действия журнала активности. Поле action — свободный текст,
// неизвестные значения тоже записываются.
const (
	ActionLogin        = "login"
	ActionFileDownload = "file_download"
	ActionFileOpen     = "file_open"
	ActionCategoryView = "category_view"
	ActionPageLeave    = "page_leave"
)

// ActivityEntry — строка журнала активности (append-only).
type ActivityEntry struct {
	// ID — идентификатор записи Airtable (пусто до записи)
	ID string `json:"id,omitempty"`
	// EventID — UUID события для поиска дублей после повторов
	EventID   string `json:"eventId,omitempty"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	Action    string `json:"action"`
	// Details — произвольный JSON-объект или строка
	Details     json.RawMessage `json:"details,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	DeviceInfo  string          `json:"deviceInfo,omitempty"`
	BrowserInfo string          `json:"browserInfo,omitempty"`
}

// IsFileAccess сообщает, относится ли действие к файлу.
func (e *ActivityEntry) IsFileAccess() bool {
	return e.Action == ActionFileDownload || e.Action == ActionFileOpen
}

// FileName извлекает имя файла из details: {"fileName": ...} или {"name": ...}.
// Для details-строки возвращается сама строка.
func (e *ActivityEntry) FileName() string {
	if len(e.Details) == 0 {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(e.Details, &obj); err == nil {
		for _, key := range []string{"fileName", "filename", "name", "file"} {
			if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Details, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// DetailsString возвращает details в виде строки для колонки Airtable.
func (e *ActivityEntry) DetailsString() string {
	if len(e.Details) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Details, &s); err == nil {
		return s
	}
	return string(e.Details)
}
