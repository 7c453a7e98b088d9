// Пакет model — доменные модели finportal.
// FileRecord — строка таблицы файлов Airtable (редактируется контент-редакторами,
// приложение только читает).
package model

import "time"

// Значения по умолчанию для группировки каталога.
const (
	// DefaultCategory — категория для файлов без категории.
	DefaultCategory = "未分類"
	// DefaultSector — сектор для файлов без сектора (legacy-режим каталога).
	DefaultSector = "其他"
)

// FileRecord — файл каталога.
type FileRecord struct {
	// ID — идентификатор записи Airtable (recXXXX)
	ID string `json:"id"`
	// Name — имя файла, ключ статистики и URL скачивания
	Name string `json:"name"`
	// Title — отображаемый заголовок (по умолчанию Name)
	Title    string `json:"title"`
	Sector   string `json:"sector"`
	Category string `json:"category"`
	// Date — дата публикации; нулевое значение — дата неизвестна
	Date time.Time `json:"date"`
	// DownloadURL — URL первого вложения. Подписанные URL Airtable истекают.
	DownloadURL string `json:"downloadUrl"`
	// Filename, ContentType, Size — метаданные первого вложения (могут отсутствовать)
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// HasDate сообщает, известна ли дата публикации.
func (f *FileRecord) HasDate() bool {
	return !f.Date.IsZero()
}

// SectorGroup — файлы одного сектора, сгруппированные по категориям.
type SectorGroup struct {
	Sector     string                   `json:"sector"`
	Categories map[string][]*FileRecord `json:"categories"`
}

// Catalog — каталог sector → SectorGroup.
type Catalog map[string]*SectorGroup

// Files возвращает все файлы каталога одним срезом (порядок не определён).
func (c Catalog) Files() []*FileRecord {
	var out []*FileRecord
	for _, g := range c {
		for _, files := range g.Categories {
			out = append(out, files...)
		}
	}
	return out
}

// Count возвращает общее количество файлов в каталоге.
func (c Catalog) Count() int {
	n := 0
	for _, g := range c {
		for _, files := range g.Categories {
			n += len(files)
		}
	}
	return n
}
