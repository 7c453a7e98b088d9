package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/worldsun-app/finportal/internal/airtable"
	"github.com/worldsun-app/finportal/internal/domain/model"
)

// FileRepository — чтение таблицы файлов.
type FileRepository interface {
	// ListFiles возвращает все строки таблицы, включая неполные:
	// фильтрация и значения по умолчанию — задача каталога.
	ListFiles(ctx context.Context) ([]*model.FileRecord, error)
}

type fileRepository struct {
	client TableClient
	table  string
	view   string
	fields airtable.FileFields
	loc    *time.Location
}

// NewFileRepository создаёт репозиторий файлов.
// view — имя представления Airtable (пусто — вся таблица).
func NewFileRepository(client TableClient, table, view string, fields airtable.FileFields, loc *time.Location) FileRepository {
	return &fileRepository{client: client, table: table, view: view, fields: fields, loc: loc}
}

// ListFiles читает таблицу файлов постранично до конца.
func (r *fileRepository) ListFiles(ctx context.Context) ([]*model.FileRecord, error) {
	records, err := r.client.List(ctx, r.table, airtable.ListOptions{View: r.view})
	if err != nil {
		return nil, fmt.Errorf("список файлов: %w", err)
	}

	files := make([]*model.FileRecord, 0, len(records))
	for i := range records {
		files = append(files, r.toModel(&records[i]))
	}
	return files, nil
}

// toModel маппит строку Airtable в FileRecord без значений по умолчанию.
func (r *fileRepository) toModel(rec *airtable.Record) *model.FileRecord {
	att := rec.Get(r.fields.Attachment, "0")
	return &model.FileRecord{
		ID:          rec.ID,
		Name:        rec.String(r.fields.Name),
		Title:       rec.String(r.fields.Title),
		Sector:      rec.String(r.fields.Sector),
		Category:    rec.String(r.fields.Category),
		Date:        rec.Time(r.fields.Date, r.loc),
		DownloadURL: att.Get("url").String(),
		Filename:    att.Get("filename").String(),
		ContentType: att.Get("type").String(),
		Size:        att.Get("size").Int(),
	}
}
