// Пакет repository — слой доступа к данным finportal.
// Система записи — таблицы Airtable; приложение не хранит локальную копию.
// Имена колонок берутся из airtable.FieldMap, имена таблиц — из конфигурации.
package repository

import (
	"context"
	"errors"

	"github.com/worldsun-app/finportal/internal/airtable"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
)

// TableClient — операции над таблицами Airtable.
// Реализуется *airtable.Client.
type TableClient interface {
	List(ctx context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error)
	First(ctx context.Context, table string, opts airtable.ListOptions) (*airtable.Record, error)
	Create(ctx context.Context, table string, fields map[string]any) (*airtable.Record, error)
	Update(ctx context.Context, table, recordID string, fields map[string]any) (*airtable.Record, error)
}

// setField добавляет колонку в набор полей, если она есть в схеме.
func setField(fields map[string]any, column string, value any) {
	if column != "" {
		fields[column] = value
	}
}
