package airtable

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReadinessChecker проверяет доступ к базе чтением одной записи таблицы.
type ReadinessChecker struct {
	client  *Client
	table   string
	timeout time.Duration
}

// NewReadinessChecker создаёт checker для таблицы table.
func NewReadinessChecker(client *Client, table string, timeout time.Duration) *ReadinessChecker {
	return &ReadinessChecker{client: client, table: table, timeout: timeout}
}

// CheckReady возвращает "ok", "degraded" (429/5xx) или "fail".
func (rc *ReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), rc.timeout)
	defer cancel()

	_, err := rc.client.List(ctx, rc.table, ListOptions{MaxRecords: 1, PageSize: 1})
	if err == nil {
		return "ok", "таблица " + rc.table + " доступна"
	}
	if IsAuthError(err) {
		return "fail", "доступ к базе отклонён, проверьте API-ключ: " + err.Error()
	}
	if IsPermanent(err) {
		return "fail", err.Error()
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "fail", fmt.Sprintf("Airtable недоступен: %v", err)
	}
	return "degraded", err.Error()
}
