package airtable

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoRecords — выборка не вернула ни одной записи.
var ErrNoRecords = errors.New("записи не найдены")

// APIError — ответ Airtable с кодом не 2xx.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("Airtable API вернул статус %d: %s", e.StatusCode, e.Type)
	}
	return fmt.Sprintf("Airtable API вернул статус %d: %s: %s", e.StatusCode, e.Type, e.Message)
}

// NetworkError — запрос не дошёл до Airtable (DNS, TLS, таймаут).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "сетевая ошибка Airtable: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsPermanent сообщает, что повтор запроса не поможет:
// ошибки авторизации (401/403), отсутствующая таблица (404)
// и некорректный запрос (422). 429 и 5xx считаются временными.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// IsAuthError сообщает об отказе в доступе к базе (401/403).
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}
