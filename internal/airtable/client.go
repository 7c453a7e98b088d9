// client.go — HTTP-клиент к REST API Airtable.
// Один параметризованный клиент для всех таблиц базы: постраничное чтение
// (offset cursor), filterByFormula, sort, maxRecords, создание и обновление записей.
// Запросы ограничиваются token bucket (лимит Airtable — 5 req/s на базу).
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// maxPageSize — максимальный размер страницы Airtable.
const maxPageSize = 100

// Client — HTTP-клиент к Airtable REST API одной базы.
type Client struct {
	baseURL    string // {apiURL}/v0/{baseID}
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New создаёт клиент к базе Airtable.
// apiURL — корень API (https://api.airtable.com), baseID — идентификатор базы.
// httpClient может быть nil; ratePerSec <= 0 отключает ограничение частоты.
func New(apiURL, baseID, apiKey string, httpClient *http.Client, ratePerSec float64, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	return &Client{
		baseURL:    fmt.Sprintf("%s/v0/%s", strings.TrimRight(apiURL, "/"), url.PathEscape(baseID)),
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "airtable_client")),
	}
}

// Sort — направление сортировки по полю.
type Sort struct {
	Field     string
	Direction string // asc | desc
}

// ListOptions — параметры выборки записей.
type ListOptions struct {
	View       string
	Formula    string
	Sort       []Sort
	Fields     []string
	MaxRecords int
	PageSize   int
}

// listResponse — страница ответа list records.
type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

// List возвращает все записи таблицы, удовлетворяющие опциям.
// Проходит по курсору offset до конца выборки или до MaxRecords.
func (c *Client) List(ctx context.Context, table string, opts ListOptions) ([]Record, error) {
	var all []Record
	offset := ""

	for {
		query := opts.query()
		if offset != "" {
			query.Set("offset", offset)
		}

		resp, err := c.do(ctx, http.MethodGet, c.tableURL(table)+"?"+query.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("чтение таблицы %s: %w", table, err)
		}

		var page listResponse
		if err := decodeResponse(resp, &page); err != nil {
			c.logError(table, err)
			return nil, fmt.Errorf("чтение таблицы %s: %w", table, err)
		}

		all = append(all, page.Records...)

		if opts.MaxRecords > 0 && len(all) >= opts.MaxRecords {
			return all[:opts.MaxRecords], nil
		}
		if page.Offset == "" {
			return all, nil
		}
		offset = page.Offset
	}
}

// Create добавляет запись в таблицу. typecast разрешает Airtable приводить
// строковые значения к типу колонки (даты, select-опции).
func (c *Client) Create(ctx context.Context, table string, fields map[string]any) (*Record, error) {
	body := map[string]any{"fields": fields, "typecast": true}

	resp, err := c.do(ctx, http.MethodPost, c.tableURL(table), body)
	if err != nil {
		return nil, fmt.Errorf("создание записи в %s: %w", table, err)
	}

	var rec Record
	if err := decodeResponse(resp, &rec); err != nil {
		c.logError(table, err)
		return nil, fmt.Errorf("создание записи в %s: %w", table, err)
	}
	return &rec, nil
}

// Update частично обновляет запись (PATCH — не переданные поля сохраняются).
func (c *Client) Update(ctx context.Context, table, recordID string, fields map[string]any) (*Record, error) {
	body := map[string]any{"fields": fields, "typecast": true}

	resp, err := c.do(ctx, http.MethodPatch, c.tableURL(table)+"/"+url.PathEscape(recordID), body)
	if err != nil {
		return nil, fmt.Errorf("обновление записи %s в %s: %w", recordID, table, err)
	}

	var rec Record
	if err := decodeResponse(resp, &rec); err != nil {
		c.logError(table, err)
		return nil, fmt.Errorf("обновление записи %s в %s: %w", recordID, table, err)
	}
	return &rec, nil
}

// First возвращает первую запись выборки или ErrNoRecords.
func (c *Client) First(ctx context.Context, table string, opts ListOptions) (*Record, error) {
	opts.MaxRecords = 1
	opts.PageSize = 1
	records, err := c.List(ctx, table, opts)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return &records[0], nil
}

// --- HTTP helpers ---

func (c *Client) tableURL(table string) string {
	return c.baseURL + "/" + url.PathEscape(table)
}

// do выполняет запрос с авторизацией и ожиданием лимитера.
func (c *Client) do(ctx context.Context, method, reqURL string, body any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ожидание лимита запросов: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

func (c *Client) logError(table string, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.logger.Warn("Airtable вернул ошибку",
			slog.String("table", table),
			slog.Int("status", apiErr.StatusCode),
			slog.String("type", apiErr.Type),
			slog.String("message", apiErr.Message),
		)
	}
}

// decodeResponse декодирует JSON ответ в target или возвращает *APIError.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return newAPIError(resp.StatusCode, body)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа Airtable: %w", err)
		}
	}
	return nil
}

// newAPIError разбирает тело ошибки Airtable. Встречаются две формы:
// {"error":{"type":"...","message":"..."}} и {"error":"NOT_FOUND"}.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	errField := gjson.GetBytes(body, "error")
	switch {
	case errField.IsObject():
		apiErr.Type = errField.Get("type").String()
		apiErr.Message = errField.Get("message").String()
	case errField.Type == gjson.String:
		apiErr.Type = errField.String()
	default:
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// query формирует query-параметры list records.
func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.View != "" {
		q.Set("view", o.View)
	}
	if o.Formula != "" {
		q.Set("filterByFormula", o.Formula)
	}
	for i, s := range o.Sort {
		q.Set(fmt.Sprintf("sort[%d][field]", i), s.Field)
		dir := s.Direction
		if dir == "" {
			dir = "asc"
		}
		q.Set(fmt.Sprintf("sort[%d][direction]", i), dir)
	}
	for _, f := range o.Fields {
		q.Add("fields[]", f)
	}
	if o.MaxRecords > 0 {
		q.Set("maxRecords", strconv.Itoa(o.MaxRecords))
	}
	pageSize := o.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	q.Set("pageSize", strconv.Itoa(pageSize))
	return q
}
