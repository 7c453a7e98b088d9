// Пакет attachment — HTTP-клиент для скачивания вложений каталога
// по подписанным URL Airtable. Streaming download с пробросом Range.
package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client — клиент скачивания вложений.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. timeout ограничивает весь запрос, включая тело:
// он должен покрывать скачивание самого большого файла.
func New(timeout time.Duration, logger *slog.Logger) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		// Настройка пула idle-соединений для эффективного переиспользования
		MaxIdleConnsPerHost: 10,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		logger: logger.With(slog.String("component", "attachment_client")),
	}
}

// NewWithHTTPClient создаёт клиент с готовым *http.Client (тесты).
func NewWithHTTPClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{httpClient: httpClient, logger: logger.With(slog.String("component", "attachment_client"))}
}

// Fetch выполняет GET по URL вложения.
// Возвращает *http.Response — вызывающий код ОБЯЗАН закрыть resp.Body.
// rangeHeader — значение заголовка Range клиента (пустая строка — без Range).
func (c *Client) Fetch(ctx context.Context, url, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса вложения: %w", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из записи каталога
	if err != nil {
		return nil, fmt.Errorf("запрос вложения: %w", err)
	}

	c.logger.Debug("Ответ хранилища вложений",
		slog.Int("status", resp.StatusCode),
		slog.Int64("content_length", resp.ContentLength),
	)
	// Не закрываем resp.Body — вызывающий код отвечает за это (streaming)
	return resp, nil
}
