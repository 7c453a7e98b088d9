// download.go — proxy download вложений каталога.
// Полный pipeline: файл каталога (кэш/Airtable) → зеркало MinIO или
// подписанный URL вложения → streaming download.
// Поддержка HTTP Range, повторное разрешение URL при истёкшей подписи.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/storage"
)

// Ошибки download service.
var (
	// ErrAttachmentGone — вложение недоступно даже после обновления каталога.
	ErrAttachmentGone = errors.New("вложение недоступно")
	// ErrTransferAborted — streaming прерван после отправки заголовков.
	ErrTransferAborted = errors.New("передача файла прервана")
)

// DownloadResult — итог отдачи файла клиенту.
type DownloadResult struct {
	File *model.FileRecord
	// Status — HTTP-статус ответа клиенту.
	Status int
	// FromStart — ответ отдаёт файл с первого байта: 200 или 206 с
	// Content-Range "bytes 0-...". Последующие Range-запросы того же
	// просмотра (PDF viewer) дают false.
	FromStart bool
}

// mirrorUploadTimeout — ограничение фоновой загрузки копии в зеркало.
const mirrorUploadTimeout = 10 * time.Minute

// Prometheus-метрики download.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fp_download_duration_seconds",
		Help:    "Длительность proxy download (от запроса до завершения streaming).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_download_bytes_total",
		Help: "Общее количество переданных байт при скачивании.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fp_active_downloads",
		Help: "Количество активных (in-progress) proxy downloads.",
	})

	expiredURLTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_download_expired_url_total",
		Help: "Количество ответов 404/410 хранилища вложений (истёкшие URL).",
	})

	mirrorUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_mirror_uploads_total",
		Help: "Фоновые загрузки копий вложений в зеркало (по статусу).",
	}, []string{"status"})
)

// AttachmentFetcher — скачивание вложения по URL.
// Реализуется *attachment.Client.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, url, rangeHeader string) (*http.Response, error)
}

// Mirror — объектное зеркало вложений. Реализуется *storage.MinioMirror.
type Mirror interface {
	Open(ctx context.Context, key string) (*storage.Object, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// DownloadService — proxy download вложений каталога.
type DownloadService struct {
	catalog *CatalogService
	fetcher AttachmentFetcher
	mirror  Mirror
	logger  *slog.Logger

	// Фоновые загрузки в зеркало
	wg       sync.WaitGroup
	inflight sync.Map
}

// NewDownloadService создаёт сервис proxy download. mirror может быть nil.
func NewDownloadService(
	catalog *CatalogService,
	fetcher AttachmentFetcher,
	mirror Mirror,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		catalog: catalog,
		fetcher: fetcher,
		mirror:  mirror,
		logger:  logger.With(slog.String("component", "download_service")),
	}
}

// Download выполняет полный pipeline proxy download файла name.
//
// Pipeline:
//  1. Найти файл в каталоге (кэш или Airtable)
//  2. Если копия есть в зеркале — отдать её (Range обрабатывает http.ServeContent)
//  3. Запросить вложение по подписанному URL (пробросить Range header)
//  4. Если хранилище вернуло 404/410 — сбросить кэш каталога, получить
//     свежий URL и повторить один раз
//  5. Streaming copy в ResponseWriter с пробросом заголовков
//  6. При полном ответе и настроенном зеркале — фоновая загрузка копии
//
// При успешной отдаче возвращает файл и признак ответа с первого байта.
// Ошибка streaming возвращается как ErrTransferAborted: заголовки уже
// отправлены, ответ клиенту писать нельзя.
func (ds *DownloadService) Download(w http.ResponseWriter, r *http.Request, name string) (*DownloadResult, error) {
	ctx := r.Context()
	start := time.Now()
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	// 1. Файл каталога
	file, err := ds.catalog.FileByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			downloadsTotal.WithLabelValues("not_found").Inc()
		} else {
			downloadsTotal.WithLabelValues("store_error").Inc()
		}
		return nil, err
	}

	// 2. Зеркало
	if ds.mirror != nil {
		if status, ok := ds.serveFromMirror(w, r, file); ok {
			downloadsTotal.WithLabelValues("mirror").Inc()
			downloadDuration.Observe(time.Since(start).Seconds())
			return &DownloadResult{
				File:      file,
				Status:    status,
				FromStart: coversStart(status, w.Header().Get("Content-Range")),
			}, nil
		}
	}

	// 3-4. Вложение по URL с повтором после обновления каталога
	rangeHeader := r.Header.Get("Range")
	resp, err := ds.fetcher.Fetch(ctx, file.DownloadURL, rangeHeader)
	if err != nil {
		downloadsTotal.WithLabelValues("upstream_error").Inc()
		return nil, fmt.Errorf("скачивание вложения %s: %w", file.Name, err)
	}
	if isExpired(resp.StatusCode) {
		resp.Body.Close()
		expiredURLTotal.Inc()
		ds.logger.Warn("URL вложения недействителен, обновление каталога",
			slog.String("file", file.Name),
			slog.Int("status", resp.StatusCode),
		)

		file, resp, err = ds.refetch(ctx, file, rangeHeader)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	// Допустимые статусы: 200 (полный файл) или 206 (частичный контент)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		downloadsTotal.WithLabelValues("upstream_error").Inc()
		return nil, fmt.Errorf("хранилище вложений вернуло статус %d для файла %s", resp.StatusCode, file.Name)
	}

	// 5. Streaming copy: проброс заголовков и тела ответа
	ds.copyHeaders(w, resp)
	w.Header().Set("Content-Disposition", contentDisposition(file))
	w.WriteHeader(resp.StatusCode)

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		// Ошибка при streaming — заголовки уже отправлены, логируем
		ds.logger.Error("Ошибка streaming download",
			slog.String("file", file.Name),
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()),
		)
		downloadsTotal.WithLabelValues("stream_error").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrTransferAborted, file.Name, err)
	}

	duration := time.Since(start)
	downloadsTotal.WithLabelValues("success").Inc()
	downloadDuration.Observe(duration.Seconds())
	downloadBytesTotal.Add(float64(written))

	ds.logger.Debug("Download завершён",
		slog.String("file", file.Name),
		slog.Int64("bytes", written),
		slog.Duration("duration", duration),
		slog.Int("status", resp.StatusCode),
	)

	// 6. Копия в зеркало
	if ds.mirror != nil && resp.StatusCode == http.StatusOK {
		ds.mirrorAsync(file)
	}
	return &DownloadResult{
		File:      file,
		Status:    resp.StatusCode,
		FromStart: coversStart(resp.StatusCode, resp.Header.Get("Content-Range")),
	}, nil
}

// refetch сбрасывает кэш каталога, находит файл заново и повторяет запрос.
func (ds *DownloadService) refetch(ctx context.Context, stale *model.FileRecord, rangeHeader string) (*model.FileRecord, *http.Response, error) {
	ds.catalog.Invalidate()

	file, err := ds.catalog.FileByName(ctx, stale.Name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			downloadsTotal.WithLabelValues("not_found").Inc()
		} else {
			downloadsTotal.WithLabelValues("store_error").Inc()
		}
		return nil, nil, err
	}
	if file.DownloadURL == stale.DownloadURL {
		downloadsTotal.WithLabelValues("gone").Inc()
		return nil, nil, ErrAttachmentGone
	}

	resp, err := ds.fetcher.Fetch(ctx, file.DownloadURL, rangeHeader)
	if err != nil {
		downloadsTotal.WithLabelValues("upstream_error").Inc()
		return nil, nil, fmt.Errorf("повторное скачивание вложения %s: %w", file.Name, err)
	}
	if isExpired(resp.StatusCode) {
		resp.Body.Close()
		downloadsTotal.WithLabelValues("gone").Inc()
		return nil, nil, ErrAttachmentGone
	}
	return file, resp, nil
}

// serveFromMirror отдаёт копию из зеркала и возвращает статус ответа.
// false — копии нет или зеркало недоступно (ответ клиенту не начат).
func (ds *DownloadService) serveFromMirror(w http.ResponseWriter, r *http.Request, file *model.FileRecord) (int, bool) {
	obj, err := ds.mirror.Open(r.Context(), mirrorKey(file))
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotFound) {
			ds.logger.Warn("Зеркало недоступно, скачивание из Airtable",
				slog.String("file", file.Name),
				slog.String("error", err.Error()),
			)
		}
		return 0, false
	}
	defer obj.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.ETag != "" {
		w.Header().Set("ETag", `"`+obj.ETag+`"`)
	}
	w.Header().Set("Content-Disposition", contentDisposition(file))
	sw := &statusWriter{ResponseWriter: w}
	http.ServeContent(sw, r, displayName(file), obj.LastModified, obj)
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.status, true
}

// statusWriter запоминает статус, выставленный http.ServeContent.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// mirrorAsync загружает копию вложения в зеркало в фоне.
// Одновременно выполняется не более одной загрузки на ключ.
func (ds *DownloadService) mirrorAsync(file *model.FileRecord) {
	key := mirrorKey(file)
	if _, loaded := ds.inflight.LoadOrStore(key, struct{}{}); loaded {
		return
	}

	ds.wg.Add(1)
	go func() {
		defer ds.wg.Done()
		defer ds.inflight.Delete(key)

		ctx, cancel := context.WithTimeout(context.Background(), mirrorUploadTimeout)
		defer cancel()

		resp, err := ds.fetcher.Fetch(ctx, file.DownloadURL, "")
		if err != nil {
			mirrorUploadsTotal.WithLabelValues("error").Inc()
			ds.logger.Warn("Копия в зеркало: ошибка скачивания",
				slog.String("file", file.Name),
				slog.String("error", err.Error()),
			)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			mirrorUploadsTotal.WithLabelValues("error").Inc()
			return
		}

		if err := ds.mirror.Put(ctx, key, resp.Body, resp.ContentLength, resp.Header.Get("Content-Type")); err != nil {
			mirrorUploadsTotal.WithLabelValues("error").Inc()
			ds.logger.Warn("Копия в зеркало: ошибка загрузки",
				slog.String("file", file.Name),
				slog.String("error", err.Error()),
			)
			return
		}
		mirrorUploadsTotal.WithLabelValues("success").Inc()
	}()
}

// Wait дожидается завершения фоновых загрузок в зеркало.
func (ds *DownloadService) Wait() {
	ds.wg.Wait()
}

// copyHeaders пробрасывает заголовки ответа хранилища в ответ клиенту.
// Копирует только релевантные заголовки для download.
func (ds *DownloadService) copyHeaders(w http.ResponseWriter, resp *http.Response) {
	headersToProxy := []string{
		"Content-Type",
		"Content-Length",
		"Content-Range",
		"Accept-Ranges",
		"ETag",
		"Last-Modified",
		"Cache-Control",
	}

	for _, h := range headersToProxy {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
}

// coversStart — ответ содержит начало файла: 200 или одиночный диапазон
// 206, начинающийся с нулевого байта. multipart/byteranges не учитывается.
func coversStart(status int, contentRange string) bool {
	switch status {
	case http.StatusOK:
		return true
	case http.StatusPartialContent:
		return strings.HasPrefix(strings.TrimSpace(contentRange), "bytes 0-")
	}
	return false
}

func isExpired(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

// mirrorKey — ключ объекта: ID записи и имя файла.
func mirrorKey(file *model.FileRecord) string {
	return file.ID + "/" + displayName(file)
}

func displayName(file *model.FileRecord) string {
	if file.Filename != "" {
		return file.Filename
	}
	return file.Name
}

// contentDisposition формирует attachment с именем файла (RFC 2231 для не-ASCII).
func contentDisposition(file *model.FileRecord) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": displayName(file)}); v != "" {
		return v
	}
	return "attachment"
}
