// activity.go — запись журнала активности и обновление производных счётчиков.
// Запись строки журнала — с повторами; счётчики — best-effort через CounterDispatcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/worldsun-app/finportal/internal/airtable"
	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/repository"
)

// ErrInvalidActivity — запись активности без userId или action.
var ErrInvalidActivity = errors.New("некорректная запись активности")

// Prometheus-метрики журнала активности.
var (
	activityRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_activity_records_total",
		Help: "Записи журнала активности по результату (ok, failed, invalid).",
	}, []string{"status"})
	activityAppendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_activity_append_retries_total",
		Help: "Повторные попытки записи строки журнала.",
	})
	counterUpdateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_counter_update_failures_total",
		Help: "Неудачные обновления производных счётчиков.",
	}, []string{"counter"})
)

// CounterDispatcher доставляет запись журнала до обновления счётчиков.
// Dispatch не возвращает ошибок: сбои логируются и учитываются в метриках.
type CounterDispatcher interface {
	Dispatch(ctx context.Context, entry *model.ActivityEntry)
}

// RetryPolicy — политика повторов записи журнала.
type RetryPolicy struct {
	// Attempts — общее количество попыток (минимум 1)
	Attempts int
	// Backoff — базовая задержка; перед попыткой N ждём (N-1)×Backoff
	Backoff time.Duration
}

// ActivityRecorder — запись журнала активности.
type ActivityRecorder struct {
	repo       repository.ActivityRepository
	dispatcher CounterDispatcher
	retry      RetryPolicy
	logger     *slog.Logger
	now        func() time.Time
}

// NewActivityRecorder создаёт сервис записи активности.
func NewActivityRecorder(
	repo repository.ActivityRepository,
	dispatcher CounterDispatcher,
	retry RetryPolicy,
	logger *slog.Logger,
) *ActivityRecorder {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &ActivityRecorder{
		repo:       repo,
		dispatcher: dispatcher,
		retry:      retry,
		logger:     logger.With(slog.String("component", "activity_recorder")),
		now:        time.Now,
	}
}

// Record проверяет и дополняет запись, пишет строку журнала и передаёт
// запись на обновление счётчиков. userAgent используется, если
// deviceInfo или browserInfo не заданы.
//
// Ошибка возвращается только для записи строки журнала; счётчики
// обновляются независимо, даже если строка не записана.
func (r *ActivityRecorder) Record(ctx context.Context, entry *model.ActivityEntry, userAgent string) error {
	if err := r.prepare(entry, userAgent); err != nil {
		activityRecordsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	id, err := r.appendWithRetry(ctx, entry)
	if err != nil {
		activityRecordsTotal.WithLabelValues("failed").Inc()
		r.logger.Error("Не удалось записать активность",
			slog.String("event_id", entry.EventID),
			slog.String("action", entry.Action),
			slog.String("user_id", entry.UserID),
			slog.String("error", err.Error()),
		)
	} else {
		entry.ID = id
		activityRecordsTotal.WithLabelValues("ok").Inc()
	}

	if r.dispatcher != nil {
		r.dispatcher.Dispatch(ctx, entry)
	}
	return err
}

func (r *ActivityRecorder) prepare(entry *model.ActivityEntry, userAgent string) error {
	entry.UserID = strings.TrimSpace(entry.UserID)
	entry.Action = strings.TrimSpace(entry.Action)
	entry.UserEmail = strings.TrimSpace(entry.UserEmail)
	if entry.UserID == "" {
		return fmt.Errorf("%w: userId обязателен", ErrInvalidActivity)
	}
	if entry.Action == "" {
		return fmt.Errorf("%w: action обязателен", ErrInvalidActivity)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}
	if entry.DeviceInfo == "" {
		entry.DeviceInfo = ClassifyDevice(userAgent)
	}
	if entry.BrowserInfo == "" {
		entry.BrowserInfo = ClassifyBrowser(userAgent)
	}
	return nil
}

// appendWithRetry пишет строку журнала. Постоянные ошибки хранилища
// (401, 403, 404, 422) не повторяются.
func (r *ActivityRecorder) appendWithRetry(ctx context.Context, entry *model.ActivityEntry) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.retry.Attempts; attempt++ {
		if attempt > 1 {
			activityAppendRetries.Inc()
			delay := time.Duration(attempt-1) * r.retry.Backoff
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("запись активности прервана: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		id, err := r.repo.Append(ctx, entry)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if airtable.IsPermanent(err) {
			break
		}
		r.logger.Warn("Ошибка записи активности, повтор",
			slog.String("event_id", entry.EventID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return "", lastErr
}

// CounterUpdater применяет запись журнала к производным счётчикам.
type CounterUpdater struct {
	store  repository.CounterStore
	loc    *time.Location
	logger *slog.Logger
}

// NewCounterUpdater создаёт обработчик счётчиков. loc — часовой пояс
// для ключа дневной статистики.
func NewCounterUpdater(store repository.CounterStore, loc *time.Location, logger *slog.Logger) *CounterUpdater {
	if loc == nil {
		loc = time.UTC
	}
	return &CounterUpdater{
		store:  store,
		loc:    loc,
		logger: logger.With(slog.String("component", "counter_updater")),
	}
}

// Apply обновляет все применимые счётчики. Каждое обновление независимо:
// сбой одного не отменяет остальные. Возвращает количество сбоев.
func (u *CounterUpdater) Apply(ctx context.Context, entry *model.ActivityEntry) int {
	failures := 0
	run := func(counter string, fn func() error) {
		if err := fn(); err != nil {
			failures++
			counterUpdateFailures.WithLabelValues(counter).Inc()
			u.logger.Warn("Ошибка обновления счётчика",
				slog.String("counter", counter),
				slog.String("event_id", entry.EventID),
				slog.String("error", err.Error()),
			)
		}
	}

	at := entry.Timestamp
	date := at.In(u.loc).Format(time.DateOnly)

	if entry.IsFileAccess() {
		if name := entry.FileName(); name != "" {
			run("file", func() error { return u.store.IncrFileDownload(ctx, name, at) })
		}
	}
	switch entry.Action {
	case model.ActionFileDownload:
		run("daily", func() error { return u.store.IncrDaily(ctx, date, repository.MetricDownloads) })
	case model.ActionLogin:
		run("daily", func() error { return u.store.IncrDaily(ctx, date, repository.MetricVisits) })
		if entry.UserEmail != "" {
			run("user", func() error { return u.store.IncrUserLogin(ctx, entry.UserEmail, at) })
		}
	}
	if entry.DeviceInfo != "" {
		run("device", func() error { return u.store.IncrDevice(ctx, entry.DeviceInfo) })
	}
	if entry.BrowserInfo != "" {
		run("browser", func() error { return u.store.IncrBrowser(ctx, entry.BrowserInfo) })
	}
	return failures
}

// SyncDispatcher обновляет счётчики в вызывающей горутине.
type SyncDispatcher struct {
	updater *CounterUpdater
}

// NewSyncDispatcher создаёт синхронный диспетчер.
func NewSyncDispatcher(updater *CounterUpdater) *SyncDispatcher {
	return &SyncDispatcher{updater: updater}
}

// Dispatch применяет счётчики немедленно.
func (d *SyncDispatcher) Dispatch(ctx context.Context, entry *model.ActivityEntry) {
	d.updater.Apply(ctx, entry)
}
