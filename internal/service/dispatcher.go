// dispatcher.go — асинхронное обновление счётчиков пулом воркеров.
// Очередь ограничена; при переполнении запись отбрасывается с логом.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/worldsun-app/finportal/internal/domain/model"
)

// Prometheus-метрики диспетчера.
var (
	dispatchDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_activity_dispatch_dropped_total",
		Help: "Записи, отброшенные из-за переполнения очереди счётчиков.",
	})
	dispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fp_activity_dispatch_queue_depth",
		Help: "Текущая длина очереди обновления счётчиков.",
	})
)

// Dispatcher — пул воркеров, применяющих записи журнала к счётчикам.
// Stop дожидается обработки всех принятых записей.
type Dispatcher struct {
	updater *CounterUpdater
	workers int
	queue   chan *model.ActivityEntry
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher создаёт диспетчер с workers воркерами и очередью queueSize.
func NewDispatcher(updater *CounterUpdater, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		updater: updater,
		workers: workers,
		queue:   make(chan *model.ActivityEntry, queueSize),
		logger:  logger.With(slog.String("component", "counter_dispatcher")),
	}
}

// Start запускает воркеры. Отмена ctx не прерывает обработку
// уже принятых записей: очередь дренируется в Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for entry := range d.queue {
				dispatchQueueDepth.Dec()
				d.updater.Apply(workCtx, entry)
			}
		}()
	}
	d.logger.Info("Диспетчер счётчиков запущен",
		slog.Int("workers", d.workers),
		slog.Int("queue_size", cap(d.queue)),
	)
}

// Dispatch ставит запись в очередь без блокировки.
func (d *Dispatcher) Dispatch(_ context.Context, entry *model.ActivityEntry) {
	e := *entry

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("Диспетчер остановлен, запись отброшена",
			slog.String("event_id", e.EventID),
		)
		dispatchDroppedTotal.Inc()
		return
	}

	select {
	case d.queue <- &e:
		dispatchQueueDepth.Inc()
	default:
		dispatchDroppedTotal.Inc()
		d.logger.Warn("Очередь счётчиков переполнена, запись отброшена",
			slog.String("event_id", e.EventID),
			slog.String("action", e.Action),
		)
	}
}

// Stop закрывает очередь и ждёт, пока воркеры обработают оставшиеся записи.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Диспетчер счётчиков остановлен")
}
