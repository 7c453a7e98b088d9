package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/worldsun-app/finportal/internal/domain/model"
)

const (
	// publishTimeout — ограничение одной публикации.
	publishTimeout = 5 * time.Second
	// dialTimeout — ограничение TCP-подключения к брокеру (вместо 30s amqp.Dial).
	dialTimeout = 5 * time.Second
)

var errNotConnected = errors.New("нет соединения с RabbitMQ")

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_amqp_published_total",
		Help: "Публикации записей активности в RabbitMQ (ok, fallback).",
	}, []string{"status"})

	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_amqp_reconnects_total",
		Help: "Фоновые переподключения publisher к RabbitMQ (success, error).",
	}, []string{"status"})
)

// Fallback обновляет счётчики, если публикация не удалась.
// Реализуется *service.SyncDispatcher.
type Fallback interface {
	Dispatch(ctx context.Context, entry *model.ActivityEntry)
}

// channel — подмножество *amqp.Channel, используемое publisher.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// dialFunc открывает соединение и канал с объявленной очередью.
type dialFunc func() (channel, io.Closer, error)

// Publisher публикует записи активности в очередь.
// Реализует service.CounterDispatcher.
//
// Dispatch никогда не подключается к брокеру сам: без открытого канала
// запись сразу уходит в fallback, а переподключение идёт в фоне
// (не более одного одновременно).
type Publisher struct {
	queue    string
	dial     dialFunc
	fallback Fallback
	logger   *slog.Logger

	// Канал amqp не потокобезопасен для публикации
	mu     sync.Mutex
	ch     channel
	conn   io.Closer
	closed bool

	reconnecting atomic.Bool
	wg           sync.WaitGroup
}

// NewPublisher подключается к брокеру и объявляет durable-очередь.
// fallback может быть nil: тогда запись при сбое публикации теряется.
func NewPublisher(url, queue string, fallback Fallback, logger *slog.Logger) (*Publisher, error) {
	p := newPublisher(queue, amqpDialer(url, queue), fallback, logger)
	if err := p.connect(); err != nil {
		return nil, err
	}
	p.logger.Info("Publisher RabbitMQ подключён", slog.String("queue", queue))
	return p, nil
}

func newPublisher(queue string, dial dialFunc, fallback Fallback, logger *slog.Logger) *Publisher {
	return &Publisher{
		queue:    queue,
		dial:     dial,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "amqp_publisher")),
	}
}

func amqpDialer(url, queue string) dialFunc {
	return func() (channel, io.Closer, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(dialTimeout),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("подключение к RabbitMQ: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("открытие канала: %w", err)
		}
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("объявление очереди %s: %w", queue, err)
		}
		return ch, conn, nil
	}
}

// connect вызывается под p.mu (или до начала использования).
func (p *Publisher) connect() error {
	ch, conn, err := p.dial()
	if err != nil {
		return err
	}
	p.ch, p.conn = ch, conn
	return nil
}

// Dispatch публикует запись. При закрытом канале или ошибке публикации
// счётчики обновляются через fallback, переподключение запускается в фоне.
func (p *Publisher) Dispatch(ctx context.Context, entry *model.ActivityEntry) {
	msg, err := encode(entry)
	if err == nil {
		err = p.publish(ctx, msg)
	}
	if err == nil {
		publishedTotal.WithLabelValues("ok").Inc()
		return
	}

	publishedTotal.WithLabelValues("fallback").Inc()
	p.logger.Warn("Публикация в RabbitMQ не удалась, счётчики обновляются напрямую",
		slog.String("event_id", entry.EventID),
		slog.String("error", err.Error()),
	)
	if p.fallback != nil {
		p.fallback.Dispatch(context.WithoutCancel(ctx), entry)
	}
}

func (p *Publisher) publish(ctx context.Context, msg amqp.Publishing) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		p.closeLocked()
		p.reconnectAsync()
		return errNotConnected
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.closeLocked()
		p.reconnectAsync()
		return err
	}
	return nil
}

// reconnectAsync запускает фоновое переподключение, если оно ещё не идёт.
// Вызывается под p.mu.
func (p *Publisher) reconnectAsync() {
	if p.closed || !p.reconnecting.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.reconnecting.Store(false)

		ch, conn, err := p.dial()
		if err != nil {
			reconnectsTotal.WithLabelValues("error").Inc()
			p.logger.Warn("Переподключение к RabbitMQ не удалось",
				slog.String("error", err.Error()),
			)
			return
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			_ = ch.Close()
			_ = conn.Close()
			return
		}
		p.closeLocked()
		p.ch, p.conn = ch, conn
		reconnectsTotal.WithLabelValues("success").Inc()
		p.logger.Info("Publisher RabbitMQ переподключён", slog.String("queue", p.queue))
	}()
}

// CheckReady проверяет, что канал к брокеру открыт.
func (p *Publisher) CheckReady() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return errors.New("канал RabbitMQ закрыт")
	}
	return nil
}

// Close закрывает канал и соединение и дожидается фонового переподключения.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.closeLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
