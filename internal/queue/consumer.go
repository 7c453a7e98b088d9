package queue

import (
	"context"
	"errors"
	"fmt"
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
	consumerPrefetch = 50
	maxReconnectWait = 30 * time.Second
)

var consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fp_amqp_consumed_total",
	Help: "Обработанные сообщения очереди активности (ok, failed, invalid).",
}, []string{"status"})

// Handler применяет запись к счётчикам.
type Handler func(ctx context.Context, entry *model.ActivityEntry) error

// Consumer читает очередь активности и вызывает Handler.
// Переподключается к брокеру с экспоненциальной задержкой.
type Consumer struct {
	url     string
	queue   string
	handler Handler
	logger  *slog.Logger

	connected atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewConsumer создаёт consumer. Подключение выполняется в Start.
func NewConsumer(url, queue string, handler Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		url:     url,
		queue:   queue,
		handler: handler,
		logger:  logger.With(slog.String("component", "amqp_consumer")),
	}
}

// Start запускает цикл чтения в фоне.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	c.logger.Info("Consumer RabbitMQ запущен", slog.String("queue", c.queue))
}

// Stop останавливает чтение и дожидается обработки текущего сообщения.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("Consumer RabbitMQ остановлен")
}

// CheckReady сообщает, подключён ли consumer к брокеру.
func (c *Consumer) CheckReady() error {
	if !c.connected.Load() {
		return errors.New("consumer не подключён к RabbitMQ")
	}
	return nil
}

func (c *Consumer) run(ctx context.Context) {
	backoff := time.Second
	for {
		err := c.consume(ctx)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("Чтение очереди прервано, переподключение",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", backoff),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxReconnectWait {
			backoff *= 2
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("подключение к RabbitMQ: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("открытие канала: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		return fmt.Errorf("установка QoS: %w", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("объявление очереди %s: %w", c.queue, err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("подписка на очередь: %w", err)
	}
	c.connected.Store(true)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("канал доставки закрыт")
			}
			c.handle(ctx, d)
		}
	}
}

// handle обрабатывает одно сообщение. Сообщения не возвращаются в очередь
// даже при ошибке обработчика.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	entry, err := decode(d.Body)
	if err != nil {
		consumedTotal.WithLabelValues("invalid").Inc()
		c.logger.Warn("Некорректное сообщение отброшено",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
		_ = d.Nack(false, false)
		return
	}

	if err := c.handler(context.WithoutCancel(ctx), entry); err != nil {
		consumedTotal.WithLabelValues("failed").Inc()
		c.logger.Warn("Ошибка обработки записи активности",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
	} else {
		consumedTotal.WithLabelValues("ok").Inc()
	}
	_ = d.Ack(false)
}
