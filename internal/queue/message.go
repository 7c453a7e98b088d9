// Пакет queue — доставка записей журнала активности до обновления
// счётчиков через durable-очередь RabbitMQ.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/worldsun-app/finportal/internal/domain/model"
)

const contentTypeJSON = "application/json"

// encode формирует persistent-сообщение. MessageId — EventID записи,
// чтобы повторная доставка одной записи была видна в логах.
func encode(entry *model.ActivityEntry) (amqp.Publishing, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("сериализация записи активности: %w", err)
	}
	id := entry.EventID
	if id == "" {
		id = uuid.NewString()
	}
	return amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Type:         entry.Action,
		Body:         body,
	}, nil
}

func decode(body []byte) (*model.ActivityEntry, error) {
	var entry model.ActivityEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("разбор записи активности: %w", err)
	}
	if entry.UserID == "" || entry.Action == "" {
		return nil, fmt.Errorf("запись активности без userId или action")
	}
	return &entry, nil
}
