package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "pos.order.events"
	TopicDeadLetterQueue = "pos.order.events.dlq"
)

// Заголовки сообщений, по которым потребители маршрутизируют события без разбора тела.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// EventEnvelope — тело сообщения о событии заказа.
type EventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at,omitempty"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение. Невалидный JSON в payload отбрасывается.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) EventEnvelope {
	env := EventEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		OccurredAt:    msg.CreatedAt,
		PublishedAt:   publishedAt,
	}
	if json.Valid(msg.Payload) {
		env.Payload = json.RawMessage(msg.Payload)
	}
	return env
}

// PartitionKey — ключ партиционирования: все события одного заказа попадают в одну партицию.
func PartitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}
