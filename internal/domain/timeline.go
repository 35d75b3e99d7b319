package domain

import "time"

// Типы событий жизненного цикла заказа (outbox и timeline).
const (
	EventOrderCreated = "OrderCreated"
	EventOrderAmended = "OrderAmended"
	EventOrderDeleted = "OrderDeleted"
)

// AggregateOrder — тип агрегата в outbox.
const AggregateOrder = "order"

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
