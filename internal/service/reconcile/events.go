package reconcile

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// emitEvent пишет событие в outbox и timeline. Ошибки логируются и не отменяют уже выполненную операцию.
// Запись заказа к этому моменту закоммичена, поэтому отмена запроса событие не отбрасывает.
func (e *Engine) emitEvent(ctx context.Context, order domain.Order, eventType, reason string, payload map[string]interface{}) {
	ctx = context.WithoutCancel(ctx)
	if payload == nil {
		payload = make(map[string]interface{})
	}
	occurred := order.UpdatedAt
	if eventType == domain.EventOrderDeleted || occurred.IsZero() {
		occurred = e.now()
	}
	payload["order_id"] = order.ID
	payload["ts"] = occurred.Format(time.RFC3339Nano)

	if e.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("marshal event failed")
		} else {
			msg := domain.OutboxMessage{
				AggregateType: domain.AggregateOrder,
				AggregateID:   order.ID,
				EventType:     eventType,
				Payload:       data,
			}
			if _, err := e.outbox.Enqueue(ctx, msg); err != nil {
				e.logger.WithError(err).WithFields(log.Fields{
					"order_id": order.ID,
					"event":    eventType,
				}).Error("enqueue event failed")
			} else if e.metrics != nil {
				e.metrics.RecordOutboxEvent()
			}
		}
	}

	if e.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := e.timeline.Append(ctx, event); err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if e.metrics != nil {
			e.metrics.RecordTimelineEvent()
		}
	}
}

func linesPayload(items []domain.LineItem) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]interface{}{
			"product_id": item.ProductID,
			"quantity":   item.Quantity,
			"unit_price": item.UnitPrice.String(),
			"line_total": item.LineTotal.String(),
		})
	}
	return out
}
