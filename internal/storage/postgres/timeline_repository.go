package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type timelineRepository struct {
	store *Store
}

type timelineRow struct {
	OrderID  string    `db:"order_id"`
	Type     string    `db:"type"`
	Reason   string    `db:"reason"`
	Occurred time.Time `db:"occurred"`
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{store: store}
}

// Append пишет событие. Таймлайн не ссылается на orders: история удалённого заказа остаётся.
func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	row := timelineRow{OrderID: event.OrderID, Type: event.Type, Reason: event.Reason, Occurred: event.Occurred.UTC()}
	if event.Occurred.IsZero() {
		row.Occurred = time.Now().UTC()
	}

	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	_, err := r.store.X().NamedExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, occurred)
		VALUES (:order_id, :type, :reason, :occurred)
	`, row)
	if err != nil {
		return fmt.Errorf("append timeline event %s for order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	var rows []timelineRow
	if err := r.store.X().SelectContext(ctx, &rows, `
		SELECT order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id
	`, orderID); err != nil {
		return nil, fmt.Errorf("list timeline of order %s: %w", orderID, err)
	}

	events := make([]domain.TimelineEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.TimelineEvent{
			OrderID:  row.OrderID,
			Type:     row.Type,
			Reason:   row.Reason,
			Occurred: row.Occurred.UTC(),
		})
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
