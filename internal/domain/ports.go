package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProductCatalog — каталог товаров и их остатков.
type ProductCatalog interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
	// SetStock безусловно выставляет остаток.
	SetStock(ctx context.Context, id string, stock int64) error
	// ApplyStock атомарно применяет пачку compare-and-set изменений.
	// Если хотя бы одно Expected устарело, ничего не меняется и возвращается ErrStockConflict.
	ApplyStock(ctx context.Context, changes []StockChange) error
}

// CashierDirectory подтверждает, что кассир существует.
type CashierDirectory interface {
	GetCashier(ctx context.Context, id string) (Cashier, error)
}

// OrderStore хранит заголовки заказов и их позиции.
type OrderStore interface {
	// CreateOrder сохраняет заголовок. ErrOrderCodeTaken, если код занят.
	CreateOrder(ctx context.Context, order Order) error
	CreateLineItems(ctx context.Context, items []LineItem) error
	// UpdateLineItem меняет количество и сумму существующей позиции.
	UpdateLineItem(ctx context.Context, item LineItem) error
	UpdateOrderTotal(ctx context.Context, orderID string, total decimal.Decimal, updatedAt time.Time) error
	ReassignCashier(ctx context.Context, orderID, cashierID string, updatedAt time.Time) error
	DeleteLineItems(ctx context.Context, orderID string) error
	DeleteOrder(ctx context.Context, orderID string) error
	// GetOrder возвращает заказ вместе с позициями или ErrOrderNotFound.
	GetOrder(ctx context.Context, id string) (Order, error)
	// LockOrder внутри WithinTx возвращает заказ с позициями и удерживает его от параллельных
	// изменений до конца транзакции. Вне транзакции равносилен GetOrder.
	LockOrder(ctx context.Context, id string) (Order, error)
	ListLineItems(ctx context.Context, orderID string) ([]LineItem, error)
	// ListOrders возвращает заголовки (без позиций) согласно фильтру, сортировке и окну.
	ListOrders(ctx context.Context, query OrderQuery) ([]Order, error)
	CountOrders(ctx context.Context, filter Filter) (int, error)
	// WithinTx выполняет fn атомарно: либо все записи внутри fn применяются, либо ни одна.
	WithinTx(ctx context.Context, fn func(tx OrderStore) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release освобождает ключ, который ещё в статусе processing, чтобы запрос можно было повторить.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
