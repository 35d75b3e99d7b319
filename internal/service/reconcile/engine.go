// Package reconcile содержит движок сверки заказов и складских остатков.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/pos/internal/service/reconcile"

const defaultCodeAttempts = 5

// Названия операций для логов и метрик.
const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
	opList   = "list"
	opGet    = "get"
)

// DeletePolicy определяет, что происходит с остатками при удалении заказа.
type DeletePolicy string

const (
	// DeleteKeepStock — проданное считается списанным, остаток не возвращается.
	DeleteKeepStock DeletePolicy = "keep"
	// DeleteRestock — количества позиций возвращаются на склад.
	DeleteRestock DeletePolicy = "restock"
)

// ParseDeletePolicy разбирает значение из конфигурации.
func ParseDeletePolicy(raw string) (DeletePolicy, error) {
	switch DeletePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DeleteKeepStock:
		return DeleteKeepStock, nil
	case DeleteRestock:
		return DeleteRestock, nil
	default:
		return "", fmt.Errorf("unknown delete policy %q", raw)
	}
}

// Dependencies — хранилища, с которыми работает движок. Outbox и Timeline опциональны.
type Dependencies struct {
	Orders   domain.OrderStore
	Catalog  domain.ProductCatalog
	Cashiers domain.CashierDirectory
	Outbox   domain.OutboxRepository
	Timeline domain.TimelineRepository
}

// Engine создаёт, изменяет и удаляет заказы, удерживая согласованными остатки и суммы.
// Безопасен для конкурентного использования.
type Engine struct {
	orders   domain.OrderStore
	catalog  domain.ProductCatalog
	cashiers domain.CashierDirectory
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository

	locks        *keyedLocker
	retry        RetryConfig
	deletePolicy DeletePolicy
	codePrefix   string
	codeAttempts int
	nextCode     func(prefix string) string
	now          func() time.Time

	logger  *log.Entry
	metrics *metrics.ReconcileMetrics
	tracer  trace.Tracer
}

// Option настраивает Engine.
type Option func(*Engine)

func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithRetryConfig(cfg RetryConfig) Option {
	return func(e *Engine) {
		e.retry = cfg.normalized()
	}
}

func WithDeletePolicy(policy DeletePolicy) Option {
	return func(e *Engine) {
		if policy != "" {
			e.deletePolicy = policy
		}
	}
}

func WithCodePrefix(prefix string) Option {
	return func(e *Engine) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			e.codePrefix = prefix
		}
	}
}

// WithCodeGenerator подменяет генератор кодов заказа.
func WithCodeGenerator(gen func(prefix string) string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.nextCode = gen
		}
	}
}

func WithCodeAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.codeAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracerProvider задаёт провайдер трейсов вместо глобального.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewEngine создаёт движок сверки.
func NewEngine(deps Dependencies, opts ...Option) *Engine {
	e := &Engine{
		orders:       deps.Orders,
		catalog:      deps.Catalog,
		cashiers:     deps.Cashiers,
		outbox:       deps.Outbox,
		timeline:     deps.Timeline,
		locks:        newKeyedLocker(),
		retry:        DefaultRetryConfig(),
		deletePolicy: DeleteKeepStock,
		codePrefix:   DefaultCodePrefix,
		codeAttempts: defaultCodeAttempts,
		nextCode:     RandomCode,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       log.New().WithField("component", "reconcile"),
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateOrder проверяет кассира и товары, списывает остатки одной пачкой и сохраняет заказ с позициями.
// Если любая позиция не проходит проверку, остатки не меняются.
func (e *Engine) CreateOrder(ctx context.Context, cashierID string, lines []domain.RequestedLine) (order domain.Order, err error) {
	ctx, finish := e.begin(ctx, opCreate, attribute.String("cashier.id", cashierID))
	defer func() { finish(err, false) }()

	requested, err := normalizeLines(lines)
	if err != nil {
		return domain.Order{}, err
	}
	cashierID = strings.TrimSpace(cashierID)
	if _, err := e.resolveCashier(ctx, cashierID); err != nil {
		return domain.Order{}, err
	}

	ids := lineProductIDs(requested)
	unlock := e.locks.Lock(productKeys(ids)...)
	defer unlock()

	products, applied, err := e.reconcileStock(ctx, ids, func(products map[string]domain.Product) ([]domain.StockChange, error) {
		changes := make([]domain.StockChange, 0, len(requested))
		total := decimal.Zero
		for _, line := range requested {
			p := products[line.ProductID]
			if p.Price.IsNegative() {
				return nil, domain.Validation(domain.ErrPriceNegative, "product %s has negative price", p.ID)
			}
			total = total.Add(domain.LineTotal(p.Price, line.Quantity))
			qty := int64(line.Quantity)
			if qty > p.Stock {
				return nil, domain.StockExceeded(domain.StockShortage{
					ProductID:   p.ID,
					ProductName: p.Name,
					Requested:   qty,
					Available:   p.Stock,
				})
			}
			changes = append(changes, domain.StockChange{ProductID: p.ID, Expected: p.Stock, Next: p.Stock - qty})
		}
		if err := checkTotal(total); err != nil {
			return nil, err
		}
		return changes, nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	now := e.now()
	order = domain.Order{
		ID:        uuid.NewString(),
		CashierID: cashierID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, line := range requested {
		order.Items = append(order.Items, domain.NewLineItem(order.ID, products[line.ProductID], line.Quantity))
	}
	order.Total = domain.SumLineTotals(order.Items)

	if err := e.persistNewOrder(ctx, &order); err != nil {
		e.compensate(ctx, applied, err)
		return domain.Order{}, err
	}

	e.emitEvent(ctx, order, domain.EventOrderCreated, "", map[string]interface{}{
		"code":       order.Code,
		"cashier_id": order.CashierID,
		"total":      order.Total.String(),
		"lines":      linesPayload(order.Items),
	})
	return order, nil
}

// persistNewOrder сохраняет заголовок и позиции в одной транзакции, подбирая свободный код.
func (e *Engine) persistNewOrder(ctx context.Context, order *domain.Order) error {
	for attempt := 1; attempt <= e.codeAttempts; attempt++ {
		order.Code = e.nextCode(e.codePrefix)
		err := e.orders.WithinTx(ctx, func(tx domain.OrderStore) error {
			if err := tx.CreateOrder(ctx, *order); err != nil {
				return err
			}
			return tx.CreateLineItems(ctx, order.Items)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrTotalOverflow) {
			return domain.Validation(domain.ErrTotalOverflow, "order total %s is out of range", order.Total)
		}
		if !errors.Is(err, domain.ErrOrderCodeTaken) {
			return domain.Unavailable(err, "persist order")
		}
		e.logger.WithFields(log.Fields{
			"code":    order.Code,
			"attempt": attempt,
		}).Warn("order code collision, generating a new one")
	}
	return domain.Conflict(domain.ErrOrderCodeTaken, "no free order code after %d attempts", e.codeAttempts)
}

// UpdateOrder сверяет запрошенные позиции с сохранёнными по ProductID и применяет только разницу.
// Пустой cashierID оставляет текущего кассира. Позиции, отсутствующие в запросе, не удаляются.
// Если заказ успел измениться в другом процессе, сверка повторяется по свежему состоянию.
func (e *Engine) UpdateOrder(ctx context.Context, orderID, cashierID string, lines []domain.RequestedLine) (result domain.UpdateResult, err error) {
	ctx, finish := e.begin(ctx, opUpdate, attribute.String("order.id", orderID))
	defer func() { finish(err, err == nil && !result.Changed) }()

	requested, err := normalizeLines(lines)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	cashierID = strings.TrimSpace(cashierID)

	keys := append([]string{orderKey(orderID)}, productKeys(lineProductIDs(requested))...)
	unlock := e.locks.Lock(keys...)
	defer unlock()

	err = e.retryOnOrderChange(ctx, orderID, func() error {
		var amendErr error
		result, amendErr = e.amendOrder(ctx, orderID, cashierID, requested)
		return amendErr
	})
	if err != nil {
		return domain.UpdateResult{}, err
	}
	return result, nil
}

// amendOrder выполняет одну попытку сверки. Резерв под увеличенные позиции списывается до записи,
// высвобождение уменьшенных возвращается на склад только после коммита.
func (e *Engine) amendOrder(ctx context.Context, orderID, cashierID string, requested []domain.RequestedLine) (domain.UpdateResult, error) {
	current, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return domain.UpdateResult{}, err
	}

	cashierChanged := cashierID != "" && cashierID != current.CashierID
	if cashierChanged {
		if _, err := e.resolveCashier(ctx, cashierID); err != nil {
			return domain.UpdateResult{}, err
		}
	}
	if !cashierChanged && sameLineSet(current.Items, requested) {
		return domain.UpdateResult{Changed: false, Message: domain.MessageOrderUnchanged, Order: current}, nil
	}

	changes := diffLines(current.Items, requested)
	grows, releases := splitChanges(changes)

	products, applied, err := e.reconcileStock(ctx, changeProductIDs(grows), func(products map[string]domain.Product) ([]domain.StockChange, error) {
		stock := make([]domain.StockChange, 0, len(grows))
		for _, ch := range grows {
			p := products[ch.ProductID]
			if !ch.Existing && p.Price.IsNegative() {
				return nil, domain.Validation(domain.ErrPriceNegative, "product %s has negative price", p.ID)
			}
			// Количество, уже зарезервированное этим заказом, учитывается в доступном.
			available := p.Stock + int64(ch.OldQty)
			if int64(ch.NewQty) > available {
				return nil, domain.StockExceeded(domain.StockShortage{
					ProductID:   p.ID,
					ProductName: p.Name,
					Requested:   int64(ch.NewQty),
					Available:   available,
				})
			}
			stock = append(stock, domain.StockChange{ProductID: p.ID, Expected: p.Stock, Next: available - int64(ch.NewQty)})
		}
		return stock, nil
	})
	if err != nil {
		return domain.UpdateResult{}, err
	}

	now := e.now()
	var updated, created []domain.LineItem
	items := make(map[string]domain.LineItem, len(current.Items)+len(changes))
	for _, item := range current.Items {
		items[item.ProductID] = item
	}
	for _, ch := range changes {
		if ch.Existing {
			item := ch.Current.WithQuantity(ch.NewQty)
			updated = append(updated, item)
			items[item.ProductID] = item
			continue
		}
		item := domain.NewLineItem(current.ID, products[ch.ProductID], ch.NewQty)
		created = append(created, item)
		items[item.ProductID] = item
	}

	order := current
	order.Items = make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		order.Items = append(order.Items, item)
	}
	sort.Slice(order.Items, func(i, j int) bool { return order.Items[i].ProductID < order.Items[j].ProductID })
	order.Total = domain.SumLineTotals(order.Items)
	if err := checkTotal(order.Total); err != nil {
		e.compensate(ctx, applied, err)
		return domain.UpdateResult{}, err
	}
	order.UpdatedAt = now
	if cashierChanged {
		order.CashierID = cashierID
	}

	err = e.orders.WithinTx(ctx, func(tx domain.OrderStore) error {
		locked, err := tx.LockOrder(ctx, current.ID)
		if err != nil {
			return err
		}
		if !sameOrderState(locked, current) {
			return errOrderChanged
		}
		if cashierChanged {
			if err := tx.ReassignCashier(ctx, order.ID, cashierID, now); err != nil {
				return err
			}
		}
		for _, item := range updated {
			if err := tx.UpdateLineItem(ctx, item); err != nil {
				return err
			}
		}
		if len(created) > 0 {
			if err := tx.CreateLineItems(ctx, created); err != nil {
				return err
			}
		}
		return tx.UpdateOrderTotal(ctx, order.ID, order.Total, now)
	})
	if err != nil {
		e.compensate(ctx, applied, err)
		switch {
		case errors.Is(err, errOrderChanged):
			return domain.UpdateResult{}, err
		case errors.Is(err, domain.ErrOrderNotFound):
			return domain.UpdateResult{}, domain.NotFound(domain.ErrOrderNotFound, "order %s not found", orderID)
		case errors.Is(err, domain.ErrTotalOverflow):
			return domain.UpdateResult{}, domain.Validation(domain.ErrTotalOverflow, "order %s total %s is out of range", orderID, order.Total)
		}
		return domain.UpdateResult{}, domain.Unavailable(err, "persist order %s", orderID)
	}

	e.release(ctx, releases)
	e.emitEvent(ctx, order, domain.EventOrderAmended, "", map[string]interface{}{
		"cashier_id":      order.CashierID,
		"cashier_changed": cashierChanged,
		"total":           order.Total.String(),
		"lines":           linesPayload(append(updated, created...)),
	})
	return domain.UpdateResult{Changed: true, Message: domain.MessageOrderUpdated, Order: order}, nil
}

// DeleteOrder удаляет позиции и заголовок заказа. При DeleteRestock количества возвращаются на склад
// после коммита, по состоянию заказа, заблокированному в транзакции удаления.
func (e *Engine) DeleteOrder(ctx context.Context, orderID string) (err error) {
	ctx, finish := e.begin(ctx, opDelete, attribute.String("order.id", orderID))
	defer func() { finish(err, false) }()

	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if e.deletePolicy == DeleteRestock && len(order.Items) > 0 {
		// Ключ заказа меньше ключей товаров, порядок захвата сохраняется.
		unlockProducts := e.locks.Lock(productKeys(itemProductIDs(order.Items))...)
		defer unlockProducts()
	}

	err = e.orders.WithinTx(ctx, func(tx domain.OrderStore) error {
		locked, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		order = locked
		if err := tx.DeleteLineItems(ctx, order.ID); err != nil {
			return err
		}
		return tx.DeleteOrder(ctx, order.ID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.NotFound(domain.ErrOrderNotFound, "order %s not found", orderID)
		}
		return domain.Unavailable(err, "delete order %s", orderID)
	}

	restocked := false
	if e.deletePolicy == DeleteRestock && len(order.Items) > 0 {
		deltas := make(map[string]int64, len(order.Items))
		for _, item := range order.Items {
			deltas[item.ProductID] += int64(item.Quantity)
		}
		restocked = e.release(ctx, deltas)
	}

	e.emitEvent(ctx, order, domain.EventOrderDeleted, string(e.deletePolicy), map[string]interface{}{
		"code":          order.Code,
		"stock_policy":  string(e.deletePolicy),
		"restocked":     restocked,
		"deleted_lines": len(order.Items),
	})
	return nil
}

// ListOrders возвращает страницу заголовков заказов. Чтение идёт напрямую из хранилища.
func (e *Engine) ListOrders(ctx context.Context, query domain.OrderQuery) (page domain.OrderPage, err error) {
	ctx, finish := e.begin(ctx, opList)
	defer func() { finish(err, false) }()

	query = query.Normalize()
	orders, err := e.orders.ListOrders(ctx, query)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuery) {
			return domain.OrderPage{}, domain.Validation(domain.ErrInvalidQuery, "%v", err)
		}
		return domain.OrderPage{}, domain.Unavailable(err, "list orders")
	}
	total, err := e.orders.CountOrders(ctx, query.Filter)
	if err != nil {
		return domain.OrderPage{}, domain.Unavailable(err, "count orders")
	}
	return domain.OrderPage{Orders: orders, Total: total, Offset: query.Offset, Limit: query.Limit}, nil
}

// GetOrder возвращает заказ с позициями и данными кассира.
// Если кассир уже удалён из справочника, возвращается только его ID.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (detail domain.OrderDetail, err error) {
	ctx, finish := e.begin(ctx, opGet, attribute.String("order.id", orderID))
	defer func() { finish(err, false) }()

	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	detail = domain.OrderDetail{Order: order, Cashier: domain.Cashier{ID: order.CashierID}}

	cashier, err := e.cashiers.GetCashier(ctx, order.CashierID)
	switch {
	case err == nil:
		detail.Cashier = cashier
	case errors.Is(err, domain.ErrCashierNotFound):
		e.logger.WithField("order_id", orderID).Debug("cashier of order no longer exists")
	default:
		return domain.OrderDetail{}, domain.Unavailable(err, "get cashier %s", order.CashierID)
	}
	return detail, nil
}

// Timeline возвращает историю событий заказа.
func (e *Engine) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if e.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	events, err := e.timeline.List(ctx, orderID)
	if err != nil {
		return nil, domain.Unavailable(err, "list timeline of order %s", orderID)
	}
	return events, nil
}

func (e *Engine) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, domain.NotFound(domain.ErrOrderNotFound, "order %s not found", orderID)
		}
		return domain.Order{}, domain.Unavailable(err, "get order %s", orderID)
	}
	return order, nil
}

func (e *Engine) resolveCashier(ctx context.Context, cashierID string) (domain.Cashier, error) {
	if strings.TrimSpace(cashierID) == "" {
		return domain.Cashier{}, domain.Validation(domain.ErrCashierRequired, "cashier_id is required")
	}
	cashier, err := e.cashiers.GetCashier(ctx, cashierID)
	if err != nil {
		if errors.Is(err, domain.ErrCashierNotFound) {
			return domain.Cashier{}, domain.NotFound(domain.ErrCashierNotFound, "cashier %s not found", cashierID)
		}
		return domain.Cashier{}, domain.Unavailable(err, "get cashier %s", cashierID)
	}
	return cashier, nil
}

// begin открывает span и возвращает функцию, которая фиксирует результат в span, метриках и логе.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error, noop bool)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "reconcile."+op, trace.WithAttributes(attrs...))
	if e.metrics != nil {
		e.metrics.OperationStarted()
	}

	return ctx, func(err error, noop bool) {
		result := resultOf(err, noop)
		if e.metrics != nil {
			e.metrics.OperationFinished()
			e.metrics.ObserveOperation(op, result, time.Since(start))
		}
		span.SetAttributes(attribute.String("reconcile.result", result))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			entry := e.logger.WithError(err).WithFields(log.Fields{"operation": op, "kind": domain.KindOf(err)})
			if domain.KindOf(err) == domain.KindUnavailable {
				entry.Error("order operation failed")
			} else {
				entry.Debug("order operation rejected")
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func resultOf(err error, noop bool) string {
	if err == nil {
		if noop {
			return metrics.ResultNoop
		}
		return metrics.ResultOK
	}
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return metrics.ResultNotFound
	case domain.KindValidation:
		return metrics.ResultValidation
	case domain.KindConflict:
		return metrics.ResultConflict
	default:
		return metrics.ResultUnavailable
	}
}

func (e *Engine) recordStockMovement(delta int64) {
	if e.metrics != nil {
		e.metrics.RecordStockMovement(delta)
	}
}

func (e *Engine) recordStockConflict() {
	if e.metrics != nil {
		e.metrics.RecordStockConflict()
	}
}

func (e *Engine) recordCompensation() {
	if e.metrics != nil {
		e.metrics.RecordCompensation()
	}
}
