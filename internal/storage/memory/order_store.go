package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// orderState — снимок данных хранилища. Транзакция работает над копией и подменяет её при успехе.
type orderState struct {
	orders map[string]domain.Order
	items  map[string]map[string]domain.LineItem
	codes  map[string]string
}

func newOrderState() *orderState {
	return &orderState{
		orders: make(map[string]domain.Order),
		items:  make(map[string]map[string]domain.LineItem),
		codes:  make(map[string]string),
	}
}

func (s *orderState) clone() *orderState {
	c := &orderState{
		orders: make(map[string]domain.Order, len(s.orders)),
		items:  make(map[string]map[string]domain.LineItem, len(s.items)),
		codes:  make(map[string]string, len(s.codes)),
	}
	for id, o := range s.orders {
		c.orders[id] = o
	}
	for id, lines := range s.items {
		cp := make(map[string]domain.LineItem, len(lines))
		for pid, li := range lines {
			cp[pid] = li
		}
		c.items[id] = cp
	}
	for code, id := range s.codes {
		c.codes[code] = id
	}
	return c
}

// orderStoreInMemory — in-memory OrderStore. Экземпляр внутри WithinTx разделяет mu с родителем
// и работает без блокировок, потому что родитель уже держит запись.
type orderStoreInMemory struct {
	mu    *sync.RWMutex
	state *orderState
	inTx  bool
}

// NewOrderStore возвращает in-memory хранилище заказов для локальной разработки и тестов.
func NewOrderStore() domain.OrderStore {
	return &orderStoreInMemory{mu: &sync.RWMutex{}, state: newOrderState()}
}

func (r *orderStoreInMemory) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *orderStoreInMemory) rlock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

// WithinTx выполняет fn над копией состояния; копия публикуется, только если fn вернул nil.
func (r *orderStoreInMemory) WithinTx(ctx context.Context, fn func(tx domain.OrderStore) error) error {
	if r.inTx {
		return fn(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &orderStoreInMemory{mu: r.mu, state: r.state.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *orderStoreInMemory) CreateOrder(_ context.Context, order domain.Order) error {
	defer r.lock()()

	if _, exists := r.state.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	if _, taken := r.state.codes[order.Code]; taken {
		return domain.ErrOrderCodeTaken
	}
	order.Items = nil
	r.state.orders[order.ID] = order
	r.state.codes[order.Code] = order.ID
	return nil
}

func (r *orderStoreInMemory) CreateLineItems(_ context.Context, items []domain.LineItem) error {
	defer r.lock()()

	for _, item := range items {
		if _, ok := r.state.orders[item.OrderID]; !ok {
			return domain.ErrOrderNotFound
		}
		lines := r.state.items[item.OrderID]
		if lines == nil {
			lines = make(map[string]domain.LineItem)
			r.state.items[item.OrderID] = lines
		}
		if _, dup := lines[item.ProductID]; dup {
			return domain.ErrDuplicateLine
		}
		lines[item.ProductID] = item
	}
	return nil
}

func (r *orderStoreInMemory) UpdateLineItem(_ context.Context, item domain.LineItem) error {
	defer r.lock()()

	lines := r.state.items[item.OrderID]
	current, ok := lines[item.ProductID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	current.Quantity = item.Quantity
	current.LineTotal = item.LineTotal
	lines[item.ProductID] = current
	return nil
}

func (r *orderStoreInMemory) UpdateOrderTotal(_ context.Context, orderID string, total decimal.Decimal, updatedAt time.Time) error {
	defer r.lock()()

	order, ok := r.state.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Total = total
	order.UpdatedAt = updatedAt
	r.state.orders[orderID] = order
	return nil
}

func (r *orderStoreInMemory) ReassignCashier(_ context.Context, orderID, cashierID string, updatedAt time.Time) error {
	defer r.lock()()

	order, ok := r.state.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.CashierID = cashierID
	order.UpdatedAt = updatedAt
	r.state.orders[orderID] = order
	return nil
}

func (r *orderStoreInMemory) DeleteLineItems(_ context.Context, orderID string) error {
	defer r.lock()()
	delete(r.state.items, orderID)
	return nil
}

func (r *orderStoreInMemory) DeleteOrder(_ context.Context, orderID string) error {
	defer r.lock()()

	order, ok := r.state.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.state.orders, orderID)
	delete(r.state.codes, order.Code)
	return nil
}

func (r *orderStoreInMemory) GetOrder(_ context.Context, id string) (domain.Order, error) {
	defer r.rlock()()

	order, ok := r.state.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order.Items = r.state.sortedItems(id)
	return order, nil
}

// LockOrder не берёт отдельной блокировки: транзакция и так выполняется под записью mu.
func (r *orderStoreInMemory) LockOrder(ctx context.Context, id string) (domain.Order, error) {
	return r.GetOrder(ctx, id)
}

func (r *orderStoreInMemory) ListLineItems(_ context.Context, orderID string) ([]domain.LineItem, error) {
	defer r.rlock()()
	return r.state.sortedItems(orderID), nil
}

func (r *orderStoreInMemory) ListOrders(_ context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	query = query.Normalize()
	defer r.rlock()()

	result := r.state.filter(query.Filter)
	sortOrders(result, query.Sort)

	if query.Offset >= len(result) {
		return []domain.Order{}, nil
	}
	end := query.Offset + query.Limit
	if end > len(result) {
		end = len(result)
	}
	return result[query.Offset:end], nil
}

func (r *orderStoreInMemory) CountOrders(_ context.Context, filter domain.Filter) (int, error) {
	defer r.rlock()()
	return len(r.state.filter(filter)), nil
}

func (s *orderState) sortedItems(orderID string) []domain.LineItem {
	lines := s.items[orderID]
	items := make([]domain.LineItem, 0, len(lines))
	for _, li := range lines {
		items = append(items, li)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProductID < items[j].ProductID
	})
	return items
}

// filter — поиск по подстроке без учёта регистра (case folding, а не ToLower).
func (s *orderState) filter(f domain.Filter) []domain.Order {
	result := make([]domain.Order, 0, len(s.orders))
	if f.Empty() {
		for _, o := range s.orders {
			result = append(result, o)
		}
		return result
	}

	folder := cases.Fold()
	needle := folder.String(f.Value)
	for _, o := range s.orders {
		if strings.Contains(folder.String(domain.FieldValue(o, f.Field)), needle) {
			result = append(result, o)
		}
	}
	return result
}

func sortOrders(orders []domain.Order, by domain.Sort) {
	sort.Slice(orders, func(i, j int) bool {
		c := compareOrders(orders[i], orders[j], by.Field)
		if c == 0 {
			return orders[i].ID < orders[j].ID
		}
		if by.Direction == domain.SortDesc {
			return c > 0
		}
		return c < 0
	})
}

func compareOrders(a, b domain.Order, field domain.OrderField) int {
	switch field {
	case domain.FieldTotal:
		return a.Total.Cmp(b.Total)
	case domain.FieldCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case domain.FieldCashierID:
		return strings.Compare(a.CashierID, b.CashierID)
	default:
		return strings.Compare(a.Code, b.Code)
	}
}

var _ domain.OrderStore = (*orderStoreInMemory)(nil)
