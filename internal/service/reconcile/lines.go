package reconcile

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// normalizeLines проверяет позиции запроса и сливает повторы одного товара в одну строку.
// Результат отсортирован по ProductID.
func normalizeLines(lines []domain.RequestedLine) ([]domain.RequestedLine, error) {
	if len(lines) == 0 {
		return nil, domain.Validation(domain.ErrLinesRequired, "order must contain at least one line")
	}

	merged := make(map[string]int64, len(lines))
	for i, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, domain.Validation(domain.ErrProductIDRequired, "line %d: product_id is required", i)
		}
		if line.Quantity < 1 {
			return nil, domain.Validation(domain.ErrInvalidQuantity, "line %d: quantity must be >= 1, got %d", i, line.Quantity)
		}
		merged[id] += int64(line.Quantity)
		if merged[id] > math.MaxInt32 {
			return nil, domain.Validation(domain.ErrInvalidQuantity, "product %s: quantity overflow", id)
		}
	}

	out := make([]domain.RequestedLine, 0, len(merged))
	for id, qty := range merged {
		out = append(out, domain.RequestedLine{ProductID: id, Quantity: int32(qty)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func lineProductIDs(lines []domain.RequestedLine) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

// lineChange — одна позиция, которую надо изменить при сверке заказа.
type lineChange struct {
	ProductID string
	OldQty    int32
	NewQty    int32
	Existing  bool
	Current   domain.LineItem
}

// diffLines сравнивает запрошенный набор с текущими позициями по ProductID.
// Позиции с тем же количеством не попадают в результат; отсутствующие в запросе не трогаются.
func diffLines(current []domain.LineItem, requested []domain.RequestedLine) []lineChange {
	byProduct := make(map[string]domain.LineItem, len(current))
	for _, item := range current {
		byProduct[item.ProductID] = item
	}

	changes := make([]lineChange, 0, len(requested))
	for _, req := range requested {
		item, ok := byProduct[req.ProductID]
		if ok && item.Quantity == req.Quantity {
			continue
		}
		ch := lineChange{ProductID: req.ProductID, NewQty: req.Quantity, Existing: ok}
		if ok {
			ch.OldQty = item.Quantity
			ch.Current = item
		}
		changes = append(changes, ch)
	}
	return changes
}

func changeProductIDs(changes []lineChange) []string {
	ids := make([]string, 0, len(changes))
	for _, ch := range changes {
		ids = append(ids, ch.ProductID)
	}
	return ids
}

// sameLineSet сравнивает наборы (ProductID, Quantity) целиком, без учёта порядка.
func sameLineSet(current []domain.LineItem, requested []domain.RequestedLine) bool {
	if len(current) != len(requested) {
		return false
	}
	byProduct := make(map[string]int32, len(current))
	for _, item := range current {
		byProduct[item.ProductID] = item.Quantity
	}
	for _, req := range requested {
		qty, ok := byProduct[req.ProductID]
		if !ok || qty != req.Quantity {
			return false
		}
	}
	return true
}

// splitChanges отделяет позиции, требующие резерва со склада, от позиций, которые возвращают остаток.
func splitChanges(changes []lineChange) (grows []lineChange, releases map[string]int64) {
	releases = make(map[string]int64)
	for _, ch := range changes {
		if ch.NewQty > ch.OldQty {
			grows = append(grows, ch)
			continue
		}
		releases[ch.ProductID] += int64(ch.OldQty - ch.NewQty)
	}
	return grows, releases
}

// sameOrderState проверяет, что заказ не менялся с момента чтения: кассир и количества позиций те же.
func sameOrderState(a, b domain.Order) bool {
	if a.CashierID != b.CashierID || len(a.Items) != len(b.Items) {
		return false
	}
	byProduct := make(map[string]int32, len(a.Items))
	for _, item := range a.Items {
		byProduct[item.ProductID] = item.Quantity
	}
	for _, item := range b.Items {
		qty, ok := byProduct[item.ProductID]
		if !ok || qty != item.Quantity {
			return false
		}
	}
	return true
}

func itemProductIDs(items []domain.LineItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// checkTotal отклоняет сумму, которую хранилище не сможет записать.
func checkTotal(total decimal.Decimal) error {
	if total.GreaterThan(domain.MaxOrderTotal) {
		return domain.Validation(domain.ErrTotalOverflow, "order total %s exceeds %s", total, domain.MaxOrderTotal)
	}
	return nil
}
