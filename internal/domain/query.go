package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPageSize = 5
	MaxPageSize     = 100
)

// OrderField — поле заказа, доступное для фильтрации и сортировки.
type OrderField string

const (
	FieldCode      OrderField = "code"
	FieldCashierID OrderField = "cashierId"
	FieldTotal     OrderField = "total"
	FieldCreatedAt OrderField = "createdAt"
)

// ParseOrderField принимает имя поля без учёта регистра.
func ParseOrderField(raw string) (OrderField, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "code", "orderid", "order_code":
		return FieldCode, nil
	case "cashierid", "cashier_id", "cashier":
		return FieldCashierID, nil
	case "total":
		return FieldTotal, nil
	case "createdat", "created_at":
		return FieldCreatedAt, nil
	default:
		return "", fmt.Errorf("%w: unknown field %q", ErrInvalidQuery, raw)
	}
}

// FieldValue возвращает строковое представление поля для поиска по подстроке.
func FieldValue(o Order, field OrderField) string {
	switch field {
	case FieldCode:
		return o.Code
	case FieldCashierID:
		return o.CashierID
	case FieldTotal:
		return o.Total.String()
	case FieldCreatedAt:
		return o.CreatedAt.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// Filter — поиск "field:value" без учёта регистра. Нулевое значение означает "без фильтра".
type Filter struct {
	Field OrderField
	Value string
}

// Empty сообщает, что фильтр не задан.
func (f Filter) Empty() bool {
	return f.Field == "" || f.Value == ""
}

// ParseFilter разбирает строку вида "field:value". Значение может содержать ':'.
func ParseFilter(raw string) (Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Filter{}, nil
	}
	name, value, ok := strings.Cut(raw, ":")
	if !ok {
		return Filter{}, fmt.Errorf("%w: filter must look like field:value", ErrInvalidQuery)
	}
	field, err := ParseOrderField(name)
	if err != nil {
		return Filter{}, err
	}
	return Filter{Field: field, Value: strings.TrimSpace(value)}, nil
}

// SortDirection — направление сортировки.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Sort — одно поле и направление.
type Sort struct {
	Field     OrderField
	Direction SortDirection
}

// DefaultSort — code:asc.
func DefaultSort() Sort {
	return Sort{Field: FieldCode, Direction: SortAsc}
}

// ParseSort разбирает строку "field:direction". Пустая строка даёт сортировку по умолчанию.
func ParseSort(raw string) (Sort, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultSort(), nil
	}
	name, dir, _ := strings.Cut(raw, ":")
	field, err := ParseOrderField(name)
	if err != nil {
		return Sort{}, err
	}
	switch SortDirection(strings.ToLower(strings.TrimSpace(dir))) {
	case "", SortAsc:
		return Sort{Field: field, Direction: SortAsc}, nil
	case SortDesc:
		return Sort{Field: field, Direction: SortDesc}, nil
	default:
		return Sort{}, fmt.Errorf("%w: unknown sort direction %q", ErrInvalidQuery, dir)
	}
}

// OrderQuery — параметры ListOrders.
type OrderQuery struct {
	Filter Filter
	Sort   Sort
	Offset int
	Limit  int
}

// Normalize подставляет значения по умолчанию и ограничивает размер страницы.
func (q OrderQuery) Normalize() OrderQuery {
	if q.Sort.Field == "" {
		q.Sort = DefaultSort()
	}
	if q.Sort.Direction == "" {
		q.Sort.Direction = SortAsc
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// PageQuery переводит номер страницы (с 1) и её размер в offset/limit.
func PageQuery(pageNumber, pageSize int) (offset, limit int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if pageNumber < 1 {
		pageNumber = 1
	}
	return (pageNumber - 1) * pageSize, pageSize
}

// OrderPage — одна страница результата ListOrders.
type OrderPage struct {
	Orders []Order
	Total  int
	Offset int
	Limit  int
}

// PageNumber возвращает номер текущей страницы, начиная с 1.
func (p OrderPage) PageNumber() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// TotalPages возвращает количество страниц.
func (p OrderPage) TotalPages() int {
	if p.Limit <= 0 || p.Total == 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

func (p OrderPage) HasPrevious() bool {
	return p.Offset > 0
}

func (p OrderPage) HasNext() bool {
	return p.Offset+len(p.Orders) < p.Total
}
