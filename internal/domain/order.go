package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Сообщения результата UpdateOrder.
const (
	MessageOrderUpdated   = "successfully updated the order"
	MessageOrderUnchanged = "successfully updated the order without data changes"
)

// MaxOrderTotal — наибольшая сумма заказа, которую можно сохранить (NUMERIC(14, 2)).
var MaxOrderTotal = decimal.RequireFromString("999999999999.99")

// LineItem — одна позиция заказа. Название и цена фиксируются на момент добавления.
type LineItem struct {
	OrderID     string
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int32
	LineTotal   decimal.Decimal
}

// NewLineItem создаёт позицию со снимком названия и цены товара.
func NewLineItem(orderID string, product Product, quantity int32) LineItem {
	return LineItem{
		OrderID:     orderID,
		ProductID:   product.ID,
		ProductName: product.Name,
		UnitPrice:   product.Price,
		Quantity:    quantity,
		LineTotal:   LineTotal(product.Price, quantity),
	}
}

// WithQuantity возвращает копию позиции с новым количеством, пересчитывая сумму по зафиксированной цене.
func (li LineItem) WithQuantity(quantity int32) LineItem {
	li.Quantity = quantity
	li.LineTotal = LineTotal(li.UnitPrice, quantity)
	return li
}

// LineTotal = price × quantity.
func LineTotal(price decimal.Decimal, quantity int32) decimal.Decimal {
	return price.Mul(decimal.NewFromInt32(quantity))
}

// SumLineTotals суммирует позиции заказа.
func SumLineTotals(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal)
	}
	return total
}

// Order — продажа: кассир, итог и позиции.
type Order struct {
	ID        string
	Code      string
	CashierID string
	Total     decimal.Decimal
	Items     []LineItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item возвращает позицию по товару.
func (o *Order) Item(productID string) (LineItem, bool) {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return LineItem{}, false
}

// ValidateInvariants проверяет инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CashierID == "" {
		errs = append(errs, ErrCashierRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrLinesRequired)
	}

	seen := make(map[string]struct{}, len(o.Items))
	for _, item := range o.Items {
		if item.Quantity < 1 {
			errs = append(errs, ErrInvalidQuantity)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrPriceNegative)
		}
		if _, dup := seen[item.ProductID]; dup {
			errs = append(errs, ErrDuplicateLine)
		}
		seen[item.ProductID] = struct{}{}
	}

	if !o.Total.Equal(SumLineTotals(o.Items)) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// RequestedLine — позиция из запроса клиента.
type RequestedLine struct {
	ProductID string
	Quantity  int32
}

// UpdateResult — результат UpdateOrder.
type UpdateResult struct {
	Changed bool
	Message string
	Order   Order
}

// OrderDetail — заказ вместе с данными кассира.
type OrderDetail struct {
	Order
	Cashier Cashier
}
