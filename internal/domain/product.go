package domain

import "github.com/shopspring/decimal"

// Product — товар каталога. Stock меняется только движком сверки.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int64
}

// Cashier — пользователь, оформивший продажу.
type Cashier struct {
	ID   string
	Name string
}

// StockChange — compare-and-set для одного товара: записать Next, если текущий остаток равен Expected.
type StockChange struct {
	ProductID string
	Expected  int64
	Next      int64
}

// Delta возвращает изменение остатка.
func (c StockChange) Delta() int64 {
	return c.Next - c.Expected
}
