package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// ProductCatalog — in-memory каталог товаров для локальной разработки и тестов.
type ProductCatalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewProductCatalog создаёт каталог с начальным набором товаров.
func NewProductCatalog(products ...domain.Product) *ProductCatalog {
	c := &ProductCatalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Upsert добавляет или заменяет товар.
func (c *ProductCatalog) Upsert(_ context.Context, product domain.Product) error {
	if product.Stock < 0 {
		return fmt.Errorf("product %s: negative stock %d", product.ID, product.Stock)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[product.ID] = product
	return nil
}

func (c *ProductCatalog) GetProduct(_ context.Context, id string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (c *ProductCatalog) SetStock(_ context.Context, id string, stock int64) error {
	if stock < 0 {
		return fmt.Errorf("product %s: negative stock %d", id, stock)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Stock = stock
	c.products[id] = p
	return nil
}

// ApplyStock сначала проверяет всю пачку и только потом пишет.
func (c *ProductCatalog) ApplyStock(_ context.Context, changes []domain.StockChange) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(changes))
	for _, ch := range changes {
		if _, dup := seen[ch.ProductID]; dup {
			return fmt.Errorf("duplicate stock change for product %s", ch.ProductID)
		}
		seen[ch.ProductID] = struct{}{}

		p, ok := c.products[ch.ProductID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if ch.Next < 0 {
			return fmt.Errorf("product %s: negative stock %d", ch.ProductID, ch.Next)
		}
		if p.Stock != ch.Expected {
			return domain.ErrStockConflict
		}
	}

	for _, ch := range changes {
		p := c.products[ch.ProductID]
		p.Stock = ch.Next
		c.products[ch.ProductID] = p
	}
	return nil
}

var _ domain.ProductCatalog = (*ProductCatalog)(nil)

// CashierDirectory — in-memory справочник кассиров.
type CashierDirectory struct {
	mu       sync.RWMutex
	cashiers map[string]domain.Cashier
}

// NewCashierDirectory создаёт справочник с начальным набором кассиров.
func NewCashierDirectory(cashiers ...domain.Cashier) *CashierDirectory {
	d := &CashierDirectory{cashiers: make(map[string]domain.Cashier, len(cashiers))}
	for _, c := range cashiers {
		d.cashiers[c.ID] = c
	}
	return d
}

// Upsert добавляет или заменяет кассира.
func (d *CashierDirectory) Upsert(_ context.Context, cashier domain.Cashier) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cashiers[cashier.ID] = cashier
	return nil
}

func (d *CashierDirectory) GetCashier(_ context.Context, id string) (domain.Cashier, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.cashiers[id]
	if !ok {
		return domain.Cashier{}, domain.ErrCashierNotFound
	}
	return c, nil
}

var _ domain.CashierDirectory = (*CashierDirectory)(nil)
