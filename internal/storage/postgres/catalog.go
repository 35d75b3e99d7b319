package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type productRow struct {
	ID    string          `db:"id"`
	Name  string          `db:"name"`
	Price decimal.Decimal `db:"price"`
	Stock int64           `db:"stock"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{ID: r.ID, Name: r.Name, Price: r.Price, Stock: r.Stock}
}

// ProductCatalog — каталог товаров в PostgreSQL.
type ProductCatalog struct {
	store *Store
	db    *sqlx.DB
}

// NewProductCatalog создаёт каталог поверх общего пула.
func NewProductCatalog(store *Store) *ProductCatalog {
	return &ProductCatalog{store: store, db: store.X()}
}

// Upsert добавляет товар или обновляет его название, цену и остаток.
func (c *ProductCatalog) Upsert(ctx context.Context, product domain.Product) error {
	if product.Stock < 0 {
		return fmt.Errorf("product %s: negative stock %d", product.ID, product.Stock)
	}
	ctx, cancel := c.store.withTimeout(ctx)
	defer cancel()

	_, err := c.db.NamedExecContext(ctx, `
		INSERT INTO products (id, name, price, stock, updated_at)
		VALUES (:id, :name, :price, :stock, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock, updated_at = NOW()
	`, productRow{ID: product.ID, Name: product.Name, Price: product.Price, Stock: product.Stock})
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	return nil
}

func (c *ProductCatalog) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := c.store.withTimeout(ctx)
	defer cancel()

	var row productRow
	err := c.db.GetContext(ctx, &row, `SELECT id, name, price, stock FROM products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (c *ProductCatalog) SetStock(ctx context.Context, id string, stock int64) error {
	if stock < 0 {
		return fmt.Errorf("product %s: negative stock %d", id, stock)
	}
	ctx, cancel := c.store.withTimeout(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`, id, stock)
	if err != nil {
		return fmt.Errorf("set stock %s: %w", id, err)
	}
	return expectAffected(res, domain.ErrProductNotFound)
}

// ApplyStock пишет все изменения в одной транзакции. Каждое UPDATE условно по
// ожидаемому остатку; первое несовпадение откатывает всю пачку.
func (c *ProductCatalog) ApplyStock(ctx context.Context, changes []domain.StockChange) (err error) {
	seen := make(map[string]struct{}, len(changes))
	for _, ch := range changes {
		if _, dup := seen[ch.ProductID]; dup {
			return fmt.Errorf("duplicate stock change for product %s", ch.ProductID)
		}
		seen[ch.ProductID] = struct{}{}
		if ch.Next < 0 {
			return fmt.Errorf("product %s: negative stock %d", ch.ProductID, ch.Next)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	ctx, cancel := c.store.withTimeout(ctx)
	defer cancel()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stock tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, ch := range changes {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE products SET stock = $3, updated_at = $4
			WHERE id = $1 AND stock = $2
		`, ch.ProductID, ch.Expected, ch.Next, now)
		if err != nil {
			return fmt.Errorf("apply stock %s: %w", ch.ProductID, err)
		}
		var affected int64
		if affected, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 1 {
			continue
		}

		var exists bool
		if err = tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, ch.ProductID); err != nil {
			return fmt.Errorf("check product %s: %w", ch.ProductID, err)
		}
		if !exists {
			err = domain.ErrProductNotFound
		} else {
			err = domain.ErrStockConflict
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit stock tx: %w", err)
	}
	return nil
}

var _ domain.ProductCatalog = (*ProductCatalog)(nil)

type cashierRow struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}

// CashierDirectory — справочник кассиров в PostgreSQL.
type CashierDirectory struct {
	store *Store
	db    *sqlx.DB
}

// NewCashierDirectory создаёт справочник поверх общего пула.
func NewCashierDirectory(store *Store) *CashierDirectory {
	return &CashierDirectory{store: store, db: store.X()}
}

// Upsert добавляет кассира или меняет его имя.
func (d *CashierDirectory) Upsert(ctx context.Context, cashier domain.Cashier) error {
	ctx, cancel := d.store.withTimeout(ctx)
	defer cancel()

	_, err := d.db.NamedExecContext(ctx, `
		INSERT INTO cashiers (id, name) VALUES (:id, :name)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, cashierRow{ID: cashier.ID, Name: cashier.Name})
	if err != nil {
		return fmt.Errorf("upsert cashier %s: %w", cashier.ID, err)
	}
	return nil
}

func (d *CashierDirectory) GetCashier(ctx context.Context, id string) (domain.Cashier, error) {
	ctx, cancel := d.store.withTimeout(ctx)
	defer cancel()

	var row cashierRow
	if err := d.db.GetContext(ctx, &row, `SELECT id, name FROM cashiers WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cashier{}, domain.ErrCashierNotFound
		}
		return domain.Cashier{}, fmt.Errorf("select cashier %s: %w", id, err)
	}
	return domain.Cashier{ID: row.ID, Name: row.Name}, nil
}

var _ domain.CashierDirectory = (*CashierDirectory)(nil)
