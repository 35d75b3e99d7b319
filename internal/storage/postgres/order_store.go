package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	pgForeignKeyViolation = "23503"
	pgNumericOutOfRange   = "22003"
)

// querier — общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Колонки для сортировки. Значения из запроса в SQL не попадают.
var orderSortColumns = map[domain.OrderField]string{
	domain.FieldCode:      "code",
	domain.FieldCashierID: "cashier_id",
	domain.FieldTotal:     "total",
	domain.FieldCreatedAt: "created_at",
}

// Выражения для поиска по подстроке, в том же текстовом виде, что и domain.FieldValue.
var orderFilterExprs = map[domain.OrderField]string{
	domain.FieldCode:      "code",
	domain.FieldCashierID: "cashier_id",
	domain.FieldTotal:     "total::text",
	domain.FieldCreatedAt: `to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"')`,
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type orderStore struct {
	store *Store
	q     querier
	tx    *sql.Tx
}

// NewOrderStore создаёт PostgreSQL-реализацию OrderStore.
func NewOrderStore(store *Store) domain.OrderStore {
	return &orderStore{store: store, q: store.DB()}
}

func (r *orderStore) WithinTx(ctx context.Context, fn func(tx domain.OrderStore) error) (err error) {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&orderStore{store: r.store, q: tx, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *orderStore) CreateOrder(ctx context.Context, order domain.Order) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (id, code, cashier_id, total, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, order.ID, order.Code, order.CashierID, order.Total, order.CreatedAt.UTC(), order.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "orders_code_uidx" {
			return domain.ErrOrderCodeTaken
		}
		if isNumericOverflow(err) {
			return domain.ErrTotalOverflow
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderStore) CreateLineItems(ctx context.Context, items []domain.LineItem) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	for _, item := range items {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity, line_total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, item.OrderID, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity, item.LineTotal)
		if err == nil {
			continue
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return domain.ErrDuplicateLine
			case pgForeignKeyViolation:
				return domain.ErrOrderNotFound
			case pgNumericOutOfRange:
				return domain.ErrTotalOverflow
			}
		}
		return fmt.Errorf("insert line item %s/%s: %w", item.OrderID, item.ProductID, err)
	}
	return nil
}

func (r *orderStore) UpdateLineItem(ctx context.Context, item domain.LineItem) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE order_items
		SET quantity = $3, line_total = $4
		WHERE order_id = $1 AND product_id = $2
	`, item.OrderID, item.ProductID, item.Quantity, item.LineTotal)
	if err != nil {
		if isNumericOverflow(err) {
			return domain.ErrTotalOverflow
		}
		return fmt.Errorf("update line item: %w", err)
	}
	return expectAffected(res, domain.ErrOrderNotFound)
}

func (r *orderStore) UpdateOrderTotal(ctx context.Context, orderID string, total decimal.Decimal, updatedAt time.Time) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders SET total = $2, updated_at = $3 WHERE id = $1
	`, orderID, total, updatedAt.UTC())
	if err != nil {
		if isNumericOverflow(err) {
			return domain.ErrTotalOverflow
		}
		return fmt.Errorf("update order total: %w", err)
	}
	return expectAffected(res, domain.ErrOrderNotFound)
}

func (r *orderStore) ReassignCashier(ctx context.Context, orderID, cashierID string, updatedAt time.Time) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders SET cashier_id = $2, updated_at = $3 WHERE id = $1
	`, orderID, cashierID, updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("reassign cashier: %w", err)
	}
	return expectAffected(res, domain.ErrOrderNotFound)
}

func (r *orderStore) DeleteLineItems(ctx context.Context, orderID string) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete line items: %w", err)
	}
	return nil
}

func (r *orderStore) DeleteOrder(ctx context.Context, orderID string) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return expectAffected(res, domain.ErrOrderNotFound)
}

func (r *orderStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return r.getOrder(ctx, id, false)
}

// LockOrder берёт строку заказа FOR UPDATE, если вызван внутри транзакции.
func (r *orderStore) LockOrder(ctx context.Context, id string) (domain.Order, error) {
	return r.getOrder(ctx, id, r.tx != nil)
}

func (r *orderStore) getOrder(ctx context.Context, id string, forUpdate bool) (domain.Order, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	stmt := `
		SELECT id, code, cashier_id, total, created_at, updated_at
		FROM orders
		WHERE id = $1`
	if forUpdate {
		stmt += " FOR UPDATE"
	}
	order, err := scanOrder(r.q.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.listLineItems(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *orderStore) ListLineItems(ctx context.Context, orderID string) ([]domain.LineItem, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()
	return r.listLineItems(ctx, orderID)
}

func (r *orderStore) listLineItems(ctx context.Context, orderID string) ([]domain.LineItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, unit_price, quantity, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load line items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.OrderID, &item.ProductID, &item.ProductName, &item.UnitPrice, &item.Quantity, &item.LineTotal); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return items, nil
}

func (r *orderStore) ListOrders(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	query = query.Normalize()

	column, ok := orderSortColumns[query.Sort.Field]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported sort field %q", domain.ErrInvalidQuery, query.Sort.Field)
	}
	direction := "ASC"
	if query.Sort.Direction == domain.SortDesc {
		direction = "DESC"
	}

	where, args, err := filterClause(query.Filter)
	if err != nil {
		return nil, err
	}
	args = append(args, query.Limit, query.Offset)

	stmt := fmt.Sprintf(`
		SELECT id, code, cashier_id, total, created_at, updated_at
		FROM orders
		%s
		ORDER BY %s %s, id ASC
		LIMIT $%d OFFSET $%d
	`, where, column, direction, len(args)-1, len(args))

	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, query.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

func (r *orderStore) CountOrders(ctx context.Context, filter domain.Filter) (int, error) {
	where, args, err := filterClause(filter)
	if err != nil {
		return 0, err
	}

	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func filterClause(f domain.Filter) (string, []any, error) {
	if f.Empty() {
		return "", nil, nil
	}
	expr, ok := orderFilterExprs[f.Field]
	if !ok {
		return "", nil, fmt.Errorf("%w: unsupported filter field %q", domain.ErrInvalidQuery, f.Field)
	}
	return "WHERE " + expr + " ILIKE $1", []any{"%" + likeEscaper.Replace(f.Value) + "%"}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	if err := row.Scan(&order.ID, &order.Code, &order.CashierID, &order.Total, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func isNumericOverflow(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgNumericOutOfRange
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.OrderStore = (*orderStore)(nil)
