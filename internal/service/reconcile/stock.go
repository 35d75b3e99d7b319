package reconcile

import (
	"context"
	"errors"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// errOrderChanged — заказ изменился между чтением и транзакцией записи.
var errOrderChanged = errors.New("order changed concurrently")

// stockPlan по свежему снимку товаров строит набор CAS-изменений или возвращает ошибку валидации.
type stockPlan func(products map[string]domain.Product) ([]domain.StockChange, error)

// reconcileStock читает товары, строит план и применяет его одной пачкой.
// При ErrStockConflict цикл чтение/проверка/запись повторяется с экспоненциальной задержкой.
// Возвращает снимок товаров, по которому был построен применённый план.
func (e *Engine) reconcileStock(ctx context.Context, productIDs []string, plan stockPlan) (map[string]domain.Product, []domain.StockChange, error) {
	delay := e.retry.InitialDelay
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		products, err := e.loadProducts(ctx, productIDs)
		if err != nil {
			return nil, nil, err
		}

		changes, err := plan(products)
		if err != nil {
			return nil, nil, err
		}
		if len(changes) == 0 {
			return products, nil, nil
		}

		err = e.catalog.ApplyStock(ctx, changes)
		switch {
		case err == nil:
			for _, ch := range changes {
				e.recordStockMovement(ch.Delta())
			}
			return products, changes, nil
		case errors.Is(err, domain.ErrStockConflict):
			e.recordStockConflict()
			e.logger.WithFields(log.Fields{
				"attempt":  attempt,
				"products": productIDs,
			}).Debug("stock changed concurrently, retrying")
		case errors.Is(err, domain.ErrProductNotFound):
			return nil, nil, domain.NotFound(domain.ErrProductNotFound, "product disappeared while applying stock")
		default:
			return nil, nil, domain.Unavailable(err, "apply stock")
		}

		if attempt < e.retry.MaxAttempts {
			if err := sleep(ctx, delay); err != nil {
				return nil, nil, domain.Unavailable(err, "wait for stock retry")
			}
			delay = e.retry.next(delay)
		}
	}
	return nil, nil, domain.Conflict(domain.ErrStockConflict, "stock kept changing after %d attempts", e.retry.MaxAttempts)
}

// retryOnOrderChange повторяет attempt, пока заказ успевает измениться в другом процессе
// между чтением и записью.
func (e *Engine) retryOnOrderChange(ctx context.Context, orderID string, attempt func() error) error {
	delay := e.retry.InitialDelay
	for n := 1; ; n++ {
		err := attempt()
		if !errors.Is(err, errOrderChanged) {
			return err
		}
		e.recordStockConflict()
		if n >= e.retry.MaxAttempts {
			return domain.Conflict(domain.ErrStockConflict, "order %s kept changing after %d attempts", orderID, n)
		}
		e.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  n,
		}).Debug("order changed concurrently, retrying")
		if err := sleep(ctx, delay); err != nil {
			return domain.Unavailable(err, "wait for order retry")
		}
		delay = e.retry.next(delay)
	}
}

func (e *Engine) loadProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		p, err := e.catalog.GetProduct(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return nil, domain.NotFound(domain.ErrProductNotFound, "product %s not found", id)
			}
			return nil, domain.Unavailable(err, "get product %s", id)
		}
		products[id] = p
	}
	return products, nil
}

// adjustPlan сдвигает остатки на заданные дельты относительно текущих значений.
func adjustPlan(deltas map[string]int64) stockPlan {
	return func(products map[string]domain.Product) ([]domain.StockChange, error) {
		ids := make([]string, 0, len(deltas))
		for id := range deltas {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		changes := make([]domain.StockChange, 0, len(ids))
		for _, id := range ids {
			d := deltas[id]
			if d == 0 {
				continue
			}
			p := products[id]
			next := p.Stock + d
			if next < 0 {
				return nil, domain.StockExceeded(domain.StockShortage{
					ProductID:   id,
					ProductName: p.Name,
					Requested:   -d,
					Available:   p.Stock,
				})
			}
			changes = append(changes, domain.StockChange{ProductID: id, Expected: p.Stock, Next: next})
		}
		return changes, nil
	}
}

// compensate откатывает применённые изменения, если запись заказа не удалась.
// Выполняется даже при отменённом контексте запроса.
func (e *Engine) compensate(ctx context.Context, applied []domain.StockChange, cause error) {
	if len(applied) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	deltas := make(map[string]int64, len(applied))
	ids := make([]string, 0, len(applied))
	for _, ch := range applied {
		deltas[ch.ProductID] -= ch.Delta()
		ids = append(ids, ch.ProductID)
	}

	e.recordCompensation()
	if _, _, err := e.reconcileStock(ctx, ids, adjustPlan(deltas)); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"cause":  cause,
			"deltas": deltas,
		}).Error("stock compensation failed, manual reconciliation required")
		return
	}
	e.logger.WithError(cause).WithField("products", ids).Warn("stock compensated after failed order write")
}

// release возвращает единицы на склад после того, как запись заказа закоммичена.
// Выполняется даже при отменённом контексте запроса. Возвращает false, если остаток не удалось вернуть.
func (e *Engine) release(ctx context.Context, deltas map[string]int64) bool {
	ids := make([]string, 0, len(deltas))
	for id, d := range deltas {
		if d != 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return false
	}
	sort.Strings(ids)

	if _, _, err := e.reconcileStock(context.WithoutCancel(ctx), ids, adjustPlan(deltas)); err != nil {
		e.logger.WithError(err).WithField("deltas", deltas).Error("stock release failed, manual reconciliation required")
		return false
	}
	return true
}
