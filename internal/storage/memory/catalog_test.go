package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestProductCatalog_ApplyStockAllOrNothing(t *testing.T) {
	ctx := context.Background()
	catalog := NewProductCatalog(
		domain.Product{ID: "p1", Name: "Coffee", Price: decimal.NewFromInt(100), Stock: 10},
		domain.Product{ID: "p2", Name: "Tea", Price: decimal.NewFromInt(50), Stock: 4},
	)

	err := catalog.ApplyStock(ctx, []domain.StockChange{
		{ProductID: "p1", Expected: 10, Next: 7},
		{ProductID: "p2", Expected: 3, Next: 1},
	})
	require.ErrorIs(t, err, domain.ErrStockConflict)

	p1, err := catalog.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p1.Stock, "stale batch must not touch other products")

	require.NoError(t, catalog.ApplyStock(ctx, []domain.StockChange{
		{ProductID: "p1", Expected: 10, Next: 7},
		{ProductID: "p2", Expected: 4, Next: 1},
	}))
	p1, _ = catalog.GetProduct(ctx, "p1")
	p2, _ := catalog.GetProduct(ctx, "p2")
	assert.Equal(t, int64(7), p1.Stock)
	assert.Equal(t, int64(1), p2.Stock)
}

func TestProductCatalog_ApplyStockRejectsInvalidBatch(t *testing.T) {
	ctx := context.Background()
	catalog := NewProductCatalog(domain.Product{ID: "p1", Stock: 2})

	tests := []struct {
		name    string
		changes []domain.StockChange
		wantErr error
	}{
		{name: "unknown product", changes: []domain.StockChange{{ProductID: "nope", Expected: 0, Next: 1}}, wantErr: domain.ErrProductNotFound},
		{name: "negative result", changes: []domain.StockChange{{ProductID: "p1", Expected: 2, Next: -1}}},
		{name: "duplicate product", changes: []domain.StockChange{
			{ProductID: "p1", Expected: 2, Next: 1},
			{ProductID: "p1", Expected: 1, Next: 0},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := catalog.ApplyStock(ctx, tt.changes)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
			p, _ := catalog.GetProduct(ctx, "p1")
			assert.Equal(t, int64(2), p.Stock)
		})
	}
}

func TestProductCatalog_SetStockAndUpsert(t *testing.T) {
	ctx := context.Background()
	catalog := NewProductCatalog()

	require.ErrorIs(t, catalog.SetStock(ctx, "p1", 5), domain.ErrProductNotFound)
	require.NoError(t, catalog.Upsert(ctx, domain.Product{ID: "p1", Name: "Milk", Stock: 1}))
	require.NoError(t, catalog.SetStock(ctx, "p1", 5))
	require.Error(t, catalog.SetStock(ctx, "p1", -1))

	p, err := catalog.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Stock)
}

func TestCashierDirectory_GetCashier(t *testing.T) {
	ctx := context.Background()
	dir := NewCashierDirectory(domain.Cashier{ID: "c1", Name: "Alice"})

	c, err := dir.GetCashier(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)

	_, err = dir.GetCashier(ctx, "c2")
	assert.ErrorIs(t, err, domain.ErrCashierNotFound)
}
