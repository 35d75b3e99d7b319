package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// helper для создания заказа с двумя позициями.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	tea := domain.Product{ID: "p-1", Name: "Tea", Price: decimal.RequireFromString("2.50"), Stock: 10}
	cake := domain.Product{ID: "p-2", Name: "Cake", Price: decimal.NewFromInt(4), Stock: 3}

	items := []domain.LineItem{
		domain.NewLineItem("order-1", tea, 4),
		domain.NewLineItem("order-1", cake, 1),
	}
	return domain.Order{
		ID:        "order-1",
		Code:      "MID-12345",
		CashierID: "cashier-1",
		Total:     domain.SumLineTotals(items),
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNewLineItem_SnapshotsPrice(t *testing.T) {
	order := makeOrder()

	if !order.Items[0].LineTotal.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected line total 10, got %s", order.Items[0].LineTotal)
	}
	if !order.Total.Equal(decimal.NewFromInt(14)) {
		t.Fatalf("expected total 14, got %s", order.Total)
	}

	updated := order.Items[0].WithQuantity(6)
	if !updated.LineTotal.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected line total 15 after requantify, got %s", updated.LineTotal)
	}
	if !updated.UnitPrice.Equal(order.Items[0].UnitPrice) {
		t.Fatal("unit price snapshot must not change")
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no cashier",
			mut:  func(o *domain.Order) { o.CashierID = "" },
			want: domain.ErrCashierRequired,
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
				o.Total = decimal.Zero
			},
			want: domain.ErrLinesRequired,
		},
		{
			name: "zero quantity",
			mut: func(o *domain.Order) {
				o.Items[1] = o.Items[1].WithQuantity(0)
				o.Total = domain.SumLineTotals(o.Items)
			},
			want: domain.ErrInvalidQuantity,
		},
		{
			name: "duplicate product",
			mut: func(o *domain.Order) {
				o.Items = append(o.Items, o.Items[0])
				o.Total = domain.SumLineTotals(o.Items)
			},
			want: domain.ErrDuplicateLine,
		},
		{
			name: "total mismatch",
			mut:  func(o *domain.Order) { o.Total = o.Total.Add(decimal.NewFromInt(1)) },
			want: domain.ErrTotalMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
			found := false
			for _, err := range errs {
				if errors.Is(err, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestOrderItemLookup(t *testing.T) {
	order := makeOrder()

	item, ok := order.Item("p-2")
	if !ok || item.ProductName != "Cake" {
		t.Fatalf("expected Cake line, got %+v ok=%v", item, ok)
	}
	if _, ok := order.Item("missing"); ok {
		t.Fatal("expected no line for unknown product")
	}
}
