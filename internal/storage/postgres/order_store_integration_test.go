package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func seedPostgresOrder(t *testing.T, store domain.OrderStore, id, code, cashier string, total string, createdAt time.Time) domain.Order {
	t.Helper()

	order := domain.Order{
		ID:        id,
		Code:      code,
		CashierID: cashier,
		Total:     decimal.RequireFromString(total),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	item := domain.LineItem{
		OrderID:     id,
		ProductID:   "P1",
		ProductName: "Espresso",
		UnitPrice:   order.Total,
		Quantity:    1,
		LineTotal:   order.Total,
	}
	err := store.WithinTx(context.Background(), func(tx domain.OrderStore) error {
		if err := tx.CreateOrder(context.Background(), order); err != nil {
			return err
		}
		return tx.CreateLineItems(context.Background(), []domain.LineItem{item})
	})
	require.NoError(t, err)
	order.Items = []domain.LineItem{item}
	return order
}

func TestOrderStore_PostgresCreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := NewOrderStore(openMigratedStore(t))

	now := time.Now().UTC().Round(time.Microsecond)
	seeded := seedPostgresOrder(t, store, "o1", "MID-10001", "C1", "100.00", now)

	got, err := store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, seeded.Code, got.Code)
	require.True(t, got.Total.Equal(seeded.Total))
	require.Len(t, got.Items, 1)
	require.Equal(t, int32(1), got.Items[0].Quantity)

	err = store.CreateOrder(ctx, domain.Order{ID: "o2", Code: "MID-10001", CashierID: "C1", CreatedAt: now, UpdatedAt: now})
	require.ErrorIs(t, err, domain.ErrOrderCodeTaken)

	item := got.Items[0].WithQuantity(3)
	err = store.WithinTx(ctx, func(tx domain.OrderStore) error {
		if err := tx.UpdateLineItem(ctx, item); err != nil {
			return err
		}
		if err := tx.ReassignCashier(ctx, "o1", "C2", now.Add(time.Second)); err != nil {
			return err
		}
		return tx.UpdateOrderTotal(ctx, "o1", item.LineTotal, now.Add(time.Second))
	})
	require.NoError(t, err)

	got, err = store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, "C2", got.CashierID)
	require.True(t, got.Total.Equal(decimal.RequireFromString("300")))
	require.Empty(t, got.ValidateInvariants())

	require.ErrorIs(t, store.CreateLineItems(ctx, []domain.LineItem{item}), domain.ErrDuplicateLine)
	require.ErrorIs(t, store.UpdateLineItem(ctx, domain.LineItem{OrderID: "o1", ProductID: "P9", Quantity: 1}), domain.ErrOrderNotFound)

	err = store.WithinTx(ctx, func(tx domain.OrderStore) error {
		if err := tx.DeleteLineItems(ctx, "o1"); err != nil {
			return err
		}
		return tx.DeleteOrder(ctx, "o1")
	})
	require.NoError(t, err)

	_, err = store.GetOrder(ctx, "o1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.ErrorIs(t, store.DeleteOrder(ctx, "o1"), domain.ErrOrderNotFound)

	// Код освобождается после удаления.
	seedPostgresOrder(t, store, "o3", "MID-10001", "C1", "1.00", now)
}

func TestOrderStore_PostgresWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewOrderStore(openMigratedStore(t))
	now := time.Now().UTC()

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx domain.OrderStore) error {
		if err := tx.CreateOrder(ctx, domain.Order{ID: "o1", Code: "MID-20000", CashierID: "C1", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetOrder(ctx, "o1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderStore_PostgresListFilterSortPaginate(t *testing.T) {
	ctx := context.Background()
	store := NewOrderStore(openMigratedStore(t))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 7; i++ {
		cashier := "alice"
		if i%2 == 0 {
			cashier = "BOB"
		}
		seedPostgresOrder(t, store, fmt.Sprintf("o%d", i), fmt.Sprintf("MID-1000%d", i), cashier,
			fmt.Sprintf("%d.50", 10-i), base.Add(time.Duration(i)*time.Minute))
	}

	first, err := store.ListOrders(ctx, domain.OrderQuery{Offset: 0, Limit: 5})
	require.NoError(t, err)
	require.Len(t, first, 5)
	require.Equal(t, "MID-10001", first[0].Code)
	require.Nil(t, first[0].Items)

	rest, err := store.ListOrders(ctx, domain.OrderQuery{Offset: 5, Limit: 5})
	require.NoError(t, err)
	require.Len(t, rest, 2)

	filter := domain.Filter{Field: domain.FieldCashierID, Value: "bob"}
	bob, err := store.ListOrders(ctx, domain.OrderQuery{Filter: filter, Limit: 10})
	require.NoError(t, err)
	require.Len(t, bob, 3)
	count, err := store.CountOrders(ctx, filter)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	byTotal, err := store.ListOrders(ctx, domain.OrderQuery{
		Sort:  domain.Sort{Field: domain.FieldTotal, Direction: domain.SortDesc},
		Limit: 10,
	})
	require.NoError(t, err)
	require.Equal(t, "o1", byTotal[0].ID)
	require.Equal(t, "o7", byTotal[len(byTotal)-1].ID)

	// Спецсимволы LIKE экранируются.
	none, err := store.CountOrders(ctx, domain.Filter{Field: domain.FieldCode, Value: "%"})
	require.NoError(t, err)
	require.Zero(t, none)

	byDate, err := store.CountOrders(ctx, domain.Filter{Field: domain.FieldCreatedAt, Value: "2026-03-01T12:03"})
	require.NoError(t, err)
	require.Equal(t, 1, byDate)
}

func TestOrderStore_PostgresLockOrderSerializesTransactions(t *testing.T) {
	ctx := context.Background()
	store := NewOrderStore(openMigratedStore(t))
	seedPostgresOrder(t, store, "o-lock", "MID-20001", "C1", "5.00", time.Now().UTC())

	locked := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- store.WithinTx(ctx, func(tx domain.OrderStore) error {
			if _, err := tx.LockOrder(ctx, "o-lock"); err != nil {
				return err
			}
			close(locked)
			<-release
			return tx.ReassignCashier(ctx, "o-lock", "C2", time.Now().UTC())
		})
	}()
	<-locked

	secondSaw := make(chan string, 1)
	go func() {
		_ = store.WithinTx(ctx, func(tx domain.OrderStore) error {
			order, err := tx.LockOrder(ctx, "o-lock")
			if err != nil {
				secondSaw <- err.Error()
				return err
			}
			secondSaw <- order.CashierID
			return nil
		})
	}()

	select {
	case got := <-secondSaw:
		t.Fatalf("second transaction must wait for the lock, got %q", got)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-firstDone)
	select {
	case got := <-secondSaw:
		require.Equal(t, "C2", got)
	case <-time.After(5 * time.Second):
		t.Fatal("second transaction did not acquire the lock")
	}

	// Вне транзакции LockOrder только читает.
	order, err := store.LockOrder(ctx, "o-lock")
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
}
