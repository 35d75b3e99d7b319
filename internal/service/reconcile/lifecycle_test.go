package reconcile_test

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/reconcile"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
)

type productUpserter interface {
	domain.ProductCatalog
	Upsert(ctx context.Context, product domain.Product) error
}

type cashierUpserter interface {
	domain.CashierDirectory
	Upsert(ctx context.Context, cashier domain.Cashier) error
}

// backend — набор хранилищ, на которых гоняется жизненный цикл заказа.
type backend struct {
	orders   domain.OrderStore
	catalog  productUpserter
	cashiers cashierUpserter
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
}

// OrderLifecycleTestSuite проверяет полный цикл заказа поверх реальных хранилищ.
type OrderLifecycleTestSuite struct {
	suite.Suite
	newBackend func(t *testing.T) backend

	ctx     context.Context
	store   backend
	engine  *reconcile.Engine
	cashier string
	coffee  string
	bagel   string
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)

	s.ctx = context.Background()
	s.store = s.newBackend(s.T())

	// Уникальные идентификаторы позволяют делить базу с другими тестами.
	suffix := uuid.NewString()[:8]
	s.cashier = "C-" + suffix
	s.coffee = "COFFEE-" + suffix
	s.bagel = "BAGEL-" + suffix

	require.NoError(s.T(), s.store.cashiers.Upsert(s.ctx, domain.Cashier{ID: s.cashier, Name: "Alice"}))
	require.NoError(s.T(), s.store.catalog.Upsert(s.ctx, domain.Product{
		ID: s.coffee, Name: "Coffee", Price: decimal.RequireFromString("2.50"), Stock: 10,
	}))
	require.NoError(s.T(), s.store.catalog.Upsert(s.ctx, domain.Product{
		ID: s.bagel, Name: "Bagel", Price: decimal.RequireFromString("1.25"), Stock: 3,
	}))

	s.engine = reconcile.NewEngine(reconcile.Dependencies{
		Orders:   s.store.orders,
		Catalog:  s.store.catalog,
		Cashiers: s.store.cashiers,
		Outbox:   s.store.outbox,
		Timeline: s.store.timeline,
	},
		reconcile.WithLogger(baseLogger.WithField("component", "lifecycle-test")),
		reconcile.WithDeletePolicy(reconcile.DeleteRestock),
		reconcile.WithCodePrefix("T"+suffix),
		reconcile.WithRetryConfig(reconcile.RetryConfig{
			MaxAttempts:   100,
			InitialDelay:  time.Millisecond,
			MaxDelay:      10 * time.Millisecond,
			BackoffFactor: 1.5,
		}),
	)
}

func (s *OrderLifecycleTestSuite) stock(productID string) int64 {
	p, err := s.store.catalog.GetProduct(s.ctx, productID)
	require.NoError(s.T(), err)
	return p.Stock
}

func (s *OrderLifecycleTestSuite) TestCreateUpdateDelete() {
	t := s.T()

	order, err := s.engine.CreateOrder(s.ctx, s.cashier, []domain.RequestedLine{
		{ProductID: s.coffee, Quantity: 2},
		{ProductID: s.bagel, Quantity: 1},
	})
	require.NoError(t, err)
	require.True(t, order.Total.Equal(decimal.RequireFromString("6.25")), "total %s", order.Total)
	require.Equal(t, int64(8), s.stock(s.coffee))
	require.Equal(t, int64(2), s.stock(s.bagel))

	result, err := s.engine.UpdateOrder(s.ctx, order.ID, "", []domain.RequestedLine{
		{ProductID: s.coffee, Quantity: 1},
		{ProductID: s.bagel, Quantity: 3},
	})
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.True(t, result.Order.Total.Equal(decimal.RequireFromString("6.25")), "total %s", result.Order.Total)
	require.Equal(t, int64(9), s.stock(s.coffee))
	require.Equal(t, int64(0), s.stock(s.bagel))

	detail, err := s.engine.GetOrder(s.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, s.cashier, detail.Cashier.ID)
	require.Len(t, detail.Items, 2)

	require.NoError(t, s.engine.DeleteOrder(s.ctx, order.ID))
	require.Equal(t, int64(10), s.stock(s.coffee))
	require.Equal(t, int64(3), s.stock(s.bagel))

	_, err = s.engine.GetOrder(s.ctx, order.ID)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))

	events, err := s.engine.Timeline(s.ctx, order.ID)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	require.Equal(t, []string{domain.EventOrderCreated, domain.EventOrderAmended, domain.EventOrderDeleted}, types)
}

func (s *OrderLifecycleTestSuite) TestShortageLeavesStateUntouched() {
	t := s.T()

	order, err := s.engine.CreateOrder(s.ctx, s.cashier, []domain.RequestedLine{{ProductID: s.bagel, Quantity: 2}})
	require.NoError(t, err)

	_, err = s.engine.UpdateOrder(s.ctx, order.ID, "", []domain.RequestedLine{
		{ProductID: s.coffee, Quantity: 1},
		{ProductID: s.bagel, Quantity: 4},
	})
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	require.Equal(t, int64(10), s.stock(s.coffee))
	require.Equal(t, int64(1), s.stock(s.bagel))

	detail, err := s.engine.GetOrder(s.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	require.True(t, detail.Total.Equal(decimal.RequireFromString("2.50")))
}

func (s *OrderLifecycleTestSuite) TestNoOpUpdate() {
	t := s.T()

	order, err := s.engine.CreateOrder(s.ctx, s.cashier, []domain.RequestedLine{{ProductID: s.coffee, Quantity: 1}})
	require.NoError(t, err)

	result, err := s.engine.UpdateOrder(s.ctx, order.ID, s.cashier, []domain.RequestedLine{{ProductID: s.coffee, Quantity: 1}})
	require.NoError(t, err)
	require.False(t, result.Changed)
	require.Equal(t, domain.MessageOrderUnchanged, result.Message)
	require.Equal(t, int64(9), s.stock(s.coffee))
}

func (s *OrderLifecycleTestSuite) TestConcurrentCreatesNeverOversell() {
	t := s.T()

	const attempts = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.engine.CreateOrder(s.ctx, s.cashier, []domain.RequestedLine{{ProductID: s.bagel, Quantity: 1}})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.Equal(t, domain.KindValidation, domain.KindOf(err), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	require.Equal(t, 3, created)
	require.Equal(t, int64(0), s.stock(s.bagel))
}

func (s *OrderLifecycleTestSuite) TestAmendsFromTwoInstancesConserveStock() {
	t := s.T()

	// Второй движок поверх тех же хранилищ, без общих блокировок в памяти.
	other := reconcile.NewEngine(reconcile.Dependencies{
		Orders:   s.store.orders,
		Catalog:  s.store.catalog,
		Cashiers: s.store.cashiers,
		Outbox:   s.store.outbox,
		Timeline: s.store.timeline,
	},
		reconcile.WithDeletePolicy(reconcile.DeleteRestock),
		reconcile.WithRetryConfig(reconcile.RetryConfig{
			MaxAttempts:   100,
			InitialDelay:  time.Millisecond,
			MaxDelay:      10 * time.Millisecond,
			BackoffFactor: 1.5,
		}),
	)

	for round := 0; round < 10; round++ {
		order, err := s.engine.CreateOrder(s.ctx, s.cashier, []domain.RequestedLine{{ProductID: s.coffee, Quantity: 3}})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i, engine := range []*reconcile.Engine{s.engine, other} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := engine.UpdateOrder(s.ctx, order.ID, "", []domain.RequestedLine{{ProductID: s.coffee, Quantity: int32(5 - i)}})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		detail, err := s.engine.GetOrder(s.ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, detail.Items, 1)
		require.Equal(t, int64(10), s.stock(s.coffee)+int64(detail.Items[0].Quantity), "round %d", round)

		require.NoError(t, other.DeleteOrder(s.ctx, order.ID))
		require.Equal(t, int64(10), s.stock(s.coffee), "round %d", round)
	}
}

func (s *OrderLifecycleTestSuite) TestListByCashier() {
	t := s.T()

	for range 3 {
		_, err := s.engine.CreateOrder(s.ctx, s.cashier, []domain.RequestedLine{{ProductID: s.coffee, Quantity: 1}})
		require.NoError(t, err)
	}

	page, err := s.engine.ListOrders(s.ctx, domain.OrderQuery{
		Filter: domain.Filter{Field: domain.FieldCashierID, Value: s.cashier},
		Sort:   domain.Sort{Field: domain.FieldCode, Direction: domain.SortDesc},
		Limit:  2,
	})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Orders, 2)
	require.Greater(t, page.Orders[0].Code, page.Orders[1].Code)
}

func TestOrderLifecycle_Memory(t *testing.T) {
	suite.Run(t, &OrderLifecycleTestSuite{newBackend: func(*testing.T) backend {
		return backend{
			orders:   memory.NewOrderStore(),
			catalog:  memory.NewProductCatalog(),
			cashiers: memory.NewCashierDirectory(),
			outbox:   memory.NewOutboxRepository(),
			timeline: memory.NewTimelineRepository(),
		}
	}})
}

func TestOrderLifecycle_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres lifecycle is skipped in short mode")
	}
	suite.Run(t, &OrderLifecycleTestSuite{newBackend: func(t *testing.T) backend {
		store := openPostgres(t)
		return backend{
			orders:   postgres.NewOrderStore(store),
			catalog:  postgres.NewProductCatalog(store),
			cashiers: postgres.NewCashierDirectory(store),
			outbox:   postgres.NewOutboxRepository(store),
			timeline: postgres.NewTimelineRepository(store),
		}
	}})
}

// openPostgres открывает хранилище в отдельной схеме, чтобы не делить таблицы с другими пакетами.
func openPostgres(t *testing.T) *postgres.Store {
	t.Helper()

	var openErrs []string
	for _, dsn := range []string{os.Getenv("POS_POSTGRES_TEST_DSN"), os.Getenv("POS_POSTGRES_DSN")} {
		dsn = strings.TrimSpace(dsn)
		if dsn == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		admin, err := postgres.Open(ctx, dsn)
		if err != nil {
			cancel()
			openErrs = append(openErrs, fmt.Sprintf("%s: %v", dsn, err))
			continue
		}
		schema := "pos_lifecycle_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
		_, err = admin.DB().ExecContext(ctx, "CREATE SCHEMA "+schema)
		require.NoError(t, err)
		store, err := postgres.Open(ctx, withSearchPath(dsn, schema))
		require.NoError(t, err)
		require.NoError(t, store.MigrateUp(ctx, 0))
		cancel()

		t.Cleanup(func() {
			_ = store.Close()
			_, _ = admin.DB().ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
			_ = admin.Close()
		})
		return store
	}
	t.Skipf("postgres is not available: %s", strings.Join(openErrs, " | "))
	return nil
}

func withSearchPath(dsn, schema string) string {
	if u, err := url.Parse(dsn); err == nil && (u.Scheme == "postgres" || u.Scheme == "postgresql") {
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return dsn + " search_path=" + schema
}
