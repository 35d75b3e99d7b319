package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
)

const testSeed = `{
	"products": [
		{"id": "P1", "name": "Espresso", "price": "100", "stock": 10},
		{"id": "P2", "name": "Croissant", "price": 2.5, "stock": 4}
	],
	"cashiers": [
		{"id": "C1", "name": "Alice"},
		{"id": "C2", "name": "Bob"}
	]
}`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testLogger(name string) *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return logger.WithField("test", name)
}

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	deps, err := initRuntimeDependencies(context.Background(), DefaultConfig(), testLogger("memory"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	require.NotNil(t, deps.orders)
	require.NotNil(t, deps.catalog)
	require.NotNil(t, deps.cashiers)
	require.NotNil(t, deps.outbox)
	require.NotNil(t, deps.timeline)
	require.NotNil(t, deps.idempotency)
	require.Empty(t, deps.checkers, "memory storage has nothing to probe")
}

func TestInitRuntimeDependencies_SeedsCatalog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CatalogSeedPath = writeSeed(t, testSeed)

	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger("seed"))
	require.NoError(t, err)

	ctx := context.Background()
	p2, err := deps.catalog.GetProduct(ctx, "P2")
	require.NoError(t, err)
	require.Equal(t, "Croissant", p2.Name)
	require.Equal(t, "2.5", p2.Price.String())
	require.Equal(t, int64(4), p2.Stock)

	cashier, err := deps.cashiers.GetCashier(ctx, "C2")
	require.NoError(t, err)
	require.Equal(t, "Bob", cashier.Name)
}

func TestInitRuntimeDependencies_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "postgres requires dsn", mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres }, wantErr: envPostgresDSN},
		{name: "unsupported driver", mutate: func(c *Config) { c.StorageDriver = "sqlite" }, wantErr: "unsupported storage driver"},
		{name: "missing seed file", mutate: func(c *Config) { c.CatalogSeedPath = filepath.Join(t.TempDir(), "nope.json") }, wantErr: "read catalog seed"},
		{name: "redis unreachable", mutate: func(c *Config) {
			c.CatalogDriver = CatalogDriverRedis
			c.RedisAddr = "127.0.0.1:1"
		}, wantErr: "connect redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger(tt.name))
			require.ErrorContains(t, err, tt.wantErr)
			require.Nil(t, deps)
		})
	}
}

func TestParseSeed(t *testing.T) {
	seed, err := parseSeed([]byte(testSeed))
	require.NoError(t, err)
	require.Len(t, seed.Products, 2)
	require.Len(t, seed.Cashiers, 2)
	require.Equal(t, "100", seed.Products[0].Price.String())

	invalid := map[string]string{
		"broken json":    `{"products": [`,
		"product no id":  `{"products": [{"name": "x", "price": "1", "stock": 1}]}`,
		"negative stock": `{"products": [{"id": "P1", "price": "1", "stock": -1}]}`,
		"negative price": `{"products": [{"id": "P1", "price": "-1", "stock": 1}]}`,
		"cashier no id":  `{"cashiers": [{"name": "Alice"}]}`,
	}
	for name, body := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := parseSeed([]byte(body))
			require.Error(t, err)
		})
	}
}

type readOnlyCatalog struct{ domain.ProductCatalog }

func TestSeedApply_RequiresUpsert(t *testing.T) {
	deps, err := initRuntimeDependencies(context.Background(), DefaultConfig(), testLogger("readonly"))
	require.NoError(t, err)

	seed, err := parseSeed([]byte(testSeed))
	require.NoError(t, err)

	err = seed.apply(context.Background(), readOnlyCatalog{deps.catalog}, deps.cashiers)
	require.ErrorContains(t, err, "does not support seeding")
}

func TestRuntimeDependencies_CloseReverseOrder(t *testing.T) {
	var order []string
	deps := &runtimeDependencies{closers: []func() error{
		func() error { order = append(order, "postgres"); return nil },
		func() error { order = append(order, "redis"); return errors.New("redis gone") },
	}}

	err := deps.Close()
	require.ErrorContains(t, err, "redis gone")
	require.Equal(t, []string{"redis", "postgres"}, order)
	require.NoError(t, deps.Close(), "second close is a no-op")

	var nilDeps *runtimeDependencies
	require.NoError(t, nilDeps.Close())
}

func TestInitRuntimeDependencies_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("POS_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("POS_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.CatalogDriver = CatalogDriverPostgres
	cfg.PostgresDSN = dsn

	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger("postgres"))
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })

	checker, ok := deps.checkers["postgres"]
	require.True(t, ok, "postgres checker must be registered")
	check := checker.Check(context.Background())
	require.Equal(t, healthcheck.StatusHealthy, check.Status, check.Message)
}
