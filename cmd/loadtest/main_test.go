package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/reconcile"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/transport/httpapi"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.baseURL != "http://localhost:8080" || cfg.mode != modeCreate || cfg.total != 400 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.totalSet {
		t.Fatal("total must not be marked as explicitly set")
	}
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-url", "http://pos:8080/",
		"-mode", "create-update-delete",
		"-duration", "3s",
		"-total", "50",
		"-stock", "10",
		"-delete-restocks",
	})
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.baseURL != "http://pos:8080" {
		t.Fatalf("trailing slash must be trimmed: %s", cfg.baseURL)
	}
	if cfg.mode != modeCreateUpdateDelete || !cfg.totalSet || !cfg.restocks || cfg.stock != 10 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if runTarget(cfg) != "duration:3s,max-total:50" {
		t.Fatalf("unexpected run target: %s", runTarget(cfg))
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "mode", args: []string{"-mode", "pay"}, want: "unsupported mode"},
		{name: "url", args: []string{"-url", " "}, want: "url is required"},
		{name: "negative duration", args: []string{"-duration", "-1s"}, want: "duration must be >= 0"},
		{name: "zero total", args: []string{"-total", "0"}, want: "total must be > 0"},
		{name: "zero total with duration", args: []string{"-total", "0", "-duration", "1s"}, want: "explicitly set"},
		{name: "concurrency", args: []string{"-concurrency", "0"}, want: "concurrency must be > 0"},
		{name: "timeout", args: []string{"-timeout", "0s"}, want: "timeout must be > 0"},
		{name: "quantity", args: []string{"-quantity", "0"}, want: "quantity must be > 0"},
		{name: "stock", args: []string{"-stock", "-1"}, want: "stock must be >= 0"},
		{name: "cashier", args: []string{"-cashier", ""}, want: "cashier is required"},
		{name: "product", args: []string{"-product", ""}, want: "product is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if got := percentile(values, 50); got != 3 {
		t.Fatalf("unexpected p50: %v", got)
	}
	if got := percentile(values, 95); math.Abs(got-4.8) > 1e-9 {
		t.Fatalf("unexpected p95: %v", got)
	}
	if got := percentile(nil, 99); got != 0 {
		t.Fatalf("unexpected empty percentile: %v", got)
	}
}

func TestCollector_StockRejectionIsNotFailure(t *testing.T) {
	col := newCollector()
	col.record("CreateOrder", time.Millisecond, http.StatusCreated)
	col.record("CreateOrder", time.Millisecond, http.StatusUnprocessableEntity)
	col.record("CreateOrder", time.Millisecond, 0)
	col.record(scenarioMethod, time.Millisecond, http.StatusInternalServerError)
	col.sold.Add(5)

	result := col.buildReport(time.Now(), time.Second, 4)
	create := result.Methods["CreateOrder"]
	if create.Success != 2 || create.Failed != 1 {
		t.Fatalf("unexpected create stats: %+v", create)
	}
	if create.Codes["transport_error"] != 1 || create.Codes["422"] != 1 {
		t.Fatalf("unexpected codes: %+v", create.Codes)
	}
	if result.FailedScenarios != 1 || result.ErrorRate != 1 {
		t.Fatalf("unexpected scenario stats: %+v", result)
	}
	if !result.Oversold {
		t.Fatal("5 sold units over stock 4 must be reported as oversell")
	}
}

// newTestService поднимает HTTP API поверх in-memory хранилищ.
func newTestService(t *testing.T, stock int64, policy reconcile.DeletePolicy) (*httptest.Server, *memory.ProductCatalog) {
	t.Helper()

	catalog := memory.NewProductCatalog(domain.Product{ID: "P1", Name: "Coffee", Price: decimal.RequireFromString("2.50"), Stock: stock})
	engine := reconcile.NewEngine(reconcile.Dependencies{
		Orders:   memory.NewOrderStore(),
		Catalog:  catalog,
		Cashiers: memory.NewCashierDirectory(domain.Cashier{ID: "C1", Name: "Alice"}),
		Outbox:   memory.NewOutboxRepository(),
		Timeline: memory.NewTimelineRepository(),
	},
		reconcile.WithDeletePolicy(policy),
		reconcile.WithRetryConfig(reconcile.RetryConfig{
			MaxAttempts:   200,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 1.5,
		}),
	)
	handler := httpapi.NewHandler(engine, httpapi.WithIdempotency(memory.NewIdempotencyRepository(), time.Hour))
	srv := httptest.NewServer(httpapi.NewRouter(handler, httpapi.RouterConfig{}))
	t.Cleanup(srv.Close)
	return srv, catalog
}

func remainingStock(t *testing.T, catalog *memory.ProductCatalog) int64 {
	t.Helper()
	p, err := catalog.GetProduct(context.Background(), "P1")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	return p.Stock
}

func loadConfig(baseURL string, mode loadMode, total int, stock int64) config {
	return config{
		baseURL:     baseURL,
		total:       total,
		concurrency: 8,
		timeout:     5 * time.Second,
		mode:        mode,
		cashierID:   "C1",
		productID:   "P1",
		quantity:    1,
		stock:       stock,
	}
}

func TestRunLoad_CreateNeverOversells(t *testing.T) {
	srv, catalog := newTestService(t, 10, reconcile.DeleteKeepStock)

	result := runLoad(context.Background(), srv.Client(), loadConfig(srv.URL, modeCreate, 30, 10))

	if result.FailedScenarios != 0 {
		t.Fatalf("unexpected failed scenarios: %+v", result.Methods)
	}
	if result.Oversold || result.SoldUnits > 10 {
		t.Fatalf("oversell detected: sold=%d", result.SoldUnits)
	}
	if got := remainingStock(t, catalog); got+result.SoldUnits != 10 {
		t.Fatalf("stock accounting mismatch: remaining=%d sold=%d", got, result.SoldUnits)
	}
	if result.SoldUnits+result.RejectedByStock != 30 {
		t.Fatalf("every scenario must either sell or be rejected: %+v", result)
	}
}

func TestRunLoad_CreateUpdateDeleteWithRestock(t *testing.T) {
	srv, catalog := newTestService(t, 100, reconcile.DeleteRestock)

	cfg := loadConfig(srv.URL, modeCreateUpdateDelete, 20, 100)
	cfg.restocks = true
	result := runLoad(context.Background(), srv.Client(), cfg)

	if result.FailedScenarios != 0 {
		t.Fatalf("unexpected failed scenarios: %+v", result.Methods)
	}
	if result.SoldUnits != 0 {
		t.Fatalf("all orders were deleted with restock, sold=%d", result.SoldUnits)
	}
	if got := remainingStock(t, catalog); got != 100 {
		t.Fatalf("stock must be fully restored, got %d", got)
	}
	for _, name := range []string{"CreateOrder", "UpdateOrder", "DeleteOrder"} {
		if result.Methods[name].Calls != 20 {
			t.Fatalf("unexpected %s calls: %+v", name, result.Methods[name])
		}
	}
}

func TestRunLoad_UnreachableServiceFails(t *testing.T) {
	cfg := loadConfig("http://127.0.0.1:1", modeCreate, 3, 0)
	cfg.concurrency = 1
	cfg.timeout = 200 * time.Millisecond

	result := runLoad(context.Background(), http.DefaultClient, cfg)
	if result.FailedScenarios != 3 {
		t.Fatalf("expected all scenarios to fail, got %+v", result)
	}
	if result.Methods["CreateOrder"].Codes["transport_error"] != 3 {
		t.Fatalf("unexpected codes: %+v", result.Methods["CreateOrder"].Codes)
	}
}

func TestDispatchJobs_DurationBoundedByTotal(t *testing.T) {
	jobs := make(chan int, 10)
	dispatchJobs(jobs, config{duration: time.Minute, total: 3, totalSet: true})

	var got []int
	for id := range jobs {
		got = append(got, id)
	}
	if len(got) != 3 {
		t.Fatalf("unexpected jobs: %v", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if err := writeJSONReport("report.json", report{TotalScenarios: 7}); err != nil {
		t.Fatalf("writeJSONReport failed: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("read report failed: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.TotalScenarios != 7 {
		t.Fatalf("unexpected report: %s (%v)", raw, err)
	}

	if err := writeJSONReport("../escape.json", report{}); err == nil {
		t.Fatal("expected error for path outside current directory")
	}
	if err := writeJSONReport(".", report{}); err == nil {
		t.Fatal("expected error for directory path")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, report{
		TotalScenarios: 2,
		SoldUnits:      2,
		Methods: map[string]methodReport{
			scenarioMethod: {Calls: 2},
			"CreateOrder":  {Calls: 2, Success: 2},
		},
	}, config{mode: modeCreate, total: 2})

	out := buf.String()
	for _, want := range []string{"mode=create run=count:2", "sold=2 rejected=0 oversold=false", "CreateOrder: calls=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report output %q does not contain %q", out, want)
		}
	}
	if strings.Contains(out, "scenario: calls") {
		t.Fatal("scenario row must not be printed as a method")
	}
}
