package app

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/reconcile"
)

// createEngine собирает движок сверки поверх выбранных хранилищ.
// tp == nil оставляет глобальный провайдер трейсов.
func createEngine(cfg Config, deps *runtimeDependencies, registerer prometheus.Registerer, tp trace.TracerProvider, logger *log.Entry) *reconcile.Engine {
	retry := reconcile.DefaultRetryConfig()
	if cfg.StockRetryAttempts > 0 {
		retry.MaxAttempts = cfg.StockRetryAttempts
	}

	opts := []reconcile.Option{
		reconcile.WithLogger(logger.WithField("component", "reconcile")),
		reconcile.WithMetrics(metrics.NewReconcileMetricsWithRegisterer(registerer)),
		reconcile.WithRetryConfig(retry),
		reconcile.WithDeletePolicy(cfg.DeletePolicy),
		reconcile.WithCodePrefix(cfg.OrderCodePrefix),
	}
	if tp != nil {
		opts = append(opts, reconcile.WithTracerProvider(tp))
	}

	return reconcile.NewEngine(reconcile.Dependencies{
		Orders:   deps.orders,
		Catalog:  deps.catalog,
		Cashiers: deps.cashiers,
		Outbox:   deps.outbox,
		Timeline: deps.timeline,
	}, opts...)
}
