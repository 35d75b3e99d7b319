package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pos/internal/service/outbox"
	"github.com/vladislavdragonenkov/pos/internal/tracing"
	"github.com/vladislavdragonenkov/pos/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/pos/internal/version"
)

const serviceName = "pos-service"

// application — собранный сервис: хранилища, движок, HTTP и фоновые воркеры.
type application struct {
	cfg    Config
	logger *log.Entry

	deps     *runtimeDependencies
	producer *kafka.Producer
	registry *prometheus.Registry
	health   *healthcheck.Handler

	api           http.Handler
	outboxWorker  *outbox.Worker
	cleanupWorker *idempotency.CleanupWorker

	shutdownTracing tracing.ShutdownFunc
}

func newApplication(ctx context.Context, cfg Config, logger *log.Entry) (_ *application, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	a := &application{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tp, shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	a.shutdownTracing = shutdownTracing
	if tp != nil {
		logger.WithField("endpoint", cfg.OTLPEndpoint).Info("otlp tracing enabled")
	}

	a.deps, err = initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.health = healthcheck.NewHandler(version.GetVersion())
	for name, checker := range a.deps.checkers {
		a.health.RegisterChecker(name, checker)
	}

	var engineTP trace.TracerProvider
	if tp != nil {
		engineTP = tp
	}
	engine := createEngine(cfg, a.deps, a.registry, engineTP, logger)

	handler := httpapi.NewHandler(engine,
		httpapi.WithLogger(logger.WithField("component", "http-api")),
		httpapi.WithIdempotency(a.deps.idempotency, cfg.IdempotencyTTL),
	)
	a.api = httpapi.NewRouter(handler, httpapi.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger.WithField("component", "http"),
	})

	// Без Kafka приложение работает, события копятся в outbox.
	a.producer, _ = initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	if pubs := newEventPublishers(a.producer, cfg); pubs.events != nil {
		a.outboxWorker = outbox.NewWorker(a.deps.outbox, pubs.events,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetrics(a.registry)),
			outbox.WithDLQPublisher(pubs.dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
	} else {
		logger.Warn("kafka is not configured, order events stay in outbox")
	}

	a.cleanupWorker = idempotency.NewCleanupWorker(a.deps.idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(metrics.NewCleanupMetrics(a.registry)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	return a, nil
}

// metricsHandler отдаёт /metrics и health endpoints.
func (a *application) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	mux.Handle("/healthz", a.health)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", a.health.ReadinessHandler)
	return mux
}

// startWorkers запускает фоновые воркеры; stop отменяет их и ждёт завершения.
func (a *application) startWorkers(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if a.outboxWorker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.outboxWorker.Run(ctx)
		}()
	}
	if a.cleanupWorker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.cleanupWorker.Run(ctx)
		}()
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

func (a *application) close(ctx context.Context) {
	closeKafka(a.producer, a.logger)
	a.producer = nil
	if err := a.deps.Close(); err != nil {
		a.logger.WithError(err).Warn("failed to close storage")
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.WithError(err).Warn("failed to flush traces")
		}
		a.shutdownTracing = nil
	}
}

// Run поднимает HTTP API и сервер метрик и блокируется до отмены ctx или ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	a, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		a.close(context.Background())
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	metricsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiLis.Close()
		a.close(context.Background())
		return fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}

	apiSrv := &http.Server{Handler: a.api, ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Handler: a.metricsHandler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server, lis net.Listener) {
		logger.WithFields(log.Fields{"server": name, "addr": lis.Addr().String()}).Info("http server listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("api", apiSrv, apiLis)
	go serve("metrics", metricsSrv, metricsLis)

	stopWorkers := a.startWorkers(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("http server failed")
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdownHTTP(shutdownCtx, apiSrv, logger)
	stopWorkers()
	shutdownHTTP(shutdownCtx, metricsSrv, logger)
	a.close(shutdownCtx)

	logger.Info("сервис остановлен")
	return runErr
}

// shutdownHTTP останавливает сервер, дожидаясь активных запросов до дедлайна ctx.
func shutdownHTTP(ctx context.Context, srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
		_ = srv.Close()
	}
}
