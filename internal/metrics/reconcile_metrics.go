package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций сверки (значения label "result").
const (
	ResultOK          = "ok"
	ResultNoop        = "noop"
	ResultNotFound    = "not_found"
	ResultValidation  = "validation"
	ResultConflict    = "conflict"
	ResultUnavailable = "unavailable"
)

// Направления движения остатка.
const (
	DirectionDecrement = "decrement"
	DirectionRestock   = "restock"
)

// ReconcileMetrics содержит метрики движка сверки заказов и остатков.
type ReconcileMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec

	stockConflicts prometheus.Counter
	compensations  prometheus.Counter
	stockUnits     *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight prometheus.Gauge
}

// NewReconcileMetrics регистрирует метрики в DefaultRegisterer.
func NewReconcileMetrics() *ReconcileMetrics {
	return NewReconcileMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReconcileMetricsWithRegisterer позволяет тестам использовать отдельный реестр.
func NewReconcileMetricsWithRegisterer(registerer prometheus.Registerer) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconcileMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_order_operations_total",
			Help: "Total number of order operations by operation and result",
		}, []string{"operation", "result"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pos_order_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		stockConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_stock_conflicts_total",
			Help: "Total number of stale stock compare-and-set attempts",
		}),
		compensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_stock_compensations_total",
			Help: "Total number of stock rollbacks after a failed order write",
		}),
		stockUnits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_stock_units_total",
			Help: "Total number of stock units moved by direction",
		}, []string{"direction"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_order_operations_in_flight",
			Help: "Number of order operations currently running",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// ObserveOperation фиксирует результат и длительность операции.
func (m *ReconcileMetrics) ObserveOperation(operation, result string, duration time.Duration) {
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// OperationStarted увеличивает количество активных операций.
func (m *ReconcileMetrics) OperationStarted() {
	m.inFlight.Inc()
}

// OperationFinished уменьшает количество активных операций.
func (m *ReconcileMetrics) OperationFinished() {
	m.inFlight.Dec()
}

func (m *ReconcileMetrics) RecordStockConflict() {
	m.stockConflicts.Inc()
}

func (m *ReconcileMetrics) RecordCompensation() {
	m.compensations.Inc()
}

// RecordStockMovement учитывает сдвиг остатка: отрицательная дельта списывает, положительная возвращает.
func (m *ReconcileMetrics) RecordStockMovement(delta int64) {
	switch {
	case delta < 0:
		m.stockUnits.WithLabelValues(DirectionDecrement).Add(float64(-delta))
	case delta > 0:
		m.stockUnits.WithLabelValues(DirectionRestock).Add(float64(delta))
	}
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ReconcileMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ReconcileMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
