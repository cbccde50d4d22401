package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics содержит метрики циклов синхронизации.
// Все методы безопасны для nil-получателя: без метрик движок работает так же.
type SyncMetrics struct {
	cycles          *prometheus.CounterVec
	cyclesDropped   *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	cycleInProgress prometheus.Gauge
	lastSuccess     prometheus.Gauge

	orders         *prometheus.CounterVec
	tenantErrors   *prometheus.CounterVec
	tenantsSkipped *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	statusWrites   *prometheus.CounterVec
	eventFailures  prometheus.Counter
}

// NewSyncMetrics регистрирует метрики в DefaultRegisterer.
func NewSyncMetrics() *SyncMetrics {
	return NewSyncMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSyncMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация переиспользует уже существующие коллекторы.
func NewSyncMetricsWithRegisterer(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SyncMetrics{
		cycles: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersync_cycles_total",
			Help: "Total number of sync cycles grouped by result.",
		}, []string{"result"})),
		cyclesDropped: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersync_cycles_dropped_total",
			Help: "Triggers dropped because a cycle was already running.",
		}, []string{"reason"})),
		cycleDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ordersync_cycle_duration_seconds",
			Help:    "Duration of full sync cycles in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		})),
		cycleInProgress: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordersync_cycle_in_progress",
			Help: "1 while a sync cycle is running.",
		})),
		lastSuccess: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordersync_last_successful_cycle_timestamp_seconds",
			Help: "Unix time of the last cycle finished without tenant errors.",
		})),
		orders: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersync_orders_total",
			Help: "Processed orders grouped by enterprise and outcome.",
		}, []string{"enterprise", "outcome"})),
		tenantErrors: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersync_tenant_errors_total",
			Help: "Tenant blocks aborted grouped by enterprise and error kind.",
		}, []string{"enterprise", "kind"})),
		tenantsSkipped: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersync_tenants_skipped_total",
			Help: "Tenant blocks skipped because nothing was due.",
		}, []string{"enterprise"})),
		sessions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersync_erp_sessions_opened_total",
			Help: "ERP sessions opened grouped by enterprise.",
		}, []string{"enterprise"})),
		statusWrites: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersync_status_write_failures_total",
			Help: "Staging status writes that failed grouped by operation.",
		}, []string{"operation"})),
		eventFailures: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordersync_event_publish_failures_total",
			Help: "Sync events that could not be published.",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(fmt.Sprintf("register collector: %v", err))
		}
		existing, ok := alreadyRegistered.ExistingCollector.(T)
		if !ok {
			panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
		}
		return existing
	}
	return collector
}

// CycleStarted отмечает начало цикла.
func (m *SyncMetrics) CycleStarted() {
	if m == nil {
		return
	}
	m.cycleInProgress.Set(1)
}

// CycleFinished фиксирует результат и длительность цикла.
func (m *SyncMetrics) CycleFinished(duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.cycleInProgress.Set(0)
	m.cycleDuration.Observe(duration.Seconds())
	if failed {
		m.cycles.WithLabelValues("failed").Inc()
		return
	}
	m.cycles.WithLabelValues("ok").Inc()
	m.lastSuccess.SetToCurrentTime()
}

// CycleDropped считает пропущенный запуск.
func (m *SyncMetrics) CycleDropped(reason string) {
	if m == nil {
		return
	}
	m.cyclesDropped.WithLabelValues(reason).Inc()
}

// OrderProcessed считает результат обработки заказа.
func (m *SyncMetrics) OrderProcessed(enterprise, outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(enterprise, outcome).Inc()
}

// TenantFailed считает прерванный блок тенанта.
func (m *SyncMetrics) TenantFailed(enterprise, kind string) {
	if m == nil {
		return
	}
	m.tenantErrors.WithLabelValues(enterprise, kind).Inc()
}

// TenantSkipped считает тенанта без работы.
func (m *SyncMetrics) TenantSkipped(enterprise string) {
	if m == nil {
		return
	}
	m.tenantsSkipped.WithLabelValues(enterprise).Inc()
}

// SessionOpened считает открытую сессию ERP.
func (m *SyncMetrics) SessionOpened(enterprise string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(enterprise).Inc()
}

// StatusWriteFailed считает неудачную запись статуса в staging.
func (m *SyncMetrics) StatusWriteFailed(operation string) {
	if m == nil {
		return
	}
	m.statusWrites.WithLabelValues(operation).Inc()
}

// EventPublishFailed считает неотправленное событие.
func (m *SyncMetrics) EventPublishFailed() {
	if m == nil {
		return
	}
	m.eventFailures.Inc()
}
