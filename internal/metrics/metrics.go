// Package metrics provides centralized Prometheus metrics for the
// runtime core: transaction phase/retry counters, scheduler fire/overlap
// counters, and container validation counters, organized as lazy
// category managers behind a namespaced registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the central registry for all runtime-core Prometheus
// metrics, organized by category and lazily initialized on first access.
type Registry struct {
	namespace string

	transactionOnce sync.Once
	transaction     *TransactionMetrics

	schedulerOnce sync.Once
	scheduler     *SchedulerMetrics

	containerOnce sync.Once
	container     *ContainerMetrics

	adapterOnce sync.Once
	adapter     *AdapterMetrics
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton Registry under the
// "katalyst" namespace.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry("katalyst")
	})
	return defaultRegistry
}

// NewRegistry creates a Registry scoped to namespace.
func NewRegistry(namespace string) *Registry {
	if namespace == "" {
		namespace = "katalyst"
	}
	return &Registry{namespace: namespace}
}

// Transaction returns the lazily-initialized transaction metrics.
func (r *Registry) Transaction() *TransactionMetrics {
	r.transactionOnce.Do(func() {
		r.transaction = newTransactionMetrics(r.namespace)
	})
	return r.transaction
}

// Scheduler returns the lazily-initialized scheduler metrics.
func (r *Registry) Scheduler() *SchedulerMetrics {
	r.schedulerOnce.Do(func() {
		r.scheduler = newSchedulerMetrics(r.namespace)
	})
	return r.scheduler
}

// Container returns the lazily-initialized container/validation metrics.
func (r *Registry) Container() *ContainerMetrics {
	r.containerOnce.Do(func() {
		r.container = newContainerMetrics(r.namespace)
	})
	return r.container
}

// Adapter returns the lazily-initialized persistence adapter metrics.
func (r *Registry) Adapter() *AdapterMetrics {
	r.adapterOnce.Do(func() {
		r.adapter = newAdapterMetrics(r.namespace)
	})
	return r.adapter
}

// TransactionMetrics tracks TransactionManager phase dispatch, retries,
// and outcomes.
type TransactionMetrics struct {
	PhasesTotal     *prometheus.CounterVec
	OutcomesTotal   *prometheus.CounterVec
	RetryAttempts   *prometheus.CounterVec
	RetryBackoff    *prometheus.HistogramVec
	DurationSeconds *prometheus.HistogramVec
}

func newTransactionMetrics(namespace string) *TransactionMetrics {
	return &TransactionMetrics{
		PhasesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "phase_dispatch_total",
			Help:      "Hook phase dispatches by phase name.",
		}, []string{"phase"}),
		OutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "outcomes_total",
			Help:      "Transaction outcomes (committed, rolled_back, timed_out).",
		}, []string{"outcome"}),
		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "retry_attempts_total",
			Help:      "Retry attempts by classified error type.",
		}, []string{"error_type"}),
		RetryBackoff: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "retry_backoff_seconds",
			Help:      "Computed backoff delay before a retry attempt.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"strategy"}),
		DurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "duration_seconds",
			Help:      "Total wall-clock duration of a transaction, across all attempts.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"outcome"}),
	}
}

func (m *TransactionMetrics) RecordPhase(phase string) {
	if m == nil {
		return
	}
	m.PhasesTotal.WithLabelValues(phase).Inc()
}

func (m *TransactionMetrics) RecordOutcome(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(outcome).Inc()
	m.DurationSeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

func (m *TransactionMetrics) RecordRetry(errorType, strategy string, backoffSeconds float64) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(errorType).Inc()
	m.RetryBackoff.WithLabelValues(strategy).Observe(backoffSeconds)
}

// SchedulerMetrics tracks cron/fixed-delay task fires, overlaps, and
// outcomes.
type SchedulerMetrics struct {
	FiresTotal     *prometheus.CounterVec
	OverlapsTotal  *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	ConsecutiveErr *prometheus.GaugeVec
}

func newSchedulerMetrics(namespace string) *SchedulerMetrics {
	return &SchedulerMetrics{
		FiresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "fires_total",
			Help:      "Scheduled task fires by task name and outcome.",
		}, []string{"task", "outcome"}),
		OverlapsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "overlaps_skipped_total",
			Help:      "Fires skipped because the previous run for the handle was still active.",
		}, []string{"task"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of a completed task run.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 60},
		}, []string{"task"}),
		ConsecutiveErr: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "consecutive_failures",
			Help:      "Current consecutive failure count per task.",
		}, []string{"task"}),
	}
}

func (m *SchedulerMetrics) RecordFire(task, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.FiresTotal.WithLabelValues(task, outcome).Inc()
	if outcome != "overlap" {
		m.RunDuration.WithLabelValues(task).Observe(durationSeconds)
	}
}

func (m *SchedulerMetrics) RecordOverlap(task string) {
	if m == nil {
		return
	}
	m.OverlapsTotal.WithLabelValues(task).Inc()
}

func (m *SchedulerMetrics) SetConsecutiveFailures(task string, count int) {
	if m == nil {
		return
	}
	m.ConsecutiveErr.WithLabelValues(task).Set(float64(count))
}

// AdapterMetrics tracks a registered persistence adapter: pool
// connection attempts, driver begin/commit/rollback calls, open
// connections, and the last health probe result.
type AdapterMetrics struct {
	ConnectsTotal *prometheus.CounterVec
	DriverCalls   *prometheus.CounterVec
	OpenConns     prometheus.Gauge
	Healthy       prometheus.Gauge
}

func newAdapterMetrics(namespace string) *AdapterMetrics {
	return &AdapterMetrics{
		ConnectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "connects_total",
			Help:      "Pool connection attempts by outcome (success, failure).",
		}, []string{"outcome"}),
		DriverCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "driver_calls_total",
			Help:      "Driver transaction calls by operation (begin, commit, rollback).",
		}, []string{"op"}),
		OpenConns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "open_connections",
			Help:      "Connections currently held by the adapter's pool.",
		}),
		Healthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "healthy",
			Help:      "1 when the last health probe succeeded, 0 otherwise.",
		}),
	}
}

func (m *AdapterMetrics) RecordConnect(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.ConnectsTotal.WithLabelValues(outcome).Inc()
}

func (m *AdapterMetrics) RecordDriverCall(op string) {
	if m == nil {
		return
	}
	m.DriverCalls.WithLabelValues(op).Inc()
}

func (m *AdapterMetrics) SetOpenConns(n int) {
	if m == nil {
		return
	}
	m.OpenConns.Set(float64(n))
}

func (m *AdapterMetrics) SetHealthy(ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1.0
	}
	m.Healthy.Set(v)
}

// ContainerMetrics tracks discovery and validation outcomes.
type ContainerMetrics struct {
	DiscoveredTotal prometheus.Gauge
	ValidationErr   *prometheus.CounterVec
}

func newContainerMetrics(namespace string) *ContainerMetrics {
	return &ContainerMetrics{
		DiscoveredTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "container",
			Name:      "discovered_components",
			Help:      "Number of components discovered and registered.",
		}),
		ValidationErr: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "container",
			Name:      "validation_errors_total",
			Help:      "Validation errors by error taxonomy kind (e.g. VALIDATION).",
		}, []string{"kind"}),
	}
}

func (m *ContainerMetrics) SetDiscovered(n int) {
	if m == nil {
		return
	}
	m.DiscoveredTotal.Set(float64(n))
}

func (m *ContainerMetrics) RecordValidationError(kind string) {
	if m == nil {
		return
	}
	m.ValidationErr.WithLabelValues(kind).Inc()
}
