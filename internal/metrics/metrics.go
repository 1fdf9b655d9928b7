// Package metrics содержит prometheus коллекторы сервиса.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StorageOperationDuration время операций с хранилищем по бэкенду и операции
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_storage_operation_duration_seconds",
			Help:    "Duration of storage backend operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend", "operation"},
	)

	// StorageOperationErrors ошибки хранилища, кроме not found и precondition
	StorageOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_storage_operation_errors_total",
			Help: "Total number of failed storage backend operations",
		},
		[]string{"backend", "operation"},
	)

	// StorageFallbackTotal операции, ушедшие в резервное хранилище
	StorageFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_storage_fallback_total",
			Help: "Total number of storage operations served by the secondary backend",
		},
		[]string{"operation"},
	)

	// CircuitBreakerState 0 = closed, 1 = half-open, 2 = open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// ItemStoreRetries повторы read-modify-write из-за конкурентной записи
	ItemStoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_item_store_cas_retries_total",
			Help: "Total number of compare-and-swap retries in the item store",
		},
		[]string{"collection"},
	)

	ApiKeyValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_api_key_validations_total",
			Help: "Total number of API key validations by result",
		},
		[]string{"result"},
	)

	EmailNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_email_notifications_total",
			Help: "Total number of email notifications by transport and result",
		},
		[]string{"transport", "result"},
	)
)

// ObserveStorage записывает длительность и результат операции хранилища
func ObserveStorage(backend, operation string, start time.Time, failed bool) {
	StorageOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if failed {
		StorageOperationErrors.WithLabelValues(backend, operation).Inc()
	}
}
