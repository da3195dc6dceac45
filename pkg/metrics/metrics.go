// Package metrics provides Prometheus metrics for the memory engine.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector on a private registry.
type PrometheusCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	storageCount      *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// NewPrometheusCollector creates a collector with its own registry.
func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_operations_total",
			Help: "Total memory operations by type and status",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mnemo_operation_duration_seconds",
			Help:    "Duration of memory operations by type and stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"operation", "stage"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_errors_total",
			Help: "Total errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	storageCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mnemo_storage_count",
			Help: "Current count of stored items by type",
		},
		[]string{"type"},
	)

	registry.MustRegister(operationsTotal, operationDuration, errorsTotal, storageCount)

	return &PrometheusCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		storageCount:      storageCount,
		registry:          registry,
	}
}

// Registry exposes the underlying registry for scraping.
func (m *PrometheusCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusCollector) RecordOperation(_ context.Context, operation, status string, _ int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *PrometheusCollector) RecordStage(_ context.Context, operation, stage string, durationMs int64) {
	m.operationDuration.WithLabelValues(operation, stage).Observe(float64(durationMs) / 1000.0)
}

func (m *PrometheusCollector) RecordError(_ context.Context, operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

func (m *PrometheusCollector) SetStorageCount(_ context.Context, storageType string, count int64) {
	m.storageCount.WithLabelValues(storageType).Set(float64(count))
}
