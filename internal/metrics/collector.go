// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector gathers coordination metrics: executions, per-worker load,
// queue depth and message bus depth.
type Collector struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	executionCost     *prometheus.CounterVec

	workerLoad     *prometheus.GaugeVec
	workerCapacity *prometheus.GaugeVec
	statusChanges  *prometheus.CounterVec

	queueDepth      prometheus.Gauge
	messagesPending prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector registered on the default registerer.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWith creates a collector on an explicit registerer.
// Tests use this to avoid duplicate registration on the global registry.
func NewCollectorWith(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_executions_total",
			Help:      "Total number of worker executions",
		},
		[]string{"worker", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_execution_duration_seconds",
			Help:      "Worker execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"worker"},
	)

	c.executionCost = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_execution_cost_total",
			Help:      "Total reported execution cost",
		},
		[]string{"worker"},
	)

	c.workerLoad = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_current_load",
			Help:      "Current in-flight load per worker",
		},
		[]string{"worker"},
	)

	c.workerCapacity = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_max_load",
			Help:      "Maximum concurrent load per worker",
		},
		[]string{"worker"},
	)

	c.statusChanges = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_status_transitions_total",
			Help:      "Total number of worker status transitions",
		},
		[]string{"worker", "to_status"},
	)

	c.queueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Number of tasks waiting in the background queue",
		},
	)

	c.messagesPending = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_messages_pending",
			Help:      "Number of messages waiting on the internal bus",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordExecution records one worker execution.
func (c *Collector) RecordExecution(worker, status string, duration time.Duration, cost float64) {
	c.executionsTotal.WithLabelValues(worker, status).Inc()
	c.executionDuration.WithLabelValues(worker).Observe(duration.Seconds())
	if cost > 0 {
		c.executionCost.WithLabelValues(worker).Add(cost)
	}
}

// SetWorkerLoad records a worker's current and maximum load.
func (c *Collector) SetWorkerLoad(worker string, load, capacity int) {
	c.workerLoad.WithLabelValues(worker).Set(float64(load))
	c.workerCapacity.WithLabelValues(worker).Set(float64(capacity))
}

// RecordStatusTransition records a worker status change.
func (c *Collector) RecordStatusTransition(worker, toStatus string) {
	c.statusChanges.WithLabelValues(worker, toStatus).Inc()
}

// SetQueueDepth records the background queue depth.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// SetPendingMessages records the message bus depth.
func (c *Collector) SetPendingMessages(depth int) {
	c.messagesPending.Set(float64(depth))
}
