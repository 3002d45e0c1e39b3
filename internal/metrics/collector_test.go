package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestCollector_RecordExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWith("consultnet", reg, zap.NewNop())

	c.RecordExecution("tax-specialist", "success", 120*time.Millisecond, 1.5)
	c.RecordExecution("tax-specialist", "success", 80*time.Millisecond, 0.5)
	c.RecordExecution("tax-specialist", "error", 10*time.Millisecond, 0)

	if got := testutil.ToFloat64(c.executionsTotal.WithLabelValues("tax-specialist", "success")); got != 2 {
		t.Errorf("success executions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.executionsTotal.WithLabelValues("tax-specialist", "error")); got != 1 {
		t.Errorf("error executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.executionCost.WithLabelValues("tax-specialist")); got != 2 {
		t.Errorf("cost = %v, want 2", got)
	}
}

func TestCollector_Gauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWith("consultnet", reg, zap.NewNop())

	c.SetWorkerLoad("legal-specialist", 3, 10)
	c.SetQueueDepth(7)
	c.SetPendingMessages(2)

	if got := testutil.ToFloat64(c.workerLoad.WithLabelValues("legal-specialist")); got != 3 {
		t.Errorf("load = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.workerCapacity.WithLabelValues("legal-specialist")); got != 10 {
		t.Errorf("capacity = %v, want 10", got)
	}
	if got := testutil.ToFloat64(c.queueDepth); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(c.messagesPending); got != 2 {
		t.Errorf("pending messages = %v, want 2", got)
	}
}

func TestCollector_MetricNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWith("consultnet", reg, zap.NewNop())

	c.RecordExecution("w", "success", time.Millisecond, 0)
	c.SetWorkerLoad("w", 1, 10)
	c.RecordStatusTransition("w", "error")

	expected := `
		# HELP consultnet_worker_status_transitions_total Total number of worker status transitions
		# TYPE consultnet_worker_status_transitions_total counter
		consultnet_worker_status_transitions_total{to_status="error",worker="w"} 1
	`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"consultnet_worker_status_transitions_total"); err != nil {
		t.Errorf("unexpected metric output: %v", err)
	}
}
