package network

import (
	"math"
	"sync"
	"time"

	"github.com/consultnet/consultnet/worker"
)

// NodeStatus is the lifecycle status of a coordinator-held worker node.
type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "active"
	NodeStatusBusy     NodeStatus = "busy"
	NodeStatusInactive NodeStatus = "inactive"
	NodeStatusError    NodeStatus = "error"
)

// PerformanceStats is a worker node's execution record.
type PerformanceStats struct {
	TotalExecutions   int64         `json:"total_executions"`
	ErrorCount        int64         `json:"error_count"`
	SuccessRate       float64       `json:"success_rate"`
	AvgExecutionTime  time.Duration `json:"avg_execution_time"`
	LastExecutionTime time.Duration `json:"last_execution_time"`
}

// AgentNode wraps a registered worker with the coordinator's bookkeeping:
// lifecycle status, load accounting, capability tags, and performance.
// The coordinator never mutates the worker itself.
type AgentNode struct {
	worker       worker.Worker
	capabilities map[string]struct{}
	maxLoad      int

	mu              sync.Mutex
	drained         *sync.Cond
	base            NodeStatus // active | inactive | error; busy is derived
	statusChangedAt time.Time
	currentLoad     int
	lastHealthCheck time.Time
	perf            PerformanceStats
}

// NewAgentNode creates a node for a worker. maxLoad <= 0 falls back to 10.
func NewAgentNode(w worker.Worker, capabilities []string, maxLoad int) *AgentNode {
	if maxLoad <= 0 {
		maxLoad = 10
	}

	caps := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		caps[c] = struct{}{}
	}

	now := time.Now()
	n := &AgentNode{
		worker:          w,
		capabilities:    caps,
		maxLoad:         maxLoad,
		base:            NodeStatusActive,
		statusChangedAt: now,
		lastHealthCheck: now,
		perf:            PerformanceStats{SuccessRate: 1.0},
	}
	n.drained = sync.NewCond(&n.mu)
	return n
}

// Worker returns the wrapped worker.
func (n *AgentNode) Worker() worker.Worker { return n.worker }

// Name returns the worker name.
func (n *AgentNode) Name() string { return n.worker.Name() }

// MaxLoad returns the concurrent load ceiling.
func (n *AgentNode) MaxLoad() int { return n.maxLoad }

// Capabilities returns the node's capability tags.
func (n *AgentNode) Capabilities() []string {
	tags := make([]string, 0, len(n.capabilities))
	for c := range n.capabilities {
		tags = append(tags, c)
	}
	return tags
}

// HasCapabilities reports whether the node carries every required tag.
func (n *AgentNode) HasCapabilities(required []string) bool {
	for _, tag := range required {
		if _, ok := n.capabilities[tag]; !ok {
			return false
		}
	}
	return true
}

// Status returns the node status. A node at its load ceiling reports busy;
// it reverts to active as soon as load drops, unless a health failure or
// unregistration set an overriding status.
func (n *AgentNode) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statusLocked()
}

func (n *AgentNode) statusLocked() NodeStatus {
	if n.base == NodeStatusActive && n.currentLoad >= n.maxLoad {
		return NodeStatusBusy
	}
	return n.base
}

// SetStatus overrides the node's base status (active, inactive, or error).
func (n *AgentNode) SetStatus(status NodeStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.base != status {
		n.base = status
		n.statusChangedAt = time.Now()
	}
}

// StatusAge returns how long the node has held its base status.
func (n *AgentNode) StatusAge() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return time.Since(n.statusChangedAt)
}

// CurrentLoad returns the in-flight load count.
func (n *AgentNode) CurrentLoad() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentLoad
}

// HasCapacity reports whether the node can accept one more task.
func (n *AgentNode) HasCapacity() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentLoad < n.maxLoad
}

// Acquire reserves one load slot. Fails when the node is not active or
// already at its ceiling.
func (n *AgentNode) Acquire() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.base != NodeStatusActive || n.currentLoad >= n.maxLoad {
		return false
	}
	n.currentLoad++
	return true
}

// Release frees one load slot. Every Acquire must be paired with exactly
// one Release on every exit path.
func (n *AgentNode) Release() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.currentLoad > 0 {
		n.currentLoad--
	}
	if n.currentLoad == 0 {
		n.drained.Broadcast()
	}
}

// WaitForDrain blocks until currentLoad reaches zero or the timeout fires.
// Returns false on timeout.
func (n *AgentNode) WaitForDrain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	expired := false

	// Wake the waiter when the deadline passes; Cond has no native timeout.
	timer := time.AfterFunc(timeout, func() {
		n.mu.Lock()
		expired = true
		n.mu.Unlock()
		n.drained.Broadcast()
	})
	defer timer.Stop()

	n.mu.Lock()
	defer n.mu.Unlock()

	for n.currentLoad > 0 && !expired && time.Now().Before(deadline) {
		n.drained.Wait()
	}
	return n.currentLoad == 0
}

// LastHealthCheck returns the last health check timestamp.
func (n *AgentNode) LastHealthCheck() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastHealthCheck
}

// TouchHealth refreshes the health check timestamp.
func (n *AgentNode) TouchHealth() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastHealthCheck = time.Now()
}

// SetLastHealthCheck sets the health check timestamp. Tests use this to
// simulate stale nodes.
func (n *AgentNode) SetLastHealthCheck(t time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastHealthCheck = t
}

// RecordExecution folds one execution outcome into the performance record.
// SuccessRate is recomputed as (total-errors)/total after every execution.
func (n *AgentNode) RecordExecution(duration time.Duration, success bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.perf.TotalExecutions++
	if !success {
		n.perf.ErrorCount++
	}
	n.perf.SuccessRate = float64(n.perf.TotalExecutions-n.perf.ErrorCount) / float64(n.perf.TotalExecutions)
	n.perf.LastExecutionTime = duration

	// Running average over all executions.
	total := n.perf.TotalExecutions
	n.perf.AvgExecutionTime = time.Duration(
		(int64(n.perf.AvgExecutionTime)*(total-1) + int64(duration)) / total,
	)
}

// Performance returns a copy of the performance record.
func (n *AgentNode) Performance() PerformanceStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.perf
}

// Score computes the routing score; lower is better. Load dominates,
// then reliability, then speed.
func (n *AgentNode) Score() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	loadFactor := float64(n.currentLoad) / float64(n.maxLoad)
	failureFactor := 1.0 - n.perf.SuccessRate
	timeFactor := math.Min(float64(n.perf.AvgExecutionTime.Milliseconds())/10000.0, 1e6)

	return 0.5*loadFactor + 0.3*failureFactor + 0.2*timeFactor
}
